package lock

import (
	"sync"
	"time"
)

// KeyedLock 按key串行化的锁表，用于实例级互斥
// 不同key之间完全并行，同一key上的持有者互斥
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   chan struct{} // 容量1，占用即持锁
	refs int
}

// NewKeyedLock 创建锁表
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		entries: make(map[string]*entry),
	}
}

// Acquire 获取key对应的锁，超时返回false
// wait<=0 时表示只尝试一次，不等待
func (l *KeyedLock) Acquire(key string, wait time.Duration) bool {
	e := l.retain(key)

	if wait <= 0 {
		select {
		case e.ch <- struct{}{}:
			return true
		default:
			l.release(key)
			return false
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return true
	case <-timer.C:
		l.release(key)
		return false
	}
}

// Release 释放key对应的锁
func (l *KeyedLock) Release(key string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-e.ch:
	default:
		// 未持有时调用Release是调用方的bug，不panic但也不计数
		return
	}
	l.release(key)
}

// Len 当前锁表中的key数量（用于观测）
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// retain 取出或创建entry并增加引用计数
func (l *KeyedLock) retain(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

// release 减少引用计数，归零时回收entry，避免锁表无界增长
func (l *KeyedLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, key)
	}
}
