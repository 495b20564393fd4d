package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockAcquireRelease(t *testing.T) {
	l := NewKeyedLock()

	require.True(t, l.Acquire("a", 0))
	assert.Equal(t, 1, l.Len())

	// 同一key第二次获取立即失败
	assert.False(t, l.Acquire("a", 0))

	// 不同key互不影响
	require.True(t, l.Acquire("b", 0))
	l.Release("b")

	l.Release("a")
	assert.Equal(t, 0, l.Len(), "释放后锁表应回收entry")

	// 释放后可重新获取
	require.True(t, l.Acquire("a", 0))
	l.Release("a")
}

func TestKeyedLockWaitTimeout(t *testing.T) {
	l := NewKeyedLock()

	require.True(t, l.Acquire("key", 0))

	start := time.Now()
	ok := l.Acquire("key", 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	l.Release("key")
	assert.Equal(t, 0, l.Len())
}

func TestKeyedLockWaitSucceedsAfterRelease(t *testing.T) {
	l := NewKeyedLock()

	require.True(t, l.Acquire("key", 0))

	done := make(chan bool, 1)
	go func() {
		done <- l.Acquire("key", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release("key")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("等待中的Acquire未在释放后返回")
	}

	l.Release("key")
}

func TestKeyedLockReleaseWithoutHold(t *testing.T) {
	l := NewKeyedLock()

	// 未持有时释放不panic也不破坏后续获取
	l.Release("never")
	require.True(t, l.Acquire("never", 0))
	l.Release("never")
}

func TestKeyedLockSerializesSameKey(t *testing.T) {
	l := NewKeyedLock()

	const goroutines = 20
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.True(t, l.Acquire("shared", 5*time.Second))
			defer l.Release("shared")

			// 持锁期间的非原子自增，靠锁保证不丢更新
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
	assert.Equal(t, 0, l.Len())
}
