package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NotifyQueue 基于Redis的通知队列
// 提醒/升级通知在此入队，由外部投递网关（邮件、短信等）消费
type NotifyQueue struct {
	client *redis.Client
	prefix string
}

// NotifyMessage 队列中的通知消息
type NotifyMessage struct {
	MessageID  string                 `json:"message_id"`
	Recipient  uint                   `json:"recipient"`   // 接收人用户ID
	Subject    string                 `json:"subject"`
	Content    string                 `json:"content"`
	Priority   int                    `json:"priority"`    // 1-5，越大越紧急
	Kind       string                 `json:"kind"`        // reminder/escalate
	InstanceID string                 `json:"instance_id"` // 关联的工作流实例
	Extra      map[string]interface{} `json:"extra,omitempty"`
	Created    int64                  `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewNotifyQueue 创建通知队列实例
func NewNotifyQueue(config *Config) *NotifyQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "mwp:notify"
	}

	return &NotifyQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *NotifyQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *NotifyQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// Enqueue 将通知加入队列
func (q *NotifyQueue) Enqueue(msg *NotifyMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if msg.Created == 0 {
		msg.Created = time.Now().Unix()
	}

	// 序列化消息
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化通知消息失败: %v", err)
	}

	// 根据优先级选择队列
	queueKey := q.getQueueKey(msg.Priority)

	// 加入队列（左侧入队）
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("通知入队失败: %v", err)
	}

	return nil
}

// Dequeue 按优先级从高到低取出一条通知，队列为空时返回nil
func (q *NotifyQueue) Dequeue() (*NotifyMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for priority := 5; priority >= 1; priority-- {
		data, err := q.client.RPop(ctx, q.getQueueKey(priority)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("通知出队失败: %v", err)
		}

		var msg NotifyMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("解析通知消息失败: %v", err)
		}
		return &msg, nil
	}

	return nil, nil
}

// GetQueueStats 获取队列统计信息
func (q *NotifyQueue) GetQueueStats() (map[string]int, error) {
	ctx := context.Background()
	stats := make(map[string]int)

	// 统计各优先级队列长度
	total := 0
	for priority := 1; priority <= 5; priority++ {
		queueKey := q.getQueueKey(priority)
		length, err := q.client.LLen(ctx, queueKey).Result()
		if err != nil {
			return nil, fmt.Errorf("获取队列长度失败: %v", err)
		}
		stats[fmt.Sprintf("priority_%d", priority)] = int(length)
		total += int(length)
	}
	stats["total"] = total

	return stats, nil
}

// PublishEvent 发布实例事件到指定频道（供WebSocket推送）
func (q *NotifyQueue) PublishEvent(channel string, event interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %v", err)
	}

	return q.client.Publish(ctx, q.prefix+":events:"+channel, data).Err()
}

// Subscribe 订阅实例事件频道
func (q *NotifyQueue) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return q.client.Subscribe(ctx, q.prefix+":events:"+channel)
}

// GetClient 获取Redis客户端（用于高级操作）
func (q *NotifyQueue) GetClient() *redis.Client {
	return q.client
}

// getQueueKey 获取队列键名
func (q *NotifyQueue) getQueueKey(priority int) string {
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	return fmt.Sprintf("%s:priority:%d", q.prefix, priority)
}
