package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// DefaultNotificationQueue is the Redis list ledger events are pushed to.
const DefaultNotificationQueue = "ledger:notifications"

// Event is published after an operation commits.
type Event struct {
	Operation     Operation       `json:"operation"`
	CompanyID     int64           `json:"company_id"`
	AccountID     int64           `json:"account_id,omitempty"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notifier delivers committed ledger events to downstream consumers (SMS, push).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// RedisNotifier queues events on a Redis list for the notification workers.
type RedisNotifier struct {
	client redis.Cmdable
	queue  string
}

func NewRedisNotifier(client redis.Cmdable, queue string) *RedisNotifier {
	if queue == "" {
		queue = DefaultNotificationQueue
	}
	return &RedisNotifier{client: client, queue: queue}
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.RPush(ctx, n.queue, payload).Err(); err != nil {
		return fmt.Errorf("queue event: %w", err)
	}
	return nil
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }
