package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

const (
	seenKeyPrefix    = "billing:seen:"
	deadLetterSuffix = ":dead"
)

// RedisQueue carries verified billing events from the webhook to the worker.
// Producers LPUSH and the worker BRPOPs, so events are handled in arrival
// order.
type RedisQueue struct {
	client      *redis.Client
	name        string
	dedupTTL    time.Duration
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, cfg config.QueueConfig) *RedisQueue {
	return &RedisQueue{
		client:      client,
		name:        cfg.Name,
		dedupTTL:    cfg.DedupTTL,
		pollTimeout: cfg.PollTimeout,
	}
}

// MarkSeen records an event id and reports whether this is the first time
// it was seen within the dedup window.
func (q *RedisQueue) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	first, err := q.client.SetNX(ctx, seenKeyPrefix+eventID, 1, q.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record event id: %w", err)
	}
	return first, nil
}

// Forget drops an event id so a redelivery is processed again.
func (q *RedisQueue) Forget(ctx context.Context, eventID string) error {
	return q.client.Del(ctx, seenKeyPrefix+eventID).Err()
}

func (q *RedisQueue) PublishBillingEvent(ctx context.Context, ev billing.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to queue: %w", err)
	}
	return nil
}

// Retry puts an event that failed to apply back on the queue with its
// attempt count raised.
func (q *RedisQueue) Retry(ctx context.Context, ev billing.Event) error {
	ev.Attempts++
	return q.PublishBillingEvent(ctx, ev)
}

// DeadLetter parks an event that kept failing on a side list for manual
// replay.
func (q *RedisQueue) DeadLetter(ctx context.Context, ev billing.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.LPush(ctx, q.name+deadLetterSuffix, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to dead letter list: %w", err)
	}
	return nil
}

// ConsumeBillingEvent waits up to the poll timeout for the next event. It
// returns nil, nil when nothing arrived so the caller can check for
// shutdown.
func (q *RedisQueue) ConsumeBillingEvent(ctx context.Context) (*billing.Event, error) {
	result, err := q.client.BRPop(ctx, q.pollTimeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to pop event from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid queue response")
	}

	var ev billing.Event
	if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &ev, nil
}
