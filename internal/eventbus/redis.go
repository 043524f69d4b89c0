package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	redisReadBlock = 5 * time.Second
	redisReadCount = 16
)

// RedisBus is a durable topic exchange on a single Redis stream. Every queue
// is a consumer group, so each queue sees every matching event exactly once
// per acknowledged delivery and unacked messages are redelivered after a
// crash, so delivery is at-least-once end to end. Events a queue's keys do
// not match are acked immediately.
type RedisBus struct {
	client      *redis.Client
	log         *zap.Logger
	obs         *obsmetrics.Metrics
	stream      string
	consumer    string
	maxAttempts int
	retryBase   time.Duration

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
	queues map[string]struct{}
}

type RedisOption func(*RedisBus)

func WithRedisMaxDeliveryAttempts(n int) RedisOption {
	return func(b *RedisBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

func WithRedisRetryBaseDelay(d time.Duration) RedisOption {
	return func(b *RedisBus) {
		if d > 0 {
			b.retryBase = d
		}
	}
}

func WithRedisMetrics(m *obsmetrics.Metrics) RedisOption {
	return func(b *RedisBus) { b.obs = m }
}

func NewRedisBus(client *redis.Client, log *zap.Logger, stream string, opts ...RedisOption) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		client:      client,
		log:         log.Named("eventbus.redis"),
		stream:      stream,
		consumer:    "consumer-" + uuid.NewString(),
		maxAttempts: 5,
		retryBase:   200 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
		queues:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return err
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"id":          event.ID,
			"type":        event.Type,
			"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
			"fields":      string(fields),
		},
	}).Err()
	if err != nil {
		return err
	}
	b.obs.IncEventPublished(event.Type)
	return nil
}

func (b *RedisBus) Subscribe(queue string, keys []string, handler Handler) error {
	queue = strings.TrimSpace(queue)
	if queue == "" || handler == nil {
		return ErrInvalidQueue
	}
	if len(keys) == 0 {
		return ErrNoBindingKeys
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.queues[queue]; ok {
		return ErrQueueExists
	}

	err := b.client.XGroupCreateMkStream(b.ctx, b.stream, queue, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	b.queues[queue] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(queue, keys, handler)
	}()
	return nil
}

func (b *RedisBus) consume(queue string, keys []string, handler Handler) {
	for {
		streams, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    queue,
			Consumer: b.consumer,
			Streams:  []string{b.stream, ">"},
			Count:    redisReadCount,
			Block:    redisReadBlock,
		}).Result()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			b.log.Warn("stream read failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-b.ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(queue, keys, handler, msg)
			}
		}
	}
}

func (b *RedisBus) handleMessage(queue string, keys []string, handler Handler, msg redis.XMessage) {
	event, ok := decodeMessage(msg)
	if !ok || !matchAny(event.Type, keys) {
		b.ack(queue, msg.ID)
		return
	}

	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err = handler(b.ctx, event); err == nil {
			b.obs.IncEventConsumed(queue, "ok")
			b.ack(queue, msg.ID)
			return
		}
		b.obs.IncEventConsumed(queue, "error")
		if attempt < b.maxAttempts {
			backoff := b.retryBase << (attempt - 1)
			b.log.Warn("event handler failed, retrying",
				zap.String("queue", queue),
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return
			}
		}
	}

	// Park on the queue's dead-letter stream, then ack so the group
	// does not redeliver forever.
	dlq := b.stream + ":dlq:" + queue
	values := map[string]interface{}{}
	for k, v := range msg.Values {
		values[k] = v
	}
	values["error"] = err.Error()
	if dlqErr := b.client.XAdd(b.ctx, &redis.XAddArgs{Stream: dlq, Values: values}).Err(); dlqErr != nil {
		b.log.Error("dead-letter write failed",
			zap.String("queue", queue),
			zap.String("event_id", event.ID),
			zap.Error(dlqErr),
		)
		return
	}
	b.obs.IncEventDeadLettered(queue)
	b.log.Error("event dead-lettered",
		zap.String("queue", queue),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Error(err),
	)
	b.ack(queue, msg.ID)
}

func (b *RedisBus) ack(queue, msgID string) {
	if err := b.client.XAck(b.ctx, b.stream, queue, msgID).Err(); err != nil && b.ctx.Err() == nil {
		b.log.Warn("ack failed", zap.String("queue", queue), zap.String("msg_id", msgID), zap.Error(err))
	}
}

func (b *RedisBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
}

func decodeMessage(msg redis.XMessage) (Event, bool) {
	event := Event{}
	id, _ := msg.Values["id"].(string)
	typ, _ := msg.Values["type"].(string)
	if id == "" || typ == "" {
		return event, false
	}
	event.ID = id
	event.Type = typ
	if raw, _ := msg.Values["occurred_at"].(string); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			event.OccurredAt = ts
		}
	}
	if raw, _ := msg.Values["fields"].(string); raw != "" {
		fields := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &fields); err == nil {
			event.Fields = fields
		}
	}
	return event, true
}
