package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"go.uber.org/zap"
)

const defaultQueueBuffer = 256

// MemoryBus is an in-process topic exchange for tests and single-node
// deployments. Each queue owns one worker goroutine, so per-queue delivery
// is ordered while queues stay independent of each other.
type MemoryBus struct {
	log         *zap.Logger
	obs         *obsmetrics.Metrics
	maxAttempts int
	retryBase   time.Duration
	syncMode    bool

	mu     sync.RWMutex
	queues map[string]*memoryQueue
	closed bool
	wg     sync.WaitGroup
}

type memoryQueue struct {
	name    string
	keys    []string
	handler Handler
	ch      chan Event

	deadMu sync.Mutex
	dead   []Event
}

type MemoryOption func(*MemoryBus)

// WithSyncDelivery delivers events inline on Publish. Retries still apply;
// tests use this to avoid sleeping on worker goroutines.
func WithSyncDelivery() MemoryOption {
	return func(b *MemoryBus) { b.syncMode = true }
}

func WithMaxDeliveryAttempts(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

func WithRetryBaseDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBus) {
		if d > 0 {
			b.retryBase = d
		}
	}
}

func WithMetrics(m *obsmetrics.Metrics) MemoryOption {
	return func(b *MemoryBus) { b.obs = m }
}

func NewMemoryBus(log *zap.Logger, opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		log:         log.Named("eventbus.memory"),
		maxAttempts: 5,
		retryBase:   200 * time.Millisecond,
		queues:      make(map[string]*memoryQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Subscribe(queue string, keys []string, handler Handler) error {
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

	q := &memoryQueue{
		name:    queue,
		keys:    keys,
		handler: handler,
		ch:      make(chan Event, defaultQueueBuffer),
	}
	b.queues[queue] = q

	if !b.syncMode {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for event := range q.ch {
				b.deliver(context.Background(), q, event)
			}
		}()
	}
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	matched := make([]*memoryQueue, 0, len(b.queues))
	for _, q := range b.queues {
		if matchAny(event.Type, q.keys) {
			matched = append(matched, q)
		}
	}
	b.mu.RUnlock()

	b.obs.IncEventPublished(event.Type)
	for _, q := range matched {
		if b.syncMode {
			b.deliver(ctx, q, event)
			continue
		}
		select {
		case q.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, q *memoryQueue, event Event) {
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err = q.handler(ctx, event); err == nil {
			b.obs.IncEventConsumed(q.name, "ok")
			return
		}
		b.obs.IncEventConsumed(q.name, "error")
		if attempt < b.maxAttempts {
			backoff := b.retryBase << (attempt - 1)
			b.log.Warn("event handler failed, retrying",
				zap.String("queue", q.name),
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}

	q.deadMu.Lock()
	q.dead = append(q.dead, event)
	q.deadMu.Unlock()
	b.obs.IncEventDeadLettered(q.name)
	b.log.Error("event dead-lettered",
		zap.String("queue", q.name),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Error(err),
	)
}

// DeadLetters returns events parked for a queue after exhausting retries.
func (b *MemoryBus) DeadLetters(queue string) []Event {
	b.mu.RLock()
	q := b.queues[queue]
	b.mu.RUnlock()
	if q == nil {
		return nil
	}
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	out := make([]Event, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
