package eventbus

import (
	"context"
	"errors"
)

var (
	ErrBusClosed     = errors.New("event_bus_closed")
	ErrQueueExists   = errors.New("queue_already_bound")
	ErrInvalidQueue  = errors.New("invalid_queue")
	ErrNoBindingKeys = errors.New("no_binding_keys")
)

// Handler consumes one event. Returning an error requests redelivery; after
// MaxDeliveryAttempts the event is parked on the queue's dead-letter queue.
type Handler func(ctx context.Context, event Event) error

// Bus is a durable topic exchange. Named queues bind a set of routing keys
// and receive matching events at least once, with no ordering guarantee
// across queues. Publication must happen only after the triggering state
// change is committed.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(queue string, keys []string, handler Handler) error
}
