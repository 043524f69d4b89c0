package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/eventbus"
)

// Service drives the payment lifecycle. Task events arrive through
// HandleTaskEvent, provider callbacks through HandleProviderEvent; both paths
// are idempotent because deliveries repeat.
type Service interface {
	// HandleTaskEvent reacts to task lifecycle events: assignment opens a
	// provider order, completion captures it, cancellation fails it.
	HandleTaskEvent(ctx context.Context, event eventbus.Event) error

	// Refund refunds amount minor units of a captured payment; amount <= 0
	// means the full remaining balance. Partial refunds accumulate until the
	// captured amount is exhausted.
	Refund(ctx context.Context, paymentID snowflake.ID, amount int64, reason string) (*Payment, error)

	// Fail moves an active payment to FAILED. Terminal payments reject with
	// ErrInvalidState; an already failed payment is a no-op.
	Fail(ctx context.Context, paymentID snowflake.ID, reason string) (*Payment, error)

	// HandleProviderEvent applies a parsed, deduplicated gateway event.
	HandleProviderEvent(ctx context.Context, event *ProviderEvent) error

	Get(ctx context.Context, paymentID snowflake.ID) (*Payment, error)
}
