package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists payments and webhook event records. Status writes are
// guarded updates: the WHERE clause pins the expected current status and a
// false return means another writer got there first (or the transition was
// already satisfied).
type Repository interface {
	// InsertPayment reports false when another active payment already holds
	// the task's slot; the partial unique index on active rows backs the
	// guard.
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	SetProviderOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID string, now time.Time) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindActiveByTask(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*Payment, error)
	FindByProviderOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)
	FindByProviderPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Payment, error)

	MarkAuthorized(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, now time.Time) (bool, error)
	MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, platformFee, helperAmount int64, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
	// ReserveRefund/ReleaseRefund/FinalizeRefund bracket a locally initiated
	// refund: the amount is reserved before the provider call so concurrent
	// refunds cannot exceed the capture, released if the provider rejects,
	// and finalized with the provider refund id on success.
	ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error)
	ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) error
	FinalizeRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundID string, now time.Time) (bool, error)
	ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundID string, amount int64, to PaymentStatus, now time.Time) (bool, error)
	MarkPayout(ctx context.Context, db *gorm.DB, id snowflake.ID, payoutID, utr string, now time.Time) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*WebhookEventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
