// Package domain contains the payment aggregate, its status machine and the
// gateway/webhook ports.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentStatus represents lifecycle states for a payment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured          PaymentStatus = "CAPTURED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
)

// IsActive reports whether a payment still represents an open order. At most
// one active payment may exist per task; captured and refunded payments are
// settled history, failed ones are dead.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusAuthorized
}

// IsTerminal reports whether no further mutation is permitted.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusFailed
}

// Payment tracks one provider order for a task. Amount, PlatformFee and
// HelperAmount are minor currency units; Amount is immutable once captured.
// RefundedAmount accumulates across partial refunds up to Amount.
type Payment struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	TaskID            snowflake.ID  `gorm:"not null;index"`
	BuyerID           snowflake.ID  `gorm:"not null;index"`
	HelperID          *snowflake.ID `gorm:"index"`
	Amount            int64         `gorm:"not null"`
	Currency          string        `gorm:"type:text;not null"`
	PlatformFee       int64         `gorm:"not null;default:0"`
	HelperAmount      int64         `gorm:"not null;default:0"`
	RefundedAmount    int64         `gorm:"not null;default:0"`
	Status            PaymentStatus `gorm:"type:text;not null"`
	ProviderOrderID   string        `gorm:"type:text;index"`
	ProviderPaymentID *string       `gorm:"type:text;index"`
	ProviderRefundID  *string       `gorm:"type:text"`
	ProviderPayoutID  *string       `gorm:"type:text"`
	UTRNumber         *string       `gorm:"type:text"`
	FailureReason     *string       `gorm:"type:text"`
	CapturedAt        *time.Time    `gorm:""`
	RefundedAt        *time.Time    `gorm:""`
	FailedAt          *time.Time    `gorm:""`
	CreatedAt         time.Time     `gorm:"not null"`
	UpdatedAt         time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// WebhookEventRecord stores every inbound provider event for duplicate
// detection. Provider plus provider event id is unique; a conflicting insert
// marks the delivery as a duplicate.
type WebhookEventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null"`
	ProviderEventID string         `gorm:"type:text;not null"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

func (WebhookEventRecord) TableName() string { return "gateway_webhook_events" }

// Provider event types after adapter parsing.
const (
	ProviderEventAuthorized      = "payment_authorized"
	ProviderEventCaptured        = "payment_captured"
	ProviderEventFailed          = "payment_failed"
	ProviderEventRefunded        = "payment_refunded"
	ProviderEventPayoutProcessed = "payout_processed"
)

// ProviderEvent is the canonical gateway event parsed by the adapter.
type ProviderEvent struct {
	Provider          string
	ProviderEventID   string
	Type              string
	ProviderOrderID   string
	ProviderPaymentID string
	ProviderRefundID  string
	ProviderPayoutID  string
	UTRNumber         string
	Amount            int64
	Currency          string
	FailureReason     string
	OccurredAt        time.Time
	RawPayload        []byte
}
