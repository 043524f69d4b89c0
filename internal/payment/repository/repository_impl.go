package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertPayment claims the task's active-payment slot. The conflict target is
// the partial unique index on task_id over PENDING/AUTHORIZED rows, so a
// second concurrent insert for the same task lands on the existing row and
// reports false.
func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, task_id, buyer_id, helper_id, amount, currency,
			platform_fee, helper_amount, refunded_amount, status,
			provider_order_id, provider_payment_id, provider_refund_id,
			provider_payout_id, utr_number, failure_reason,
			captured_at, refunded_at, failed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) WHERE status IN ('PENDING', 'AUTHORIZED') DO NOTHING`,
		payment.ID,
		payment.TaskID,
		payment.BuyerID,
		payment.HelperID,
		payment.Amount,
		payment.Currency,
		payment.PlatformFee,
		payment.HelperAmount,
		payment.RefundedAmount,
		payment.Status,
		payment.ProviderOrderID,
		payment.ProviderPaymentID,
		payment.ProviderRefundID,
		payment.ProviderPayoutID,
		payment.UTRNumber,
		payment.FailureReason,
		payment.CapturedAt,
		payment.RefundedAt,
		payment.FailedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetProviderOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_order_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		orderID,
		now,
		id,
		domain.PaymentStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

const paymentColumns = `id, task_id, buyer_id, helper_id, amount, currency,
	platform_fee, helper_amount, refunded_amount, status,
	provider_order_id, provider_payment_id, provider_refund_id,
	provider_payout_id, utr_number, failure_reason,
	captured_at, refunded_at, failed_at, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindActiveByTask(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `task_id = ? AND status IN (?, ?)`,
		taskID, domain.PaymentStatusPending, domain.PaymentStatusAuthorized)
}

func (r *repo) FindByProviderOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `provider_order_id = ?`, orderID)
}

func (r *repo) FindByProviderPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `provider_payment_id = ?`, providerPaymentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY id DESC LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkAuthorized(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, provider_payment_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusAuthorized,
		providerPaymentID,
		now,
		id,
		domain.PaymentStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, providerPaymentID string, platformFee, helperAmount int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, provider_payment_id = ?, platform_fee = ?, helper_amount = ?,
		     captured_at = COALESCE(captured_at, ?), updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.PaymentStatusCaptured,
		providerPaymentID,
		platformFee,
		helperAmount,
		now,
		now,
		id,
		domain.PaymentStatusPending,
		domain.PaymentStatusAuthorized,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, failed_at = COALESCE(failed_at, ?), updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.PaymentStatusFailed,
		reason,
		now,
		now,
		id,
		domain.PaymentStatusPending,
		domain.PaymentStatusAuthorized,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReserveRefund adds the amount to the cumulative refund total before any
// provider call is made. The guard rejects reservations that would push
// refunds past the captured amount, so concurrent refunds cannot oversell
// the remainder.
func (r *repo) ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refunded_amount = refunded_amount + ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?) AND refunded_amount + ? <= amount`,
		amount,
		now,
		id,
		domain.PaymentStatusCaptured,
		domain.PaymentStatusPartiallyRefunded,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseRefund returns a reserved amount after the provider rejected or
// never received the refund call.
func (r *repo) ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET refunded_amount = refunded_amount - ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		now,
		id,
	).Error
}

// FinalizeRefund records the provider refund id for a reserved refund and
// derives the status from the already-reserved total.
func (r *repo) FinalizeRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundID string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = CASE WHEN refunded_amount >= amount THEN ? ELSE ? END,
		     provider_refund_id = ?, refunded_at = COALESCE(refunded_at, ?), updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.PaymentStatusRefunded,
		domain.PaymentStatusPartiallyRefunded,
		refundID,
		now,
		now,
		id,
		domain.PaymentStatusCaptured,
		domain.PaymentStatusPartiallyRefunded,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ApplyRefund adds to the cumulative refunded amount. The guard rejects
// writes that would push refunds past the captured amount.
func (r *repo) ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, refundID string, amount int64, to domain.PaymentStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, refunded_amount = refunded_amount + ?, provider_refund_id = ?,
		     refunded_at = COALESCE(refunded_at, ?), updated_at = ?
		 WHERE id = ? AND status IN (?, ?) AND refunded_amount + ? <= amount`,
		to,
		amount,
		refundID,
		now,
		now,
		id,
		domain.PaymentStatusCaptured,
		domain.PaymentStatusPartiallyRefunded,
		amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkPayout(ctx context.Context, db *gorm.DB, id snowflake.ID, payoutID, utr string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_payout_id = ?, utr_number = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND provider_payout_id IS NULL`,
		payoutID,
		utr,
		now,
		id,
		domain.PaymentStatusCaptured,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEventRecord) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO gateway_webhook_events (
			id, provider, provider_event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEventRecord, error) {
	var item domain.WebhookEventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM gateway_webhook_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE gateway_webhook_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
