package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/clock"
	"github.com/sahayak-app/sahayak/internal/config"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"github.com/sahayak-app/sahayak/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Bus     eventbus.Bus
	Repo    domain.Repository
	Gateway domain.Gateway
	Fees    *config.FeePolicyHolder
	Obs     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	bus         eventbus.Bus
	repo        domain.Repository
	gateway     domain.Gateway
	fees        *config.FeePolicyHolder
	obs         *obsmetrics.Metrics
	maxAttempts int
	retryBase   time.Duration
}

func NewService(p Params) *Service {
	maxAttempts := p.Cfg.Gateway.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryBase := p.Cfg.Gateway.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		bus:         p.Bus,
		repo:        p.Repo,
		gateway:     p.Gateway,
		fees:        p.Fees,
		obs:         p.Obs,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
	}
}

func (s *Service) HandleTaskEvent(ctx context.Context, event eventbus.Event) error {
	switch event.Type {
	case eventbus.EventTaskAssigned:
		return s.handleTaskAssigned(ctx, event)
	case eventbus.EventTaskCompleted:
		return s.handleTaskCompleted(ctx, event)
	case eventbus.EventTaskCancelled:
		return s.handleTaskCancelled(ctx, event)
	default:
		return nil
	}
}

// handleTaskAssigned opens a provider order for the task. Redelivered
// assignments find the existing active payment and do nothing; at most one
// active payment exists per task.
func (s *Service) handleTaskAssigned(ctx context.Context, event eventbus.Event) error {
	taskID, err := parseID(event.Field("task_id"))
	if err != nil {
		s.log.Warn("assignment event with bad task id dropped", zap.String("event_id", event.ID))
		return nil
	}
	buyerID, err := parseID(event.Field("buyer_id"))
	if err != nil {
		s.log.Warn("assignment event with bad buyer id dropped", zap.String("event_id", event.ID))
		return nil
	}
	amount := event.Int64Field("amount")
	currency := event.Field("currency")
	if amount <= 0 || len(currency) != 3 {
		s.log.Warn("assignment event with bad amount dropped",
			zap.String("event_id", event.ID),
			zap.Int64("amount", amount),
			zap.String("currency", currency),
		)
		return nil
	}

	existing, err := s.repo.FindActiveByTask(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	var helperID *snowflake.ID
	if id, err := parseID(event.Field("helper_id")); err == nil {
		helperID = &id
	}

	// The pending row claims the task's active-payment slot before any
	// provider call; a concurrent handler for the same delivery loses the
	// insert and never orders.
	now := s.clock.Now()
	payment := &domain.Payment{
		ID:        s.genID.Generate(),
		TaskID:    taskID,
		BuyerID:   buyerID,
		HelperID:  helperID,
		Amount:    amount,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.repo.InsertPayment(ctx, s.db, payment)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	var order domain.OrderRef
	gatewayErr := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.gateway.CreateOrder(ctx, amount, currency, map[string]string{
			"task_id":  taskID.String(),
			"buyer_id": buyerID.String(),
		})
		return err
	})
	if gatewayErr != nil {
		// Retries are exhausted; record the failure so the task side can
		// react instead of bouncing the event forever.
		s.log.Error("order creation failed",
			zap.String("task_id", taskID.String()),
			zap.Error(gatewayErr),
		)
		reason := "order_creation_failed"
		if _, err := s.repo.MarkFailed(ctx, s.db, payment.ID, reason, s.clock.Now()); err != nil {
			return err
		}
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = &reason
		s.publishFailed(ctx, payment, reason)
		return nil
	}

	updated, err := s.repo.SetProviderOrder(ctx, s.db, payment.ID, order.OrderID, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		// The payment left PENDING while the order call was in flight; the
		// unused order expires at the provider.
		s.log.Warn("payment settled before order could be recorded",
			zap.String("payment_id", payment.ID.String()),
			zap.String("provider_order_id", order.OrderID),
		)
		return nil
	}
	payment.ProviderOrderID = order.OrderID
	s.log.Info("payment order opened",
		zap.String("payment_id", payment.ID.String()),
		zap.String("task_id", taskID.String()),
		zap.String("provider_order_id", order.OrderID),
		zap.Int64("amount", amount),
	)
	return nil
}

// handleTaskCompleted captures the authorized funds for a completed task. A
// payment that never reported an authorization waits for the provider
// callback instead.
func (s *Service) handleTaskCompleted(ctx context.Context, event eventbus.Event) error {
	taskID, err := parseID(event.Field("task_id"))
	if err != nil {
		s.log.Warn("completion event with bad task id dropped", zap.String("event_id", event.ID))
		return nil
	}

	payment, err := s.repo.FindActiveByTask(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	if payment == nil {
		// Already captured or never opened; either way nothing to capture.
		return nil
	}
	if payment.ProviderPaymentID == nil || *payment.ProviderPaymentID == "" {
		s.log.Info("capture deferred until provider reports authorization",
			zap.String("payment_id", payment.ID.String()),
			zap.String("task_id", taskID.String()),
		)
		return nil
	}

	providerPaymentID := *payment.ProviderPaymentID
	gatewayErr := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.gateway.Capture(ctx, providerPaymentID, payment.Amount, payment.Currency)
		return err
	})
	if gatewayErr != nil {
		// Unknown outcome; the capture webhook settles it. Redeliver.
		return gatewayErr
	}
	return s.applyCapture(ctx, payment, providerPaymentID)
}

func (s *Service) handleTaskCancelled(ctx context.Context, event eventbus.Event) error {
	taskID, err := parseID(event.Field("task_id"))
	if err != nil {
		return nil
	}
	payment, err := s.repo.FindActiveByTask(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	if payment == nil {
		return nil
	}
	_, err = s.Fail(ctx, payment.ID, "task_cancelled")
	if errors.Is(err, domain.ErrInvalidState) {
		// Settled between the lookup and the write; cancellation of the task
		// does not unwind a capture.
		return nil
	}
	return err
}

// applyCapture settles a capture reported by either the capture call or the
// provider callback. Both paths can race; the guarded write picks one winner
// and the loser sees the settled row.
func (s *Service) applyCapture(ctx context.Context, payment *domain.Payment, providerPaymentID string) error {
	switch payment.Status {
	case domain.PaymentStatusCaptured, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
		return nil
	case domain.PaymentStatusFailed:
		s.log.Warn("capture reported for failed payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("provider_payment_id", providerPaymentID),
		)
		return domain.ErrInvalidState
	}

	fee, helperAmount := s.fees.Get().Split(payment.Amount)
	now := s.clock.Now()
	updated, err := s.repo.MarkCaptured(ctx, s.db, payment.ID, providerPaymentID, fee, helperAmount, now)
	if err != nil {
		return err
	}
	if !updated {
		fresh, err := s.repo.FindByID(ctx, s.db, payment.ID)
		if err != nil {
			return err
		}
		if fresh != nil && !fresh.Status.IsActive() {
			if fresh.Status == domain.PaymentStatusFailed {
				return domain.ErrInvalidState
			}
			return nil
		}
		return domain.ErrConflict
	}

	payment.Status = domain.PaymentStatusCaptured
	payment.ProviderPaymentID = &providerPaymentID
	payment.PlatformFee = fee
	payment.HelperAmount = helperAmount
	payment.CapturedAt = &now
	payment.UpdatedAt = now

	s.log.Info("payment captured",
		zap.String("payment_id", payment.ID.String()),
		zap.String("task_id", payment.TaskID.String()),
		zap.Int64("amount", payment.Amount),
		zap.Int64("platform_fee", fee),
		zap.Int64("helper_amount", helperAmount),
	)

	fields := map[string]string{
		"payment_id":          payment.ID.String(),
		"task_id":             payment.TaskID.String(),
		"buyer_id":            payment.BuyerID.String(),
		"amount":              strconv.FormatInt(payment.Amount, 10),
		"currency":            payment.Currency,
		"platform_fee":        strconv.FormatInt(fee, 10),
		"helper_amount":       strconv.FormatInt(helperAmount, 10),
		"provider_payment_id": providerPaymentID,
	}
	if payment.HelperID != nil {
		fields["helper_id"] = payment.HelperID.String()
	}
	s.publish(ctx, eventbus.New(eventbus.EventPaymentCompleted, fields))
	return nil
}

func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID, amount int64, reason string) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	if payment.Status != domain.PaymentStatusCaptured && payment.Status != domain.PaymentStatusPartiallyRefunded {
		return nil, domain.ErrInvalidState
	}

	remaining := payment.Amount - payment.RefundedAmount
	if amount <= 0 {
		amount = remaining
	}
	if amount > remaining {
		return nil, domain.ErrRefundExceedsCaptured
	}
	if payment.ProviderPaymentID == nil || *payment.ProviderPaymentID == "" {
		return nil, domain.ErrInvalidState
	}

	// Reserve the amount before touching the provider. A provider refund
	// whose local write could fail afterwards would move money we never
	// recorded; the reservation makes the local ledger the gate.
	reserved, err := s.repo.ReserveRefund(ctx, s.db, payment.ID, amount, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !reserved {
		fresh, err := s.repo.FindByID(ctx, s.db, payment.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, domain.ErrNotFound
		}
		if fresh.Status != domain.PaymentStatusCaptured && fresh.Status != domain.PaymentStatusPartiallyRefunded {
			return nil, domain.ErrInvalidState
		}
		// A concurrent refund consumed the remainder first.
		return nil, domain.ErrRefundExceedsCaptured
	}

	var refund domain.RefundRef
	gatewayErr := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		refund, err = s.gateway.Refund(ctx, *payment.ProviderPaymentID, amount, reason)
		return err
	})
	if gatewayErr != nil {
		if releaseErr := s.repo.ReleaseRefund(ctx, s.db, payment.ID, amount, s.clock.Now()); releaseErr != nil {
			s.log.Error("refund reservation release failed",
				zap.String("payment_id", payment.ID.String()),
				zap.Int64("amount", amount),
				zap.Error(releaseErr),
			)
		}
		return nil, gatewayErr
	}

	return s.finalizeRefund(ctx, payment, refund.RefundID, amount)
}

// finalizeRefund completes a reserved refund with the provider refund id and
// emits the refund fact from the settled row.
func (s *Service) finalizeRefund(ctx context.Context, payment *domain.Payment, refundID string, amount int64) (*domain.Payment, error) {
	now := s.clock.Now()
	updated, err := s.repo.FinalizeRefund(ctx, s.db, payment.ID, refundID, now)
	if err != nil {
		return nil, err
	}
	fresh, err := s.repo.FindByID(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, domain.ErrNotFound
	}
	if !updated && fresh.Status != domain.PaymentStatusRefunded {
		// The reservation is on the row but the status write lost; only a
		// concurrent full refund reaching REFUNDED can absorb it.
		return nil, domain.ErrConflict
	}

	s.emitRefundProcessed(ctx, fresh, refundID, amount)
	return fresh, nil
}

// settleRefund records a refund the provider initiated and reported by
// webhook; there is no reservation because the money already moved.
func (s *Service) settleRefund(ctx context.Context, payment *domain.Payment, refundID string, amount int64) (*domain.Payment, error) {
	to := domain.PaymentStatusPartiallyRefunded
	if payment.RefundedAmount+amount >= payment.Amount {
		to = domain.PaymentStatusRefunded
	}
	now := s.clock.Now()
	updated, err := s.repo.ApplyRefund(ctx, s.db, payment.ID, refundID, amount, to, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrConflict
	}

	payment.Status = to
	payment.RefundedAmount += amount
	payment.ProviderRefundID = &refundID
	payment.RefundedAt = &now
	payment.UpdatedAt = now

	s.emitRefundProcessed(ctx, payment, refundID, amount)
	return payment, nil
}

func (s *Service) emitRefundProcessed(ctx context.Context, payment *domain.Payment, refundID string, amount int64) {
	s.log.Info("refund processed",
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("refund_amount", amount),
		zap.Int64("refunded_total", payment.RefundedAmount),
		zap.String("status", string(payment.Status)),
	)
	s.publish(ctx, eventbus.New(eventbus.EventPaymentRefunded, map[string]string{
		"payment_id":         payment.ID.String(),
		"task_id":            payment.TaskID.String(),
		"refund_amount":      strconv.FormatInt(amount, 10),
		"refunded_total":     strconv.FormatInt(payment.RefundedAmount, 10),
		"provider_refund_id": refundID,
		"status":             string(payment.Status),
	}))
}

func (s *Service) Fail(ctx context.Context, paymentID snowflake.ID, reason string) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	if payment.Status == domain.PaymentStatusFailed {
		return payment, nil
	}
	if !payment.Status.IsActive() {
		return nil, domain.ErrInvalidState
	}

	now := s.clock.Now()
	updated, err := s.repo.MarkFailed(ctx, s.db, paymentID, reason, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		fresh, err := s.repo.FindByID(ctx, s.db, paymentID)
		if err != nil {
			return nil, err
		}
		if fresh != nil && fresh.Status == domain.PaymentStatusFailed {
			return fresh, nil
		}
		return nil, domain.ErrInvalidState
	}

	payment.Status = domain.PaymentStatusFailed
	payment.FailureReason = &reason
	payment.FailedAt = &now
	payment.UpdatedAt = now

	s.publishFailed(ctx, payment, reason)
	return payment, nil
}

func (s *Service) Get(ctx context.Context, paymentID snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) HandleProviderEvent(ctx context.Context, event *domain.ProviderEvent) error {
	switch event.Type {
	case domain.ProviderEventAuthorized:
		return s.handleProviderAuthorized(ctx, event)
	case domain.ProviderEventCaptured:
		return s.handleProviderCaptured(ctx, event)
	case domain.ProviderEventFailed:
		return s.handleProviderFailed(ctx, event)
	case domain.ProviderEventRefunded:
		return s.handleProviderRefunded(ctx, event)
	case domain.ProviderEventPayoutProcessed:
		return s.handleProviderPayout(ctx, event)
	default:
		return domain.ErrEventIgnored
	}
}

func (s *Service) handleProviderAuthorized(ctx context.Context, event *domain.ProviderEvent) error {
	payment, err := s.locate(ctx, event)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentStatusPending {
		// Authorization already recorded, or the payment settled first.
		return nil
	}
	updated, err := s.repo.MarkAuthorized(ctx, s.db, payment.ID, event.ProviderPaymentID, s.clock.Now())
	if err != nil {
		return err
	}
	if updated {
		s.log.Info("payment authorized",
			zap.String("payment_id", payment.ID.String()),
			zap.String("provider_payment_id", event.ProviderPaymentID),
		)
	}
	return nil
}

func (s *Service) handleProviderCaptured(ctx context.Context, event *domain.ProviderEvent) error {
	payment, err := s.locate(ctx, event)
	if err != nil {
		return err
	}
	return s.applyCapture(ctx, payment, event.ProviderPaymentID)
}

func (s *Service) handleProviderFailed(ctx context.Context, event *domain.ProviderEvent) error {
	payment, err := s.locate(ctx, event)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}
	if !payment.Status.IsActive() {
		// The provider says failed but funds already moved. Keep the settled
		// state and flag the contradiction for operators.
		s.log.Warn("failure reported for settled payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return domain.ErrInvalidState
	}
	reason := event.FailureReason
	if reason == "" {
		reason = "provider_reported_failure"
	}
	_, err = s.Fail(ctx, payment.ID, reason)
	return err
}

func (s *Service) handleProviderRefunded(ctx context.Context, event *domain.ProviderEvent) error {
	payment, err := s.locate(ctx, event)
	if err != nil {
		return err
	}
	if payment.ProviderRefundID != nil && *payment.ProviderRefundID == event.ProviderRefundID {
		return nil
	}
	switch payment.Status {
	case domain.PaymentStatusCaptured, domain.PaymentStatusPartiallyRefunded:
	case domain.PaymentStatusRefunded:
		return nil
	default:
		s.log.Warn("refund reported for unsettled payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return domain.ErrInvalidState
	}
	amount := event.Amount
	if amount <= 0 || amount > payment.Amount-payment.RefundedAmount {
		return domain.ErrInvalidEvent
	}
	_, err = s.settleRefund(ctx, payment, event.ProviderRefundID, amount)
	return err
}

func (s *Service) handleProviderPayout(ctx context.Context, event *domain.ProviderEvent) error {
	payment, err := s.locate(ctx, event)
	if err != nil {
		return err
	}
	if payment.ProviderPayoutID != nil {
		return nil
	}
	if payment.Status != domain.PaymentStatusCaptured {
		s.log.Warn("payout reported for uncaptured payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
		)
		return domain.ErrInvalidState
	}

	now := s.clock.Now()
	updated, err := s.repo.MarkPayout(ctx, s.db, payment.ID, event.ProviderPayoutID, event.UTRNumber, now)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	fields := map[string]string{
		"payment_id": payment.ID.String(),
		"task_id":    payment.TaskID.String(),
		"payout_id":  event.ProviderPayoutID,
		"amount":     strconv.FormatInt(payment.HelperAmount, 10),
		"utr_number": event.UTRNumber,
		"status":     "processed",
	}
	if payment.HelperID != nil {
		fields["helper_id"] = payment.HelperID.String()
	}
	s.publish(ctx, eventbus.New(eventbus.EventPaymentPayoutProcessed, fields))
	return nil
}

// locate resolves the payment a provider event refers to, preferring the
// payment reference and falling back to the order reference.
func (s *Service) locate(ctx context.Context, event *domain.ProviderEvent) (*domain.Payment, error) {
	if event.ProviderPaymentID != "" {
		payment, err := s.repo.FindByProviderPaymentID(ctx, s.db, event.ProviderPaymentID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if event.ProviderOrderID != "" {
		payment, err := s.repo.FindByProviderOrderID(ctx, s.db, event.ProviderOrderID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	s.log.Warn("provider event for unknown payment",
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("provider_payment_id", event.ProviderPaymentID),
		zap.String("provider_order_id", event.ProviderOrderID),
	)
	return nil, domain.ErrNotFound
}

// withRetry retries gateway calls that failed with a retryable provider
// error, backing off exponentially from the configured base delay.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrGateway) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		s.obs.IncGatewayRetry()
		delay := s.retryBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (s *Service) publishFailed(ctx context.Context, payment *domain.Payment, reason string) {
	s.publish(ctx, eventbus.New(eventbus.EventPaymentFailed, map[string]string{
		"payment_id": payment.ID.String(),
		"task_id":    payment.TaskID.String(),
		"reason":     reason,
	}))
}

// publish runs after the guarded write committed; a failed publish is logged
// and reconciled, never rolled back.
func (s *Service) publish(ctx context.Context, event eventbus.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Error("event publish failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

func parseID(value string) (snowflake.ID, error) {
	if value == "" {
		return 0, errors.New("empty id")
	}
	return snowflake.ParseString(value)
}
