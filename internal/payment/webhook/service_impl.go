// Package webhook ingests provider callbacks: verify, parse, deduplicate,
// then hand the event to the payment service.
package webhook

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/clock"
	"github.com/sahayak-app/sahayak/internal/config"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"github.com/sahayak-app/sahayak/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg      config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Gateway  domain.Gateway
	Payments domain.Service
	Obs      *obsmetrics.Metrics `optional:"true"`
}

type Ingestor struct {
	secret   string
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	gateway  domain.Gateway
	payments domain.Service
	obs      *obsmetrics.Metrics
}

func NewIngestor(p Params) *Ingestor {
	return &Ingestor{
		secret:   p.Cfg.Gateway.WebhookSecret,
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		gateway:  p.Gateway,
		payments: p.Payments,
		obs:      p.Obs,
	}
}

// Ingest processes one raw callback delivery. Deliveries repeat, so every
// event is recorded first; a conflicting record means the provider already
// delivered this event and, if it was processed, the delivery is a pure
// duplicate.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signature string) error {
	if !i.gateway.VerifySignature(payload, signature, i.secret) {
		i.obs.IncWebhookResult("invalid_signature")
		i.log.Warn("webhook signature rejected", zap.Int("payload_bytes", len(payload)))
		return domain.ErrInvalidSignature
	}

	event, err := i.gateway.ParseWebhook(payload)
	if errors.Is(err, domain.ErrEventIgnored) {
		i.obs.IncWebhookResult("ignored")
		return nil
	}
	if err != nil {
		i.obs.IncWebhookResult("invalid")
		return err
	}

	record := &domain.WebhookEventRecord{
		ID:              i.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      i.clock.Now(),
	}
	inserted, err := i.repo.InsertEvent(ctx, i.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := i.repo.FindEvent(ctx, i.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrConflict
		}
		if existing.ProcessedAt != nil {
			i.obs.IncWebhookResult("duplicate")
			return domain.ErrEventAlreadyProcessed
		}
		// Recorded but never finished; resume under the original record.
		record = existing
	}

	if err := i.payments.HandleProviderEvent(ctx, event); err != nil {
		if i.terminal(err) {
			// Reprocessing cannot change the outcome; acknowledge so the
			// provider stops redelivering.
			i.markProcessed(ctx, record.ID)
			i.obs.IncWebhookResult("rejected")
			return err
		}
		i.obs.IncWebhookResult("error")
		return err
	}

	i.markProcessed(ctx, record.ID)
	i.obs.IncWebhookResult("ok")
	return nil
}

func (i *Ingestor) terminal(err error) bool {
	return errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidEvent) ||
		errors.Is(err, domain.ErrEventIgnored)
}

func (i *Ingestor) markProcessed(ctx context.Context, id snowflake.ID) {
	if err := i.repo.MarkEventProcessed(ctx, i.db, id, i.clock.Now()); err != nil {
		i.log.Error("failed to mark webhook event processed",
			zap.String("event_record_id", id.String()),
			zap.Error(err),
		)
	}
}
