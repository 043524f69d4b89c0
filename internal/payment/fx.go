package payment

import (
	"github.com/sahayak-app/sahayak/internal/config"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"github.com/sahayak-app/sahayak/internal/payment/domain"
	"github.com/sahayak-app/sahayak/internal/payment/gateway/razorpay"
	"github.com/sahayak-app/sahayak/internal/payment/repository"
	paymentservice "github.com/sahayak-app/sahayak/internal/payment/service"
	"github.com/sahayak-app/sahayak/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewGateway(cfg config.Config, log *zap.Logger, obs *obsmetrics.Metrics) domain.Gateway {
	return razorpay.New(cfg.Gateway, log, obs)
}

// RegisterSubscribers binds the payment queue to the task lifecycle events
// that drive the order/capture/fail saga.
func RegisterSubscribers(bus eventbus.Bus, svc domain.Service) error {
	return bus.Subscribe("payments", []string{
		eventbus.EventTaskAssigned,
		eventbus.EventTaskCompleted,
		eventbus.EventTaskCancelled,
	}, svc.HandleTaskEvent)
}

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewGateway),
	fx.Provide(
		paymentservice.NewService,
		func(s *paymentservice.Service) domain.Service { return s },
	),
	fx.Provide(webhook.NewIngestor),
	fx.Invoke(RegisterSubscribers),
)
