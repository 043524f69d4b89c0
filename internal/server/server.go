package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	"github.com/sahayak-app/sahayak/internal/config"
	paymentdomain "github.com/sahayak-app/sahayak/internal/payment/domain"
	"github.com/sahayak-app/sahayak/internal/payment/webhook"
	taskdomain "github.com/sahayak-app/sahayak/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	genID      *snowflake.Node
	verifier   authdomain.Verifier
	taskSvc    taskdomain.Service
	paymentSvc paymentdomain.Service
	webhooks   *webhook.Ingestor
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GenID      *snowflake.Node
	Verifier   authdomain.Verifier
	TaskSvc    taskdomain.Service
	PaymentSvc paymentdomain.Service
	Webhooks   *webhook.Ingestor
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		verifier:   p.Verifier,
		taskSvc:    p.TaskSvc,
		paymentSvc: p.PaymentSvc,
		webhooks:   p.Webhooks,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.AuthRequired())

	v1.POST("/tasks", s.CreateTask)
	v1.GET("/tasks/:id", s.GetTask)
	v1.POST("/tasks/:id/assign", s.AssignHelper)
	v1.POST("/tasks/:id/status", s.ChangeTaskStatus)
	v1.POST("/tasks/:id/cancel", s.CancelTask)

	v1.GET("/payments/:id", s.GetPayment)
	v1.POST("/payments/:id/refund", s.RefundPayment)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/razorpay", s.HandleGatewayWebhook)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
