package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/auth"
	"github.com/sahayak-app/sahayak/internal/clock"
	"github.com/sahayak-app/sahayak/internal/config"
	"github.com/sahayak-app/sahayak/internal/eventbus"
	"github.com/sahayak-app/sahayak/internal/logger"
	"github.com/sahayak-app/sahayak/internal/migration"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"github.com/sahayak-app/sahayak/internal/payment"
	"github.com/sahayak-app/sahayak/internal/server"
	"github.com/sahayak-app/sahayak/internal/task"
	"github.com/sahayak-app/sahayak/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		obsmetrics.Module,
		eventbus.Module,
		auth.Module,

		// Functional domains
		task.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
