package migration

import (
	"github.com/sahayak-app/sahayak/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// The embedded migrations are postgres DDL; other dialects are for
		// local tooling and manage their own schema.
		if cfg.DBType != "postgres" {
			log.Named("migration").Info("schema migrations skipped", zap.String("db_type", cfg.DBType))
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
