package migration

import (
	"context"

	"github.com/smallbiznis/vervex/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger, seeder *seed.Seeder) error {
		if err := Apply(conn); err != nil {
			return err
		}
		log.Info("database schema up to date")
		return seeder.EnsureSuperadmin(context.Background())
	}),
)
