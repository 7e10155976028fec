package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/config"
	"github.com/smallbiznis/vervex/internal/migration"
	"github.com/smallbiznis/vervex/internal/observability"
	"github.com/smallbiznis/vervex/internal/server"
	"github.com/smallbiznis/vervex/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// HTTP surface and the domain services behind it
		server.Module,
		migration.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
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
