package main

import (
	"context"

	"go.uber.org/fx"

	"options_bot/internal/engine"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/health"
	"options_bot/internal/modules/postgres"
	"options_bot/internal/modules/webhook"
	"options_bot/internal/notify"
	"options_bot/internal/prices"
	"options_bot/internal/session"
	"options_bot/pkg/logger"
)

func main() {
	logger.SetServiceName("options_bot")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			prices.NewCache,
		),
		config.Module(),
		postgres.Module(),
		health.Module(),
		notify.Module(),
		session.Module(),
		engine.Module(),
		webhook.Module(),
	)
	app.Run()
}
