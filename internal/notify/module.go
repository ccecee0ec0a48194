package notify

import (
	"go.uber.org/fx"

	"options_bot/internal/modules/config"
	"options_bot/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config) Notifier {
				t, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
				if err != nil {
					// Notification is best-effort; trade without it.
					logger.Error("telegram: init failed, notifications disabled: %v", err)
				}
				return t
			},
		),
	)
}
