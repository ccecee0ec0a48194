package session

import (
	"context"

	"go.uber.org/fx"

	"options_bot/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("session",
		fx.Provide(
			NewManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// Not ready is a survivable state: the operator can
					// rotate the token via /accesstoken later.
					if err := m.Initialize(ctx); err != nil {
						logger.Error("session: initialize failed, waiting for token rotation: %v", err)
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					m.Close()
					return nil
				},
			})
		}),
	)
}
