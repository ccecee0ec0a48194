package engine

import (
	"context"

	"go.uber.org/fx"

	"options_bot/internal/session"
)

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			func(m *session.Manager) Session { return m },
			NewEngine,
		),
		fx.Invoke(func(lc fx.Lifecycle, e *Engine, m *session.Manager, ctx context.Context) {
			m.SetResubscribeHook(e.OpenToken)
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go e.RunMonitor(ctx)
					return nil
				},
			})
		}),
	)
}
