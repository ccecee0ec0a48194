package webhook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"options_bot/internal/engine"
	"options_bot/internal/modules/config"
	"options_bot/internal/session"
	"options_bot/pkg/logger"
	"options_bot/pkg/tracing"
)

// Module serves the public HTTP surface: POST /webhook (signals),
// GET /accesstoken (token rotation), GET /status.
func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(
			func(e *engine.Engine) PositionEngine { return e },
			func(m *session.Manager) SessionManager { return m },
			NewHandler,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, h *Handler) {
			srv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port),
				Handler:           h.Mux(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			var closeTracer func()
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					tracing.SetServiceName("options_bot")
					if cfg.Jaeger.Host != "" {
						_, closer, err := tracing.InitTracer(tracing.Config{
							Host: cfg.Jaeger.Host,
							Port: cfg.Jaeger.Port,
						})
						if err != nil {
							// Spans fall back to the no-op global tracer.
							logger.Error("webhook: jaeger init failed: %v", err)
						} else {
							closeTracer = closer
						}
					}

					ln, err := net.Listen("tcp", srv.Addr)
					if err != nil {
						return err
					}
					logger.Info("webhook: listening on %s", srv.Addr)
					go func() { _ = srv.Serve(ln) }()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					if closeTracer != nil {
						closeTracer()
					}
					return srv.Shutdown(ctx)
				},
			})
		}),
	)
}
