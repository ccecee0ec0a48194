package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"options_bot/internal/ledger"
	"options_bot/internal/modules/config"
	"options_bot/pkg/db"
)

// Module provides the pgx pool and the Postgres trade ledger on top of it.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
			func(tm *db.PgTxManager) *ledger.Postgres {
				return ledger.NewPostgres(tm)
			},
			func(pg *ledger.Postgres) ledger.Ledger { return pg },
		),
		fx.Invoke(func(lc fx.Lifecycle, pg *ledger.Postgres, tm *db.PgTxManager) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return pg.EnsureSchema(ctx)
				},
				OnStop: func(ctx context.Context) error {
					tm.Close()
					return nil
				},
			})
		}),
	)
}
