package ledger

import (
	"context"
	"fmt"

	"options_bot/pkg/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id                    BIGSERIAL PRIMARY KEY,
    entry_time            TIMESTAMPTZ NOT NULL,
    signal                TEXT NOT NULL,
    strike                DOUBLE PRECISION NOT NULL,
    option_kind           TEXT NOT NULL,
    symbol                TEXT NOT NULL,
    entry_price           DOUBLE PRECISION NOT NULL,
    entry_margin          DOUBLE PRECISION NOT NULL,
    exit_time             TIMESTAMPTZ,
    exit_price            DOUBLE PRECISION,
    exit_margin           DOUBLE PRECISION,
    exit_margin_estimated BOOLEAN NOT NULL DEFAULT FALSE,
    pnl                   DOUBLE PRECISION,
    pnl_pct               DOUBLE PRECISION,
    exit_reason           TEXT
)`

// Postgres keeps the trade ledger in a single trades table: entries are
// appended, exits update the same row by id.
type Postgres struct {
	tm db.TxManager
}

func NewPostgres(tm db.TxManager) *Postgres {
	return &Postgres{tm: tm}
}

// EnsureSchema creates the trades table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.tm.Conn().Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure trades schema: %w", err)
	}
	return nil
}

func (p *Postgres) RecordEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := p.tm.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return tx.QueryRow(ctx,
			`INSERT INTO trades (entry_time, signal, strike, option_kind, symbol, entry_price, entry_margin)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			e.Time, string(e.Signal), e.Strike, string(e.Kind), e.Symbol, e.Price, e.Margin,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("record entry: %w", err)
	}
	return id, nil
}

func (p *Postgres) RecordExit(ctx context.Context, id int64, e Exit) error {
	err := p.tm.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctx,
			`UPDATE trades
			 SET exit_time = $2, exit_price = $3, exit_margin = $4,
			     exit_margin_estimated = $5, pnl = $6, pnl_pct = $7, exit_reason = $8
			 WHERE id = $1 AND exit_time IS NULL`,
			id, e.Time, e.Price, e.Margin, e.MarginEstimated, e.PnL, e.PnLPct, string(e.Reason),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("trade %d not found or already closed", id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record exit: %w", err)
	}
	return nil
}
