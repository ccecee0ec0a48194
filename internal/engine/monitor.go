package engine

import (
	"context"
	"time"
)

// RunMonitor drives exit evaluation at a fixed period until the context
// ends. A failed pass (bad ledger write, margin quote timeout) is logged
// inside EvaluateExit and never stops the loop.
func (e *Engine) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateExit(ctx, time.Now())
		}
	}
}
