package ledger

import (
	"context"
	"time"

	"options_bot/internal/models"
)

// Entry is one recorded trade entry.
type Entry struct {
	Time   time.Time
	Signal models.SignalKind
	Strike float64
	Kind   models.OptionKind
	Symbol string
	Price  float64
	Margin float64
}

// Exit completes a previously recorded entry.
type Exit struct {
	Time   time.Time
	Price  float64
	Margin float64
	// MarginEstimated marks the exit margin as a fallback to the entry
	// margin because the quote service could not answer at exit time.
	MarginEstimated bool
	PnL             float64
	PnLPct          float64
	Reason          models.ExitReason
}

// Ledger is the trade audit sink. Exactly one RecordExit per RecordEntry.
type Ledger interface {
	RecordEntry(ctx context.Context, e Entry) (int64, error)
	RecordExit(ctx context.Context, id int64, e Exit) error
}
