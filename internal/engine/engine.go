package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"options_bot/internal/ledger"
	"options_bot/internal/models"
	"options_bot/internal/modules/config"
	"options_bot/internal/notify"
	"options_bot/internal/prices"
	"options_bot/pkg/logger"
)

// Session is the engine's view of the session manager.
type Session interface {
	IsReady() bool
	UnderlyingToken() uint32
	Subscribe(token uint32)
	NearestOption(underlyingPrice float64, kind models.OptionKind, asOf time.Time) (models.Contract, error)
	QuoteMargin(ctx context.Context, symbol string, price float64, qty int) (float64, error)
}

// ExitResult describes one fired exit.
type ExitResult struct {
	Reason   models.ExitReason
	Symbol   string
	Price    float64
	PnL      float64
	PnLPct   float64
	RecordID int64
}

// Engine is the state machine for the single open paper position. One
// mutex guards the position slot and the last admitted signal across
// entry admission and exit evaluation, so exactly one of {new entry,
// flip exit, rule exit} is ever in flight.
type Engine struct {
	cfg      *config.Config
	cache    *prices.Cache
	session  Session
	ledger   ledger.Ledger
	notifier notify.Notifier

	mu         sync.Mutex
	position   *models.Position
	lastSignal models.SignalKind
}

func NewEngine(cfg *config.Config, cache *prices.Cache, sess Session, led ledger.Ledger, n notify.Notifier) *Engine {
	return &Engine{
		cfg:      cfg,
		cache:    cache,
		session:  sess,
		ledger:   led,
		notifier: n,
	}
}

// AdmitEntry handles one external signal: flip handling, contract
// resolution, entry pricing, margin quote, ledger row, position
// creation. The position mutex is held for the whole decision except the
// bounded entry-price poll, which runs lock-free — no position exists at
// that point, so no invariant is at risk; the slot is re-checked after
// the poll.
func (e *Engine) AdmitEntry(ctx context.Context, kind models.SignalKind, now time.Time) (models.Summary, error) {
	if !e.session.IsReady() {
		return models.Summary{}, ErrNotReady
	}
	if !kind.Valid() {
		return models.Summary{}, ErrInvalidSignal
	}

	e.mu.Lock()

	underlying, ok := e.cache.Get(e.session.UnderlyingToken())
	if !ok {
		e.mu.Unlock()
		return models.Summary{}, fmt.Errorf("underlying not ticked yet: %w", ErrPriceUnavailable)
	}

	// Signal flip: a signal opposite to the open position forces an exit
	// before anything else. No cached price for the position means the
	// flip is skipped and the position stays open.
	if e.position != nil && kind != e.position.Signal {
		if px, ok := e.cache.Get(e.position.Token); ok {
			e.exitLocked(ctx, px, models.ExitSignalFlip, now)
		} else {
			logger.Info("engine: flip exit skipped for %s, no cached price", e.position.Symbol)
		}
	}

	if e.position != nil {
		e.mu.Unlock()
		return models.Summary{}, ErrAlreadyRunning
	}

	contract, err := e.session.NearestOption(underlying, kind.OptionKind(), now)
	if err != nil {
		e.mu.Unlock()
		return models.Summary{}, fmt.Errorf("resolve contract: %v: %w", err, ErrPriceUnavailable)
	}
	e.session.Subscribe(contract.Token)
	e.mu.Unlock()

	entryPrice, err := e.pollEntryPrice(ctx, contract.Token)
	if err != nil {
		return models.Summary{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another admission may have won the slot during the poll.
	if e.position != nil {
		return models.Summary{}, ErrAlreadyRunning
	}

	margin, err := e.session.QuoteMargin(ctx, contract.Symbol, entryPrice, contract.LotSize)
	if err != nil {
		return models.Summary{}, fmt.Errorf("quote margin: %v: %w", err, ErrMarginUnavailable)
	}

	recordID, err := e.ledger.RecordEntry(ctx, ledger.Entry{
		Time:   now,
		Signal: kind,
		Strike: contract.Strike,
		Kind:   contract.Kind,
		Symbol: contract.Symbol,
		Price:  entryPrice,
		Margin: margin,
	})
	if err != nil {
		return models.Summary{}, fmt.Errorf("record entry: %v: %w", err, ErrLedgerWrite)
	}

	pos := &models.Position{
		Signal:      kind,
		Token:       contract.Token,
		Symbol:      contract.Symbol,
		Strike:      contract.Strike,
		Kind:        contract.Kind,
		EntryPrice:  entryPrice,
		Quantity:    e.cfg.LotSize,
		LotSize:     contract.LotSize,
		EntryMargin: margin,
		StopLoss:    entryPrice * (1 - e.cfg.SLPct),
		Target:      entryPrice * (1 + e.cfg.TargetPct),
		EnteredAt:   now,
		Deadline:    now.Add(e.cfg.MaxTradeDuration),
		RecordID:    recordID,
	}
	e.position = pos
	e.lastSignal = kind

	logger.Info("engine: ENTRY %s @ %.2f (sl %.2f, target %.2f)", pos.Symbol, pos.EntryPrice, pos.StopLoss, pos.Target)
	if e.notifier != nil {
		e.notifier.Sendf("🟢 ENTRY %s @ %.2f\nSL %.2f | Target %.2f | Margin %.2f",
			pos.Symbol, pos.EntryPrice, pos.StopLoss, pos.Target, pos.EntryMargin)
	}
	return pos.View(), nil
}

// pollEntryPrice waits for the first tick of a freshly subscribed option.
// Bounded: attempts x interval from config. Runs without the position lock.
func (e *Engine) pollEntryPrice(ctx context.Context, token uint32) (float64, error) {
	for i := 0; i < e.cfg.EntryPollAttempts; i++ {
		if p, ok := e.cache.Get(token); ok {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(e.cfg.EntryPollInterval):
		}
	}
	return 0, fmt.Errorf("no tick for token %d after %d attempts: %w",
		token, e.cfg.EntryPollAttempts, ErrPriceUnavailable)
}

// EvaluateExit runs one monitor pass: trailing-stop ratchet, then at most
// one exit per pass in fixed precedence — time, stop-loss, target.
func (e *Engine) EvaluateExit(ctx context.Context, now time.Time) *ExitResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.position == nil {
		return nil
	}
	px, ok := e.cache.Get(e.position.Token)
	if !ok {
		return nil
	}

	// Ratchet: the stop only ever moves up.
	if cand := px * (1 - e.cfg.TrailPct); cand > e.position.StopLoss {
		e.position.StopLoss = cand
	}

	if !now.Before(e.position.Deadline) {
		return e.exitLocked(ctx, px, models.ExitTime, now)
	}
	if px <= e.position.StopLoss {
		return e.exitLocked(ctx, px, models.ExitStopLoss, now)
	}
	if px >= e.position.Target {
		return e.exitLocked(ctx, px, models.ExitTarget, now)
	}
	return nil
}

// exitLocked closes the open position: requote margin (entry margin as a
// flagged fallback), compute PnL, write the exit row, clear the slot.
// The in-memory clear is unconditional — a failed ledger write is logged,
// not allowed to wedge the position. Caller holds the mutex.
func (e *Engine) exitLocked(ctx context.Context, exitPrice float64, reason models.ExitReason, now time.Time) *ExitResult {
	pos := e.position

	exitMargin := pos.EntryMargin
	estimated := true
	if m, err := e.session.QuoteMargin(ctx, pos.Symbol, exitPrice, pos.LotSize); err == nil {
		exitMargin = m
		estimated = false
	} else {
		logger.Error("engine: exit margin quote failed for %s, falling back to entry margin: %v", pos.Symbol, err)
	}

	pnl := (exitPrice - pos.EntryPrice) * float64(pos.Quantity)
	pnlPct := 0.0
	if pos.EntryMargin != 0 {
		pnlPct = pnl / pos.EntryMargin * 100
	}

	if err := e.ledger.RecordExit(ctx, pos.RecordID, ledger.Exit{
		Time:            now,
		Price:           exitPrice,
		Margin:          exitMargin,
		MarginEstimated: estimated,
		PnL:             pnl,
		PnLPct:          pnlPct,
		Reason:          reason,
	}); err != nil {
		// The audit sink is best-effort: financial truth lives in memory.
		logger.Error("engine: exit ledger write failed for trade %d: %v", pos.RecordID, err)
	}

	logger.Info("engine: EXIT %s %s @ %.2f, pnl %.2f (%.2f%%)", reason, pos.Symbol, exitPrice, pnl, pnlPct)
	if e.notifier != nil {
		e.notifier.Sendf("🔴 EXIT %s %s @ %.2f\nPnL %.2f (%.2f%%)", reason, pos.Symbol, exitPrice, pnl, pnlPct)
	}

	res := &ExitResult{
		Reason:   reason,
		Symbol:   pos.Symbol,
		Price:    exitPrice,
		PnL:      pnl,
		PnLPct:   pnlPct,
		RecordID: pos.RecordID,
	}
	e.position = nil
	return res
}

// OpenToken reports the open position's instrument token, for
// resubscription after a session replacement.
func (e *Engine) OpenToken() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position == nil {
		return 0, false
	}
	return e.position.Token, true
}

// Snapshot returns the position view for /status, or nil when flat.
func (e *Engine) Snapshot() *models.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position == nil {
		return nil
	}
	v := e.position.View()
	return &v
}
