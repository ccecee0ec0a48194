package models

import "time"

// SignalKind is the direction of an external entry signal.
type SignalKind string

const (
	SignalBuyCall SignalKind = "BUY_CALL"
	SignalBuyPut  SignalKind = "BUY_PUT"
)

// Valid reports whether the signal is one of the two recognized kinds.
func (s SignalKind) Valid() bool {
	return s == SignalBuyCall || s == SignalBuyPut
}

// OptionKind returns the option type the signal trades: CE for calls, PE for puts.
func (s SignalKind) OptionKind() OptionKind {
	if s == SignalBuyCall {
		return OptionCE
	}
	return OptionPE
}

// OptionKind is the NFO instrument type of an option contract.
type OptionKind string

const (
	OptionCE OptionKind = "CE"
	OptionPE OptionKind = "PE"
)

// Tick is one last-traded-price update from the ticker stream.
type Tick struct {
	Token     uint32
	LastPrice float64
	At        time.Time
}

// Contract is one tradeable option contract from the broker catalog.
type Contract struct {
	Token   uint32
	Symbol  string
	Strike  float64
	Kind    OptionKind
	Expiry  time.Time
	LotSize int
}

// ExitReason names why an open position was closed.
type ExitReason string

const (
	ExitTime       ExitReason = "TIME_EXIT"
	ExitStopLoss   ExitReason = "SL_HIT"
	ExitTarget     ExitReason = "TARGET_HIT"
	ExitSignalFlip ExitReason = "SIGNAL_FLIP"
)

// Position is the single open paper position.
// StopLoss only ever moves up (trailing ratchet); Deadline is absolute.
type Position struct {
	Signal      SignalKind
	Token       uint32
	Symbol      string
	Strike      float64
	Kind        OptionKind
	EntryPrice  float64
	Quantity    int // paper quantity used for PnL
	LotSize     int // broker lot size used for margin quotes
	EntryMargin float64
	StopLoss    float64
	Target      float64
	EnteredAt   time.Time
	Deadline    time.Time
	RecordID    int64
}

// Summary is the read-only view of a position exposed via /status.
type Summary struct {
	Symbol     string     `json:"symbol"`
	Signal     SignalKind `json:"signal"`
	Strike     float64    `json:"strike"`
	EntryPrice float64    `json:"entry_price"`
	StopLoss   float64    `json:"stop_loss"`
	Target     float64    `json:"target"`
	Deadline   time.Time  `json:"deadline"`
}

// View builds the status view of the position.
func (p *Position) View() Summary {
	return Summary{
		Symbol:     p.Symbol,
		Signal:     p.Signal,
		Strike:     p.Strike,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		Target:     p.Target,
		Deadline:   p.Deadline,
	}
}
