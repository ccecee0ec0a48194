package engine

import "errors"

// Entry admission failures, surfaced verbatim to the signal ingress.
var (
	// ErrNotReady: no validated broker session; recoverable via token rotation.
	ErrNotReady = errors.New("session not ready")
	// ErrInvalidSignal: the signal is not one of the recognized kinds.
	ErrInvalidSignal = errors.New("invalid signal")
	// ErrPriceUnavailable: no cached tick for the instrument in time; transient.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrMarginUnavailable: the margin quote service could not answer; the
	// entry is aborted with no partial state.
	ErrMarginUnavailable = errors.New("margin unavailable")
	// ErrAlreadyRunning: a position is already open for the same direction.
	ErrAlreadyRunning = errors.New("trade already running")
	// ErrLedgerWrite: the entry could not be recorded; no position is created.
	ErrLedgerWrite = errors.New("ledger write failed")
)
