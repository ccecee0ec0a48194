package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"options_bot/internal/prices"
	"options_bot/pkg/logger"
)

// State of the ticker connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// GaveUp means the reconnect budget is exhausted. The session stays
	// down until it is replaced by a token rotation; the process survives.
	GaveUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GaveUp:
		return "gave_up"
	}
	return "unknown"
}

// Health receives connectivity and tick liveness updates.
type Health interface {
	SetWSConnected(v bool)
	SetGaveUp(v bool)
	TouchTick(t time.Time)
}

// Config for one ticker session.
type Config struct {
	URL         string // wss endpoint with api_key/access_token query params
	Underlying  uint32 // always (re)subscribed on connect
	MaxAttempts int    // consecutive failed connects before GaveUp
}

// TickerURL builds the Kite ticker endpoint for a credential pair.
func TickerURL(apiKey, accessToken string) string {
	return fmt.Sprintf("wss://ws.kite.trade?api_key=%s&access_token=%s", apiKey, accessToken)
}

// Session owns one live ticker connection and keeps the price cache
// current. Subscriptions requested while disconnected are queued as
// pending and replayed on the next connect; a disconnect moves every
// active token back to pending.
type Session struct {
	cfg    Config
	cache  *prices.Cache
	health Health
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	pending map[uint32]struct{}
	active  map[uint32]struct{}
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(cfg Config, cache *prices.Cache, health Health) *Session {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	return &Session{
		cfg:     cfg,
		cache:   cache,
		health:  health,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: make(map[uint32]struct{}),
		active:  make(map[uint32]struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the connect loop. Call once.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	retryDelay := time.Second
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return
		default:
		}

		streamed, err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		if streamed {
			// The transport was up; start a fresh retry budget.
			attempts = 0
			retryDelay = time.Second
		}

		attempts++
		if attempts >= s.cfg.MaxAttempts {
			logger.Error("ticker: reconnect budget exhausted after %d attempts, giving up: %v", attempts, err)
			s.setState(GaveUp)
			if s.health != nil {
				s.health.SetWSConnected(false)
				s.health.SetGaveUp(true)
			}
			return
		}

		s.setState(Reconnecting)
		logger.Info("ticker: disconnected, retrying in %v: %v", retryDelay, err)
		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return
		case <-time.After(retryDelay):
		}
		if retryDelay < 60*time.Second {
			retryDelay *= 2
		} else {
			retryDelay = 60 * time.Second
		}
	}
}

// connectAndStream handles a single connection: dial, replay
// subscriptions, then pump ticks until the transport fails.
func (s *Session) connectAndStream(ctx context.Context) (bool, error) {
	s.setState(Connecting)

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial ticker: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return false, fmt.Errorf("session closed")
	}
	s.conn = conn
	s.state = Connected
	// Replay: mandatory underlying plus everything requested while down.
	// The underlying lands in pending after a disconnect too, so it is
	// skipped there to keep the subscribe batch duplicate-free.
	tokens := []uint32{s.cfg.Underlying}
	for t := range s.pending {
		if t != s.cfg.Underlying {
			tokens = append(tokens, t)
		}
	}
	for _, t := range tokens {
		delete(s.pending, t)
		s.active[t] = struct{}{}
	}
	s.mu.Unlock()

	if s.health != nil {
		s.health.SetWSConnected(true)
	}
	logger.Info("ticker: connected, subscribing %d tokens", len(tokens))

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.state = Disconnected
		for t := range s.active {
			delete(s.active, t)
			s.pending[t] = struct{}{}
		}
		s.mu.Unlock()
		if s.health != nil {
			s.health.SetWSConnected(false)
		}
	}()

	if err := writeSubscribe(conn, tokens); err != nil {
		return true, fmt.Errorf("subscribe on connect: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.BinaryMessage || len(msg) < 2 {
			// Text frames carry postbacks and errors; ticks are binary.
			continue
		}

		now := time.Now()
		for _, tick := range ParseBinaryTicks(msg, now) {
			s.cache.Update(tick.Token, tick.LastPrice)
		}
		if s.health != nil {
			s.health.TouchTick(now)
		}
	}
}

// Subscribe requests LTP ticks for a token. Safe before the first
// connect: the token waits in pending and is replayed on connect.
func (s *Session) Subscribe(token uint32) {
	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.pending[token] = struct{}{}
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.active[token] = struct{}{}
	s.mu.Unlock()

	if err := writeSubscribe(conn, []uint32{token}); err != nil {
		logger.Error("ticker: subscribe %d failed: %v", token, err)
		// The read loop will notice the broken transport and re-queue.
		s.mu.Lock()
		delete(s.active, token)
		s.pending[token] = struct{}{}
		s.mu.Unlock()
	}
}

func writeSubscribe(conn *websocket.Conn, tokens []uint32) error {
	sub, err := subscribeFrame(tokens)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return err
	}
	mode, err := modeLTPFrame(tokens)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, mode)
}

// Close tears the session down and waits for the connect loop to exit,
// so a caller replacing the session knows no more ticks will arrive.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	if s.cancel == nil { // never started
		close(s.done)
		return
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		logger.Error("ticker: close grace period expired")
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether ticks are currently flowing.
func (s *Session) IsConnected() bool { return s.State() == Connected }

// PendingTokens returns the tokens queued for replay, for status and tests.
func (s *Session) PendingTokens() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.pending))
	for t := range s.pending {
		out = append(out, t)
	}
	return out
}

// ActiveTokens returns the tokens acknowledged on the live transport.
func (s *Session) ActiveTokens() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.active))
	for t := range s.active {
		out = append(out, t)
	}
	return out
}
