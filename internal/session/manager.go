package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"options_bot/internal/broker"
	"options_bot/internal/models"
	"options_bot/internal/modules/config"
	"options_bot/internal/modules/health"
	"options_bot/internal/prices"
	"options_bot/internal/stream"
	"options_bot/pkg/logger"
)

// BrokerClient is what the manager needs from the Kite REST client.
type BrokerClient interface {
	SetAccessToken(token string)
	AccessToken() string
	Profile(ctx context.Context) (string, error)
	GenerateSession(ctx context.Context, requestToken, apiSecret string) (string, error)
	Instruments(ctx context.Context, underlying string) (*broker.Catalog, error)
	OrderMargin(ctx context.Context, symbol string, price float64, qty int) (float64, error)
}

// Streamer is the live ticker session owned by the manager.
type Streamer interface {
	Start(ctx context.Context)
	Subscribe(token uint32)
	Close()
	IsConnected() bool
	State() stream.State
}

// ResubscribeHook reports the instrument token of the currently open
// position, if any, so a rebuilt session can requeue it.
type ResubscribeHook func() (uint32, bool)

// Manager owns the credential lifecycle: it validates the broker client,
// runs exactly one streaming session at a time, and swaps both when the
// access token is rotated — without a process restart.
type Manager struct {
	cfg    *config.Config
	cache  *prices.Cache
	health *health.State

	newClient func() BrokerClient
	newStream func(url string) Streamer

	mu      sync.Mutex // serializes Initialize / UpdateToken
	client  BrokerClient
	catalog *broker.Catalog
	stream  Streamer
	resub   ResubscribeHook
}

func NewManager(cfg *config.Config, cache *prices.Cache, st *health.State) *Manager {
	m := &Manager{
		cfg:    cfg,
		cache:  cache,
		health: st,
	}
	m.newClient = func() BrokerClient {
		return broker.NewClient(cfg.Kite.APIKey)
	}
	m.newStream = func(url string) Streamer {
		return stream.NewSession(stream.Config{
			URL:         url,
			Underlying:  cfg.UnderlyingToken,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		}, cache, st)
	}
	return m
}

// SetResubscribeHook is called once by the engine during wiring.
func (m *Manager) SetResubscribeHook(h ResubscribeHook) {
	m.mu.Lock()
	m.resub = h
	m.mu.Unlock()
}

// Initialize builds and validates a broker client from the persisted
// access token and starts a fresh streaming session. On failure the
// manager ends up not ready (no client, no session) and the cause is
// returned; it never panics into the caller.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	err := m.initializeLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.requeuePosition()
	return nil
}

// requeuePosition asks the engine for the open position token and
// subscribes it on the fresh session. Runs without the manager mutex:
// the hook takes the engine's position lock, and the engine may itself
// be blocked on a manager call.
func (m *Manager) requeuePosition() {
	m.mu.Lock()
	hook, s := m.resub, m.stream
	m.mu.Unlock()
	if hook == nil || s == nil {
		return
	}
	if posToken, ok := hook(); ok {
		s.Subscribe(posToken)
		logger.Info("session: requeued position token %d", posToken)
	}
}

func (m *Manager) initializeLocked(ctx context.Context) error {
	// Any previous session must be fully retired before a new transport
	// exists, so two streams never deliver ticks at once.
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	m.client = nil
	m.health.SetReady(false)

	token, err := m.readToken()
	if err != nil {
		return fmt.Errorf("read access token: %w", err)
	}

	client := m.newClient()
	client.SetAccessToken(token)

	userID, err := client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}

	catalog, err := client.Instruments(ctx, m.cfg.UnderlyingName)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	logger.Info("session: validated user %s, %d %s option contracts", userID, catalog.Len(), m.cfg.UnderlyingName)

	m.client = client
	m.catalog = catalog
	m.health.SetReady(true)
	m.health.SetGaveUp(false)

	// Subscriptions do not survive a session replacement: the underlying
	// index rides the connect handshake, the open position (if any) is
	// requeued by the caller via requeuePosition.
	s := m.newStream(stream.TickerURL(m.cfg.Kite.APIKey, token))
	s.Start(context.Background()) // outlives the init call
	m.stream = s
	return nil
}

// UpdateToken persists a rotated access token and rebuilds the whole
// session around it. Serialized with Initialize, so concurrent rotations
// cannot race.
func (m *Manager) UpdateToken(ctx context.Context, token string) error {
	m.mu.Lock()

	if err := os.WriteFile(m.cfg.Kite.TokenFile, []byte(token), 0o600); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist access token: %w", err)
	}
	err := m.initializeLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.requeuePosition()
	return nil
}

// GenerateSession exchanges a login request token for an access token.
// Works even when the manager is not ready: a throwaway client does the
// exchange.
func (m *Manager) GenerateSession(ctx context.Context, requestToken string) (string, error) {
	return m.newClient().GenerateSession(ctx, requestToken, m.cfg.Kite.APISecret)
}

func (m *Manager) readToken() (string, error) {
	b, err := os.ReadFile(m.cfg.Kite.TokenFile)
	if err != nil {
		return "", err
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", fmt.Errorf("token file %s is empty", m.cfg.Kite.TokenFile)
	}
	return t, nil
}

// IsReady reports whether a validated broker client exists. Streaming
// connectivity is intentionally a separate signal.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// IsStreaming reports whether the ticker transport is currently up.
func (m *Manager) IsStreaming() bool {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	return s != nil && s.IsConnected()
}

// StreamState returns the ticker state machine position.
func (m *Manager) StreamState() stream.State {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return stream.Disconnected
	}
	return s.State()
}

// Close retires the streaming session on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

// UnderlyingToken is the mandatory index instrument.
func (m *Manager) UnderlyingToken() uint32 { return m.cfg.UnderlyingToken }

// Subscribe forwards to the live streaming session, if any.
func (m *Manager) Subscribe(token uint32) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.Subscribe(token)
	}
}

// NearestOption resolves the at-the-money contract for the option kind.
func (m *Manager) NearestOption(underlyingPrice float64, kind models.OptionKind, asOf time.Time) (models.Contract, error) {
	m.mu.Lock()
	cat := m.catalog
	m.mu.Unlock()
	if cat == nil {
		return models.Contract{}, fmt.Errorf("no instrument catalog: session not ready")
	}
	return cat.NearestOption(underlyingPrice, kind, m.cfg.StrikeStep, asOf)
}

// QuoteMargin asks the broker for the margin of one lot at the price.
func (m *Manager) QuoteMargin(ctx context.Context, symbol string, price float64, qty int) (float64, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return 0, fmt.Errorf("no broker client: session not ready")
	}
	return client.OrderMargin(ctx, symbol, price, qty)
}
