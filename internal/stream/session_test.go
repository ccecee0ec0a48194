package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_bot/internal/prices"
)

type fakeHealth struct {
	mu        sync.Mutex
	connected bool
	gaveUp    bool
	lastTick  time.Time
}

func (f *fakeHealth) SetWSConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeHealth) SetGaveUp(v bool) {
	f.mu.Lock()
	f.gaveUp = v
	f.mu.Unlock()
}

func (f *fakeHealth) TouchTick(t time.Time) {
	f.mu.Lock()
	f.lastTick = t
	f.mu.Unlock()
}

func (f *fakeHealth) GaveUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gaveUp
}

// tickerConn is one accepted websocket connection on the fake ticker
// server. Subscribe commands arrive on subs as they are read.
type tickerConn struct {
	ws   *websocket.Conn
	subs chan []uint32
}

func (c *tickerConn) sendTick(t *testing.T, token uint32, paise int32) {
	t.Helper()
	require.NoError(t, c.ws.WriteMessage(websocket.BinaryMessage, tickFrame(ltpPacket(token, paise))))
}

type tickerServer struct {
	srv   *httptest.Server
	conns chan *tickerConn
}

func newTickerServer(t *testing.T) *tickerServer {
	t.Helper()
	ts := &tickerServer{conns: make(chan *tickerConn, 4)}
	upgrader := websocket.Upgrader{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := &tickerConn{ws: ws, subs: make(chan []uint32, 16)}
		ts.conns <- conn

		for {
			msgType, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var cmd struct {
				Action string          `json:"a"`
				Value  json.RawMessage `json:"v"`
			}
			if err := sonic.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			if cmd.Action != "subscribe" {
				continue
			}
			var tokens []uint32
			if err := sonic.Unmarshal(cmd.Value, &tokens); err != nil {
				continue
			}
			conn.subs <- tokens
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tickerServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *tickerServer) accept(t *testing.T) *tickerConn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func (c *tickerConn) nextSubscribe(t *testing.T) []uint32 {
	t.Helper()
	select {
	case tokens := <-c.subs:
		return tokens
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe frame arrived")
		return nil
	}
}

func TestSessionSubscribeBeforeStartIsPending(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused", Underlying: 256265}, prices.NewCache(), nil)

	s.Subscribe(111)

	assert.ElementsMatch(t, []uint32{111}, s.PendingTokens())
	assert.Empty(t, s.ActiveTokens())
}

func TestSessionConnectReplaysPendingAndPumpsTicks(t *testing.T) {
	ts := newTickerServer(t)
	cache := prices.NewCache()
	health := &fakeHealth{}

	s := NewSession(Config{URL: ts.url(), Underlying: 256265, MaxAttempts: 5}, cache, health)
	s.Subscribe(111)
	s.Start(context.Background())
	defer s.Close()

	conn := ts.accept(t)
	assert.ElementsMatch(t, []uint32{256265, 111}, conn.nextSubscribe(t))

	require.Eventually(t, func() bool {
		return s.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []uint32{256265, 111}, s.ActiveTokens())
	assert.Empty(t, s.PendingTokens())

	conn.sendTick(t, 256265, 2451055)
	require.Eventually(t, func() bool {
		p, ok := cache.Get(256265)
		return ok && p == 24510.55
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSessionSubscribeWhileConnected(t *testing.T) {
	ts := newTickerServer(t)

	s := NewSession(Config{URL: ts.url(), Underlying: 256265, MaxAttempts: 5}, prices.NewCache(), nil)
	s.Start(context.Background())
	defer s.Close()

	conn := ts.accept(t)
	conn.nextSubscribe(t)
	require.Eventually(t, func() bool {
		return s.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)

	s.Subscribe(222)
	assert.ElementsMatch(t, []uint32{222}, conn.nextSubscribe(t))
	assert.ElementsMatch(t, []uint32{256265, 222}, s.ActiveTokens())
}

func TestSessionReconnectResubscribesEverything(t *testing.T) {
	ts := newTickerServer(t)
	cache := prices.NewCache()

	s := NewSession(Config{URL: ts.url(), Underlying: 256265, MaxAttempts: 10}, cache, nil)
	s.Subscribe(111)
	s.Start(context.Background())
	defer s.Close()

	conn1 := ts.accept(t)
	conn1.nextSubscribe(t)
	require.Eventually(t, func() bool {
		return s.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)
	s.Subscribe(222)
	conn1.nextSubscribe(t)

	// Kill the transport; the session must come back with the full set.
	conn1.ws.Close()

	conn2 := ts.accept(t)
	assert.ElementsMatch(t, []uint32{256265, 111, 222}, conn2.nextSubscribe(t))
	require.Eventually(t, func() bool {
		return s.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []uint32{256265, 111, 222}, s.ActiveTokens())
}

func TestSessionNeverDuplicatesUnderlyingInReplay(t *testing.T) {
	ts := newTickerServer(t)

	s := NewSession(Config{URL: ts.url(), Underlying: 256265, MaxAttempts: 5}, prices.NewCache(), nil)
	// The underlying queued as pending must fold into the mandatory slot.
	s.Subscribe(256265)
	s.Subscribe(111)
	s.Start(context.Background())
	defer s.Close()

	conn := ts.accept(t)
	assert.Equal(t, []uint32{111, 256265}, sortedTokens(conn.nextSubscribe(t)))
	require.Eventually(t, func() bool {
		return s.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint32{111, 256265}, sortedTokens(s.ActiveTokens()))
	assert.Empty(t, s.PendingTokens())
}

func sortedTokens(in []uint32) []uint32 {
	out := append([]uint32(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestSessionGivesUpAfterBudget(t *testing.T) {
	health := &fakeHealth{}
	s := NewSession(Config{
		URL:         "ws://127.0.0.1:1",
		Underlying:  256265,
		MaxAttempts: 2,
	}, prices.NewCache(), health)
	s.Start(context.Background())
	defer s.Close()

	require.Eventually(t, func() bool {
		return s.State() == GaveUp
	}, 10*time.Second, 50*time.Millisecond)
	assert.True(t, health.GaveUp())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ts := newTickerServer(t)

	s := NewSession(Config{URL: ts.url(), Underlying: 256265, MaxAttempts: 5}, prices.NewCache(), nil)
	s.Start(context.Background())
	ts.accept(t)

	s.Close()
	s.Close()
	assert.Equal(t, Disconnected, s.State())
}

func TestSessionCloseBeforeStart(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused", Underlying: 256265}, prices.NewCache(), nil)
	s.Close()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "gave_up", GaveUp.String())
}

func TestTickerURL(t *testing.T) {
	assert.Equal(t,
		"wss://ws.kite.trade?api_key=key&access_token=tok",
		TickerURL("key", "tok"))
}
