package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"

	"options_bot/internal/engine"
	"options_bot/internal/models"
	"options_bot/internal/modules/config"
	"options_bot/internal/prices"
	"options_bot/internal/stream"
	"options_bot/pkg/logger"
)

// PositionEngine is what the signal ingress needs from the engine.
type PositionEngine interface {
	AdmitEntry(ctx context.Context, kind models.SignalKind, now time.Time) (models.Summary, error)
	Snapshot() *models.Summary
}

// SessionManager is what the rotation and status endpoints need.
type SessionManager interface {
	IsReady() bool
	IsStreaming() bool
	StreamState() stream.State
	GenerateSession(ctx context.Context, requestToken string) (string, error)
	UpdateToken(ctx context.Context, token string) error
}

// Handler serves the three operator-facing endpoints: signal ingress,
// access-token rotation and the status snapshot.
type Handler struct {
	cfg     *config.Config
	engine  PositionEngine
	manager SessionManager
	cache   *prices.Cache
}

func NewHandler(cfg *config.Config, e PositionEngine, m SessionManager, cache *prices.Cache) *Handler {
	return &Handler{cfg: cfg, engine: e, manager: m, cache: cache}
}

func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", traced("webhook", h.handleSignal))
	mux.HandleFunc("/accesstoken", traced("accesstoken", h.handleAccessToken))
	mux.HandleFunc("/status", traced("status", h.handleStatus))
	return mux
}

// traced wraps a handler in an opentracing span.
func traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		span := opentracing.GlobalTracer().StartSpan(name)
		defer span.Finish()
		next(w, r.WithContext(opentracing.ContextWithSpan(r.Context(), span)))
	}
}

type signalRequest struct {
	Signal models.SignalKind `json:"signal"`
}

type signalResponse struct {
	Status string `json:"status"`
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, signalResponse{Status: "INVALID_SIGNAL", Error: "unreadable body"})
		return
	}
	var req signalRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, signalResponse{Status: "INVALID_SIGNAL", Error: "bad json"})
		return
	}

	summary, err := h.engine.AdmitEntry(r.Context(), req.Signal, time.Now())
	if err != nil {
		writeJSON(w, http.StatusOK, outcome(err))
		return
	}
	writeJSON(w, http.StatusOK, signalResponse{Status: "ENTRY_OK", Symbol: summary.Symbol})
}

// outcome maps engine errors onto the caller-visible result tokens.
func outcome(err error) signalResponse {
	switch {
	case errors.Is(err, engine.ErrInvalidSignal):
		return signalResponse{Status: "INVALID_SIGNAL"}
	case errors.Is(err, engine.ErrNotReady):
		return signalResponse{Status: "NOT_READY"}
	case errors.Is(err, engine.ErrAlreadyRunning):
		return signalResponse{Status: "ALREADY_RUNNING"}
	case errors.Is(err, engine.ErrPriceUnavailable):
		return signalResponse{Status: "PRICE_UNAVAILABLE", Error: err.Error()}
	case errors.Is(err, engine.ErrMarginUnavailable):
		return signalResponse{Status: "MARGIN_UNAVAILABLE", Error: err.Error()}
	case errors.Is(err, engine.ErrLedgerWrite):
		return signalResponse{Status: "LEDGER_ERROR", Error: err.Error()}
	}
	return signalResponse{Status: "ERROR", Error: err.Error()}
}

func (h *Handler) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	requestToken := r.URL.Query().Get("request_token")
	if requestToken == "" {
		http.Error(w, "request_token not found", http.StatusBadRequest)
		return
	}

	token, err := h.manager.GenerateSession(r.Context(), requestToken)
	if err != nil {
		logger.Error("webhook: session exchange failed: %v", err)
		http.Error(w, "error generating token: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.manager.UpdateToken(r.Context(), token); err != nil {
		logger.Error("webhook: token rotation failed: %v", err)
		http.Error(w, "token saved but session rebuild failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<h2>Access token updated</h2>
<p><b>Time:</b> %s</p>
<p>Session rebuilt, streaming: %v</p>
<p>You can close this tab.</p>`,
		time.Now().Format("2006-01-02 15:04:05"), h.manager.IsStreaming())
}

type statusResponse struct {
	Ready              bool            `json:"ready"`
	StreamingConnected bool            `json:"streaming_connected"`
	StreamState        string          `json:"stream_state"`
	UnderlyingPrice    *float64        `json:"underlying_price"`
	PositionOpen       bool            `json:"position_open"`
	Position           *models.Summary `json:"position_summary,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Ready:              h.manager.IsReady(),
		StreamingConnected: h.manager.IsStreaming(),
		StreamState:        h.manager.StreamState().String(),
	}
	if p, ok := h.cache.Get(h.cfg.UnderlyingToken); ok {
		resp.UnderlyingPrice = &p
	}
	if s := h.engine.Snapshot(); s != nil {
		resp.PositionOpen = true
		resp.Position = s
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	b, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("webhook: encode response: %v", err)
		return
	}
	_, _ = w.Write(b)
}
