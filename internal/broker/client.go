package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const (
	baseURL     = "https://api.kite.trade"
	kiteVersion = "3"
)

// Client talks to the Kite Connect REST API. The access token may be
// swapped at runtime (rotation), so it sits behind its own mutex.
type Client struct {
	http   *http.Client
	apiKey string
	base   string

	mu          sync.RWMutex
	accessToken string
}

func NewClient(apiKey string) *Client {
	return &Client{
		http:   &http.Client{Timeout: 10 * time.Second},
		apiKey: apiKey,
		base:   baseURL,
	}
}

func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) authHeader() string {
	return "token " + c.apiKey + ":" + c.AccessToken()
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", c.authHeader())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}
	return rb, nil
}

// Profile is the lightweight identity call used to validate a session.
func (c *Client) Profile(ctx context.Context) (string, error) {
	rb, err := c.do(ctx, http.MethodGet, "/user/profile", nil, "")
	if err != nil {
		return "", err
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(rb, &payload); err != nil {
		return "", fmt.Errorf("decode profile: %w", err)
	}
	if payload.Status != "success" || payload.Data.UserID == "" {
		return "", fmt.Errorf("profile rejected: %s", string(rb))
	}
	return payload.Data.UserID, nil
}

// GenerateSession exchanges a login request token for an access token.
// Checksum per Kite: SHA-256 over api_key + request_token + api_secret.
func (c *Client) GenerateSession(ctx context.Context, requestToken, apiSecret string) (string, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + apiSecret))

	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", hex.EncodeToString(sum[:]))

	rb, err := c.do(ctx, http.MethodPost, "/session/token",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(rb, &payload); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if payload.Data.AccessToken == "" {
		return "", fmt.Errorf("session exchange rejected: %s", string(rb))
	}
	return payload.Data.AccessToken, nil
}

type marginOrder struct {
	Exchange        string  `json:"exchange"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Variety         string  `json:"variety"`
	Product         string  `json:"product"`
	OrderType       string  `json:"order_type"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
}

// OrderMargin quotes the total margin required to buy one lot of the
// option at the given price.
func (c *Client) OrderMargin(ctx context.Context, symbol string, price float64, qty int) (float64, error) {
	body, err := sonic.Marshal([]marginOrder{{
		Exchange:        "NFO",
		TradingSymbol:   symbol,
		TransactionType: "BUY",
		Variety:         "regular",
		Product:         "MIS",
		OrderType:       "MARKET",
		Quantity:        qty,
		Price:           price,
	}})
	if err != nil {
		return 0, fmt.Errorf("marshal margin order: %w", err)
	}

	rb, err := c.do(ctx, http.MethodPost, "/margins/orders",
		strings.NewReader(string(body)), "application/json")
	if err != nil {
		return 0, err
	}

	var payload struct {
		Status string `json:"status"`
		Data   []struct {
			Total float64 `json:"total"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(rb, &payload); err != nil {
		return 0, fmt.Errorf("decode margin: %w", err)
	}
	if payload.Status != "success" || len(payload.Data) == 0 {
		return 0, fmt.Errorf("margin rejected: %s", string(rb))
	}
	return payload.Data[0].Total, nil
}
