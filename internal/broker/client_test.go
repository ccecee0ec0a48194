package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("apikey")
	c.base = srv.URL
	return c
}

func TestProfileSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotVersion string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Kite-Version")
		w.Write([]byte(`{"status":"success","data":{"user_id":"AB1234"}}`))
	})
	c.SetAccessToken("tok123")

	userID, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AB1234", userID)
	assert.Equal(t, "token apikey:tok123", gotAuth)
	assert.Equal(t, "3", gotVersion)
}

func TestProfileRejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","message":"Invalid token"}`))
	})

	_, err := c.Profile(context.Background())
	assert.ErrorContains(t, err, "http 403")
}

func TestGenerateSessionChecksum(t *testing.T) {
	var form map[string]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"api_key":       r.PostFormValue("api_key"),
			"request_token": r.PostFormValue("request_token"),
			"checksum":      r.PostFormValue("checksum"),
		}
		w.Write([]byte(`{"status":"success","data":{"access_token":"newtoken"}}`))
	})

	token, err := c.GenerateSession(context.Background(), "reqtok", "secret")
	require.NoError(t, err)
	assert.Equal(t, "newtoken", token)

	sum := sha256.Sum256([]byte("apikey" + "reqtok" + "secret"))
	assert.Equal(t, "apikey", form["api_key"])
	assert.Equal(t, "reqtok", form["request_token"])
	assert.Equal(t, hex.EncodeToString(sum[:]), form["checksum"])
}

func TestGenerateSessionRejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":{}}`))
	})

	_, err := c.GenerateSession(context.Background(), "reqtok", "secret")
	assert.ErrorContains(t, err, "session exchange rejected")
}

func TestOrderMargin(t *testing.T) {
	var body string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Write([]byte(`{"status":"success","data":[{"total":12345.50}]}`))
	})

	total, err := c.OrderMargin(context.Background(), "NIFTY26SEP24500CE", 100.5, 75)
	require.NoError(t, err)
	assert.Equal(t, 12345.50, total)

	assert.Contains(t, body, `"exchange":"NFO"`)
	assert.Contains(t, body, `"tradingsymbol":"NIFTY26SEP24500CE"`)
	assert.Contains(t, body, `"transaction_type":"BUY"`)
	assert.Contains(t, body, `"quantity":75`)
}

func TestOrderMarginEmptyData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":[]}`))
	})

	_, err := c.OrderMargin(context.Background(), "X", 1, 1)
	assert.ErrorContains(t, err, "margin rejected")
}
