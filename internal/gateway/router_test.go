// ABOUTME: Tests for the per-client rate limiter and client address extraction
// ABOUTME: Limiter tests drive a fake clock instead of sleeping

package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/config"
	"github.com/2389/chatrelay/internal/store"
	"github.com/2389/chatrelay/internal/transcript"
)

func TestIPLimiter_Burst(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.allow("10.0.0.2"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"), "one token refilled")
}

func TestIPLimiter_Disabled(t *testing.T) {
	l := newIPLimiter(0, 0)
	for range 100 {
		require.True(t, l.allow("10.0.0.1"))
	}
}

func TestIPLimiter_ForgetsIdleClients(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(idleLimiterTTL + time.Minute)
	l.allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.visitors, "10.0.0.1")
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestRateLimit_SendReturns429(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	st := store.NewConversationStore(store.NewMockBackend(), nil)
	gw := newGateway(cfg, st, scripted("x"), transcript.StaticSource{}, slog.Default())
	t.Cleanup(func() { _ = gw.Shutdown(t.Context()) })
	h := gw.Handler()

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/transcripts", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.7:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post().Code, "first request reaches the handler")
	rec := post()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Unlimited routes are unaffected.
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.RemoteAddr = "192.0.2.7:5000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", clientIP(req))
}

func TestRoutes_UnknownPath(t *testing.T) {
	env := newTestEnv(t, scripted("x"), nil)
	resp := env.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_ChatClient(t *testing.T) {
	env := newTestEnv(t, scripted("x"), nil)

	resp := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = env.do(t, http.MethodGet, "/static/app.js", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
