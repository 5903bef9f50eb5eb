package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		want   int
	}{
		{"disabled", "", map[string]string{"X-Admin-Key": ""}, http.StatusForbidden},
		{"missing", "k", nil, http.StatusUnauthorized},
		{"wrong", "k", map[string]string{"X-Admin-Key": "nope"}, http.StatusUnauthorized},
		{"header", "k", map[string]string{"X-Admin-Key": "k"}, http.StatusNoContent},
		{"bearer", "k", map[string]string{"Authorization": "Bearer k"}, http.StatusNoContent},
		{"basic scheme", "k", map[string]string{"Authorization": "Basic k"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/fees", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.key)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

type countingLimiter struct {
	calls int
	err   error
	keys  []string
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.calls++
	l.keys = append(l.keys, key)
	return l.calls <= limit, l.err
}

func TestRateLimit(t *testing.T) {
	l := &countingLimiter{}
	h := RateLimit(l, 1, time.Minute, slog.New(slog.DiscardHandler))(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/fees", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.7", "api:203.0.113.7"}, l.keys)

	// Limiter outages let traffic through.
	l.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoggingRequestID(t *testing.T) {
	var seen string
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://bots.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/battles", nil)
	req.Header.Set("Origin", "https://bots.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://bots.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Key")

	req = httptest.NewRequest(http.MethodGet, "/api/battles", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
