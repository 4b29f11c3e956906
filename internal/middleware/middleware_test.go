package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	})
}

func TestLogger_RecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := chimiddleware.RequestID(Logger(logger)(okHandler()))
	req := httptest.NewRequest(http.MethodPost, "/api/users/u1/awards", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	out := buf.String()
	assert.Contains(t, out, `"requestID":"req-42"`)
	assert.Contains(t, out, `"status":201`)
	assert.Contains(t, out, `"bytes":5`)
	assert.Contains(t, out, `"path":"/api/users/u1/awards"`)
}

func TestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(4) // burst of 2
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusCreated, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusCreated, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"), "same host, different port shares the bucket")

	assert.Equal(t, http.StatusCreated, do("10.0.0.2:1000"), "other clients are unaffected")

	// One token refills every 15s at 4/min.
	now = now.Add(15 * time.Second)
	assert.Equal(t, http.StatusCreated, do("10.0.0.1:1003"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.allow("a")
	rl.allow("b")
	assert.Len(t, rl.clients, 2)

	now = now.Add(limiterIdle + time.Second)
	rl.allow("b")
	assert.Len(t, rl.clients, 1)
}

func TestRateLimiter_DisabledPassesThrough(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Nil(t, rl)

	h := rl.Middleware(okHandler())
	for i := 0; i < 100; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusCreated, rr.Code)
	}
}
