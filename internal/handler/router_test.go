package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chatman/internal/metrics"
	"github.com/hitoshi/chatman/internal/middleware"
)

type failingHealthChecker struct{}

func (failingHealthChecker) PingContext(ctx context.Context) error {
	return errors.New("connection refused")
}

func newBareRouter(t *testing.T, checker HealthChecker) http.Handler {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		TokenFinder:       newMemTokenRepo(),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		HealthChecker:     checker,
		Collector:         collector,
		Gatherer:          reg,
		AuthService:       &mockAuthService{},
		UserService:       &mockUserService{},
		ChatService:       &mockChatService{},
	})
}

func TestRouter_HealthUnreachableDB_Returns503(t *testing.T) {
	router := newBareRouter(t, failingHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Result().StatusCode)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newBareRouter(t, okHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/api/nope/", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Result().StatusCode)
	}
}

func TestRouter_PreflightRequest_Returns204(t *testing.T) {
	router := newBareRouter(t, okHealthChecker{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/message/", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Result().StatusCode)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestRouter_SecurityHeadersAreSet(t *testing.T) {
	router := newBareRouter(t, okHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
