package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func down(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func healthz(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		storage    func(context.Context) error
		broker     func(context.Context) error
		wantCode   int
		wantStatus Status
	}{
		{name: "all up", storage: ok, broker: ok, wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{name: "optional broker down", storage: ok, broker: down("broker down"), wantCode: http.StatusOK, wantStatus: StatusDegraded},
		{name: "storage down", storage: down("connection refused"), broker: ok, wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy},
		{name: "both down", storage: down("connection refused"), broker: down("broker down"), wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("1.4.0")
			handler.RegisterChecker("storage", NewProbe("storage", tc.storage))
			handler.RegisterChecker("rabbitmq", NewProbe("rabbitmq", tc.broker, Optional()))

			code, response := healthz(t, handler)
			require.Equal(t, tc.wantCode, code)
			require.Equal(t, tc.wantStatus, response.Status)
			require.Equal(t, "1.4.0", response.Version)
			require.Len(t, response.Checks, 2)
		})
	}
}

func TestHealthz_ReportsFailureMessage(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", NewProbe("storage", down("connection refused")))

	_, response := healthz(t, handler)
	require.Equal(t, "connection refused", response.Checks["storage"].Message)
	require.Equal(t, StatusUnhealthy, response.Checks["storage"].Status)
}

func TestReadiness(t *testing.T) {
	for name, tc := range map[string]struct {
		probe    *Probe
		wantCode int
		wantBody string
	}{
		"ready":             {probe: NewProbe("storage", ok), wantCode: http.StatusOK, wantBody: "ready"},
		"degraded is ready": {probe: NewProbe("redis", down("timeout"), Optional()), wantCode: http.StatusOK, wantBody: "ready"},
		"not ready":         {probe: NewProbe("storage", down("down")), wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
	} {
		t.Run(name, func(t *testing.T) {
			handler := NewHandler("dev")
			handler.RegisterChecker("dep", tc.probe)

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tc.wantCode, w.Code)
			require.Equal(t, tc.wantBody, w.Body.String())
		})
	}
}

func TestLiveness(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestEvaluate_CachesWithinTTL(t *testing.T) {
	var pings atomic.Int32
	counting := func(context.Context) error {
		pings.Add(1)
		return nil
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	handler := NewHandler("dev", WithCacheTTL(time.Second))
	handler.now = func() time.Time { return now }
	handler.RegisterChecker("redis", NewProbe("redis", counting))

	handler.Evaluate(context.Background())
	handler.Evaluate(context.Background())
	require.Equal(t, int32(1), pings.Load())

	now = now.Add(2 * time.Second)
	handler.Evaluate(context.Background())
	require.Equal(t, int32(2), pings.Load())

	handler.RegisterChecker("kafka", NewProbe("kafka", counting))
	response := handler.Evaluate(context.Background())
	require.Len(t, response.Checks, 2)
	require.Equal(t, int32(4), pings.Load())
}

func TestProbe_Timeout(t *testing.T) {
	probe := NewProbe("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond))

	check := probe.Check(context.Background())
	require.Equal(t, StatusUnhealthy, check.Status)
	require.GreaterOrEqual(t, check.DurationMs, int64(20))
	require.Contains(t, check.Message, "deadline exceeded")
}
