package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/statistics"
	"github.com/kilianp07/fleetcast/infra/store/memory"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type fakeFeed struct{}

func (fakeFeed) Marshal(context.Context) ([]byte, error) { return []byte{0x0a, 0x01}, nil }
func (fakeFeed) JSON(context.Context) ([]byte, error)    { return []byte(`{"header":{}}`), nil }

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertRoute(ctx, model.Route{ID: "L1", Name: "Ligne 1", Status: model.RouteActive}))
	require.NoError(t, st.UpsertVehicle(ctx, model.Vehicle{ID: "B1", RouteID: "L1", Status: model.StatusActive, Delay: 0}))
	require.NoError(t, st.UpsertVehicle(ctx, model.Vehicle{ID: "B2", RouteID: "L1", Status: model.StatusActive, Delay: 7}))
	return st
}

func newTestRouter(cfg config.APIConfig, st Store) http.Handler {
	now := func() time.Time { return t0.Add(90 * time.Second) }
	return NewRouter(cfg, Deps{
		Store:         st,
		Statistics:    statistics.Service{Vehicles: st, Routes: st, Now: now},
		Feed:          fakeFeed{},
		ObserverCount: func() int { return 3 },
		Started:       t0,
		Now:           now,
	})
}

func do(h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := do(newTestRouter(config.APIConfig{}, seeded(t)), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var h Health
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "OK", h.Status)
	assert.Equal(t, "up", h.Store)
	assert.InDelta(t, 90, h.Uptime, 1e-9)
	assert.Equal(t, 3, h.Observers)

	rr = do(newTestRouter(config.APIConfig{}, downStore{seeded(t)}), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "DEGRADED", h.Status)
	assert.Equal(t, "down", h.Store)
}

func TestStatisticsRoutes(t *testing.T) {
	h := newTestRouter(config.APIConfig{}, seeded(t))

	rr := do(h, http.MethodGet, "/api/statistics/overview", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ov statistics.Overview
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ov))
	assert.Equal(t, 2, ov.TotalBuses)
	assert.Equal(t, 1, ov.DelayedBuses)
	assert.Equal(t, 1, ov.TotalLines)
	assert.InDelta(t, 50, ov.OnTimePerformance, 1e-9)

	rr = do(h, http.MethodGet, "/api/statistics/line-performance?lineId=L1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var lp LinePerformanceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &lp))
	require.Len(t, lp.Lines, 1)
	assert.InDelta(t, 3.5, lp.Lines[0].AverageDelay, 1e-9)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/statistics/line-performance?lineId=L9", nil).Code)

	rr = do(h, http.MethodGet, "/api/statistics/delay-distribution", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var dd DelayDistributionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dd))
	assert.Equal(t, 2, dd.TotalBuses)
	assert.NotEmpty(t, dd.Distribution)
}

func TestFeedRoute(t *testing.T) {
	h := newTestRouter(config.APIConfig{}, seeded(t))

	rr := do(h, http.MethodGet, "/gtfs-rt/vehicle-positions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-protobuf", rr.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x0a, 0x01}, rr.Body.Bytes())

	rr = do(h, http.MethodGet, "/gtfs-rt/vehicle-positions?format=json", nil)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"header":{}}`, rr.Body.String())
}

func TestRouterMisc(t *testing.T) {
	h := newTestRouter(config.APIConfig{AllowedOrigins: []string{"https://fleet.example"}}, seeded(t))

	rr := do(h, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "route not found")

	rr = do(h, http.MethodGet, "/api/buses/B2", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodOptions, "/api/buses", map[string]string{"Origin": "https://fleet.example"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://fleet.example", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(h, http.MethodGet, "/api/lines", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	// no observer handler registered
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/ws", nil).Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(config.APIConfig{RateLimit: 0.001, Burst: 2}, seeded(t))
	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7"}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/lines", hdr).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/lines", hdr).Code)
	rr := do(h, http.MethodGet, "/api/lines", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	other := map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/lines", other).Code)
}

func TestIPRateLimiterSweep(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := t0
	l.now = func() time.Time { return now }
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	now = now.Add(limiterIdle + time.Minute)
	assert.True(t, l.Allow("b"))
	l.mu.Lock()
	_, kept := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestCompress(t *testing.T) {
	st := seeded(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, st.UpsertRoute(ctx, model.Route{ID: strings.Repeat("R", i+1), Name: "A fairly long line name to pad the body"}))
	}
	h := newTestRouter(config.APIConfig{Compress: true}, st)
	rr := do(h, http.MethodGet, "/api/lines", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
}
