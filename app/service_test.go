package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/factory"
	"github.com/kilianp07/fleetcast/infra/seed"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Seed = 42
	cfg.API.Addr = "127.0.0.1:0"
	return cfg
}

func TestServiceTasks(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer s.Close()

	f, err := seed.Default(time.Now())
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, s.Store, f))

	assert.Equal(t, []string{"simulation", "prediction.generate", "prediction.validate", "prediction.purge"}, s.Scheduler.Tasks())
	require.NoError(t, s.Scheduler.RunOnce(ctx, "simulation"))
	require.NoError(t, s.Scheduler.RunOnce(ctx, "prediction.generate"))

	ps, err := s.Store.ListPredictions(ctx, "B001", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, ps)
	none, err := s.Store.ListPredictions(ctx, "B006", "", 0)
	require.NoError(t, err)
	assert.Empty(t, none, "vehicles in maintenance get no predictions")

	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/buses/B001/predictions", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServiceRun(t *testing.T) {
	s, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Broadcast.Relays = []factory.ModuleConfig{{Type: "carrier-pigeon"}}
	_, err := New(ctx, cfg)
	assert.ErrorContains(t, err, "relays")

	cfg = testConfig()
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "unknown"}}
	_, err = New(ctx, cfg)
	assert.ErrorContains(t, err, "metrics sinks")

	_, err = OpenStore(ctx, config.StoreConfig{Backend: "cassandra"})
	assert.Error(t, err)
}

func TestNewRand(t *testing.T) {
	a, b := NewRand(7), NewRand(7)
	assert.Equal(t, a.Float64(), b.Float64())
	assert.NotNil(t, NewRand(0))
}
