package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fleet",
			"POSTGRES_PASSWORD": "fleet",
			"POSTGRES_DB":       "fleet",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(time.Minute),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://fleet:fleet@%s:%s/fleet?sslmode=disable", host, port.Port())
	s, err := New(ctx, Config{DSN: dsn, MaxConns: 4, ConnectTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewBadDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "://nope"})
	assert.Error(t, err)
}

func TestVehiclesAndRoutes(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	r := model.Route{ID: "L1", Name: "Line 1", Color: "#ff0000", Type: model.RouteBus, Status: model.RouteActive,
		Stops: []model.RouteStop{{ID: "s1", Name: "Gare", Sequence: 1}}}
	require.NoError(t, s.UpsertRoute(ctx, r))
	got, err := s.GetRoute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, r, got)
	_, err = s.GetRoute(ctx, "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, v := range []model.Vehicle{
		{ID: "b2", RouteID: "L1", Status: model.StatusActive, LastUpdated: now},
		{ID: "b1", RouteID: "L1", Status: model.StatusActive, Delay: 3, LastUpdated: now,
			Occupancy: model.Occupancy{Level: model.OccupancyHigh, Percentage: 80, PassengerCount: 40}},
		{ID: "b3", RouteID: "L2", Status: model.StatusMaintenance, LastUpdated: now},
	} {
		require.NoError(t, s.UpsertVehicle(ctx, v))
	}
	active, err := s.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b1", active[0].ID)
	assert.Equal(t, model.OccupancyHigh, active[0].Occupancy.Level)
	limited, err := s.FindVehicles(ctx, store.VehicleFilter{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	v := active[0]
	v.Delay = 7
	require.NoError(t, s.UpdateVehicle(ctx, v))
	back, err := s.GetVehicle(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, back.Delay)
	assert.True(t, back.LastUpdated.Equal(now))

	err = s.UpdateVehicle(ctx, model.Vehicle{ID: "ghost"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPredictionLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := model.Prediction{VehicleID: "b1", Kind: model.KindDelay, Algorithm: model.AlgEMA,
		PredictedValue: 4, Confidence: 90, Horizon: 15, CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute),
		Factors: []model.Factor{{Name: "weather", Impact: 0.3, Confidence: 80}}}
	id, err := s.InsertPrediction(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	batch := []model.Prediction{
		{ID: "p2", VehicleID: "b1", Kind: model.KindDelay, Algorithm: model.AlgSeasonal, Horizon: 30, CreatedAt: now, ExpiresAt: now.Add(30 * time.Minute)},
		{ID: "p3", VehicleID: "b2", Kind: model.KindDelay, Algorithm: model.AlgSeasonal, Horizon: 30, CreatedAt: now, ExpiresAt: now.Add(30 * time.Minute)},
	}
	require.NoError(t, s.InsertPredictions(ctx, batch))
	err = s.InsertPredictions(ctx, []model.Prediction{
		{ID: "p4", VehicleID: "b3", Kind: model.KindDelay, Algorithm: model.AlgEMA, CreatedAt: now, ExpiresAt: now},
		{ID: "p2", VehicleID: "b3", Kind: model.KindDelay, Algorithm: model.AlgEMA, CreatedAt: now, ExpiresAt: now},
	})
	assert.True(t, errors.Is(err, ErrDuplicate))
	list, err := s.ListPredictions(ctx, "b3", "", 0)
	require.NoError(t, err)
	assert.Empty(t, list, "failed batch must not leave rows behind")

	expired, err := s.FindExpiredUnvalidated(ctx, now.Add(20*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
	assert.Equal(t, p.Factors, expired[0].Factors)

	val := store.Validation{ActualValue: 5, Accuracy: 80, ValidatedAt: now.Add(20 * time.Minute)}
	require.NoError(t, s.MarkValidated(ctx, id, val))
	assert.True(t, errors.Is(s.MarkValidated(ctx, id, val), store.ErrAlreadyValidated))
	assert.True(t, errors.Is(s.MarkValidated(ctx, "ghost", val), store.ErrNotFound))

	validated, err := s.FindValidated(ctx, store.PredictionQuery{Algorithm: model.AlgEMA, ValidatedSince: now.Add(20 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, validated, 1)
	require.NotNil(t, validated[0].Accuracy)
	assert.Equal(t, 80.0, *validated[0].Accuracy)
	validated, err = s.FindValidated(ctx, store.PredictionQuery{ValidatedSince: now.Add(21 * time.Minute)})
	require.NoError(t, err)
	assert.Empty(t, validated)

	n, err := s.PurgePredictions(ctx, now.Add(time.Hour), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.PurgePredictions(ctx, now.Add(time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
