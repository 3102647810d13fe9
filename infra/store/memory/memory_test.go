package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

var t0 = time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)

func TestVehicles(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertVehicle(ctx, model.Vehicle{ID: "b2", RouteID: "L1", Status: model.StatusActive}))
	require.NoError(t, s.UpsertVehicle(ctx, model.Vehicle{ID: "b1", RouteID: "L1", Status: model.StatusActive}))
	require.NoError(t, s.UpsertVehicle(ctx, model.Vehicle{ID: "b3", RouteID: "L2", Status: model.StatusMaintenance}))
	assert.Error(t, s.UpsertVehicle(ctx, model.Vehicle{}))

	active, err := s.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b1", active[0].ID)

	limited, err := s.FindVehicles(ctx, store.VehicleFilter{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byRoute, err := s.FindVehicles(ctx, store.VehicleFilter{RouteID: "L2"}, 0)
	require.NoError(t, err)
	assert.Len(t, byRoute, 1)

	err = s.UpdateVehicle(ctx, model.Vehicle{ID: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.UpdateVehicle(ctx, model.Vehicle{ID: "b1", Delay: 4}))
	v, err := s.GetVehicle(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v.Delay)

	_, err = s.GetVehicle(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertRoute(ctx, model.Route{ID: "L2"}))
	require.NoError(t, s.UpsertRoute(ctx, model.Route{ID: "L1", Name: "Line 1"}))
	rs, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "L1", rs[0].ID)
	_, err = s.GetRoute(ctx, "L9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func pred(id string, created time.Time, horizon int) model.Prediction {
	return model.Prediction{
		ID:        id,
		VehicleID: "b1",
		Algorithm: model.AlgEMA,
		Horizon:   horizon,
		CreatedAt: created,
		ExpiresAt: created.Add(time.Duration(horizon) * time.Minute),
	}
}

func TestPredictionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.InsertPrediction(ctx, model.Prediction{VehicleID: "b1", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, s.InsertPredictions(ctx, []model.Prediction{pred("p15", t0, 15), pred("p30", t0, 30)}))

	exp, err := s.FindExpiredUnvalidated(ctx, t0.Add(15*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, exp, 1)
	assert.Equal(t, "p15", exp[0].ID)

	val := store.Validation{ActualValue: 3, Accuracy: 90, ValidatedAt: t0.Add(16 * time.Minute)}
	require.NoError(t, s.MarkValidated(ctx, "p15", val))
	assert.ErrorIs(t, s.MarkValidated(ctx, "p15", val), store.ErrAlreadyValidated)
	assert.ErrorIs(t, s.MarkValidated(ctx, "nope", val), store.ErrNotFound)

	exp, err = s.FindExpiredUnvalidated(ctx, t0.Add(15*time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, exp)

	done, err := s.FindValidated(ctx, store.PredictionQuery{Algorithm: model.AlgEMA, ValidatedSince: t0.Add(16 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.InDelta(t, 90, *done[0].Accuracy, 1e-9)

	later, err := s.FindValidated(ctx, store.PredictionQuery{Algorithm: model.AlgEMA, ValidatedSince: t0.Add(17 * time.Minute)})
	require.NoError(t, err)
	assert.Empty(t, later, "window applies to the validation time")

	none, err := s.FindValidated(ctx, store.PredictionQuery{Algorithm: model.AlgSeasonal, ValidatedSince: t0})
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := s.ListPredictions(ctx, "b1", "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "p30", recent[0].ID)
}

func TestListPredictionsByKind(t *testing.T) {
	ctx := context.Background()
	s := New()
	kinds := []model.PredictionKind{model.KindDelay, model.KindDelay, model.KindOccupancy, model.KindDelay}
	for i, k := range kinds {
		p := pred(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Minute), 15)
		p.Kind = k
		_, err := s.InsertPrediction(ctx, p)
		require.NoError(t, err)
	}

	delays, err := s.ListPredictions(ctx, "b1", model.KindDelay, 2)
	require.NoError(t, err)
	require.Len(t, delays, 2)
	assert.Equal(t, "d", delays[0].ID)
	assert.Equal(t, "b", delays[1].ID)

	occ, err := s.ListPredictions(ctx, "b1", model.KindOccupancy, 0)
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, "c", occ[0].ID)
}

func TestInsertPredictionsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertPredictions(ctx, []model.Prediction{pred("a", t0, 15)}))
	err := s.InsertPredictions(ctx, []model.Prediction{pred("b", t0, 15), pred("a", t0, 15)})
	require.Error(t, err)
	_, err = s.InsertPrediction(ctx, pred("a", t0, 15))
	require.Error(t, err)
	all, _ := s.ListPredictions(ctx, "b1", "", 0)
	assert.Len(t, all, 1)
}

func TestPurgePredictions(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertPredictions(ctx, []model.Prediction{
		pred("old-validated", t0, 15),
		pred("old-stale", t0, 15),
		pred("fresh", t0.Add(48*time.Hour), 15),
	}))
	require.NoError(t, s.MarkValidated(ctx, "old-validated", store.Validation{Accuracy: 50, ValidatedAt: t0.Add(time.Hour)}))

	now := t0.Add(72 * time.Hour)
	n, err := s.PurgePredictions(ctx, now.Add(-24*time.Hour), now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, _ := s.ListPredictions(ctx, "b1", "", 0)
	ids := []string{}
	for _, p := range left {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"old-stale", "fresh"}, ids)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	_, err := s.FindVehicles(ctx, store.VehicleFilter{}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
