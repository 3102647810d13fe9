package prediction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/core/factors"
	"github.com/kilianp07/fleetcast/core/forecast"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/prediction"
	"github.com/kilianp07/fleetcast/core/random"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/core/timeseries"
	"github.com/kilianp07/fleetcast/infra/store/memory"
)

var t0 = time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)

type recorder struct {
	mu          sync.Mutex
	batches     []metrics.PredictionBatchEvent
	validations []metrics.ValidationEvent
}

func (r *recorder) RecordPredictionBatch(ev metrics.PredictionBatchEvent) error {
	r.mu.Lock()
	r.batches = append(r.batches, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) RecordValidation(ev metrics.ValidationEvent) error {
	r.mu.Lock()
	r.validations = append(r.validations, ev)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	st    *memory.Store
	clock *scheduler.ManualClock
	rec   *recorder
	mgr   *prediction.Manager
}

func newFixture(t *testing.T, cond factors.Source, vehicles ...model.Vehicle) fixture {
	t.Helper()
	st := memory.New()
	for _, v := range vehicles {
		require.NoError(t, st.UpsertVehicle(context.Background(), v))
	}
	rnd := random.New(42)
	clock := scheduler.NewManualClock(t0)
	rec := &recorder{}
	mgr, err := prediction.NewManager(prediction.Config{}, prediction.Deps{
		Vehicles:    st,
		Predictions: st,
		History:     timeseries.NewSimulated(rnd),
		Conditions:  cond,
		Forecaster:  forecast.New(rnd),
		Observer:    prediction.SimulatedObserver{Rand: rnd},
		Clock:       clock,
		Metrics:     rec,
	})
	require.NoError(t, err)
	return fixture{st: st, clock: clock, rec: rec, mgr: mgr}
}

func bus(id, stop string, status model.VehicleStatus) model.Vehicle {
	return model.Vehicle{ID: id, RouteID: "L1", NextStop: stop, Status: status}
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := prediction.NewManager(prediction.Config{}, prediction.Deps{})
	assert.Error(t, err)
	_, err = prediction.NewManager(prediction.Config{Horizons: []int{-5}}, prediction.Deps{})
	assert.Error(t, err)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 90.0, prediction.Confidence(15))
	assert.Equal(t, 85.0, prediction.Confidence(30))
	assert.Equal(t, 75.0, prediction.Confidence(60))
	assert.Equal(t, 60.0, prediction.Confidence(120))
}

/*
TestGenerateTwoVehicles covers one generation tick.

	Cases:
	- 2 active vehicles give 4 algorithms x 4 horizons x 2 = 32 predictions
	- inactive vehicles are ignored
	- values in [0,30], confidence in [60,95], expiry = created + horizon
*/
func TestGenerateTwoVehicles(t *testing.T) {
	f := newFixture(t, factors.NewStaticSource(),
		bus("b1", "s2", model.StatusActive),
		bus("b2", "s5", model.StatusActive),
		bus("b3", "s9", model.StatusMaintenance),
	)
	n, err := f.mgr.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	for _, id := range []string{"b1", "b2"} {
		ps, err := f.st.ListPredictions(context.Background(), id, "", 0)
		require.NoError(t, err)
		require.Len(t, ps, 16)
		perAlg := map[model.Algorithm]int{}
		for _, p := range ps {
			perAlg[p.Algorithm]++
			assert.Equal(t, model.KindDelay, p.Kind)
			assert.GreaterOrEqual(t, p.PredictedValue, 0.0)
			assert.LessOrEqual(t, p.PredictedValue, 30.0)
			assert.GreaterOrEqual(t, p.Confidence, 60.0)
			assert.LessOrEqual(t, p.Confidence, 95.0)
			assert.Equal(t, t0.Add(time.Duration(p.Horizon)*time.Minute), p.ExpiresAt)
			assert.Equal(t, "L1", p.RouteID)
			assert.False(t, p.Validated())
			assert.Len(t, p.Factors, 2, "sunny and moderate traffic")
			assert.Equal(t, "sunny", p.Conditions.Weather.Condition)
		}
		assert.Len(t, perAlg, 4)
	}
	ps, _ := f.st.ListPredictions(context.Background(), "b1", "", 0)
	assert.Equal(t, "s2", ps[0].StopID)
	none, _ := f.st.ListPredictions(context.Background(), "b3", "", 0)
	assert.Empty(t, none)

	require.Len(t, f.rec.batches, 1)
	assert.Equal(t, 32, f.rec.batches[0].Predictions)
	assert.Equal(t, 2, f.rec.batches[0].Vehicles)
	assert.Equal(t, 8, f.rec.batches[0].PerAlg[model.AlgEnsemble])
}

type stormSource struct{}

func (stormSource) Current(context.Context) (model.ExternalConditions, error) {
	return model.ExternalConditions{
		Weather: model.Weather{Condition: "snow"},
		Traffic: model.Traffic{Level: "heavy"},
		Events:  []model.Event{{Type: "strike"}},
	}, nil
}

func TestGenerateClampsAdjustedValue(t *testing.T) {
	f := newFixture(t, stormSource{}, bus("b1", "s1", model.StatusActive))
	_, err := f.mgr.Generate(context.Background())
	require.NoError(t, err)
	ps, _ := f.st.ListPredictions(context.Background(), "b1", "", 0)
	require.NotEmpty(t, ps)
	for _, p := range ps {
		assert.LessOrEqual(t, p.PredictedValue, 30.0)
		assert.Len(t, p.Factors, 3)
	}
}

func TestGenerateNoVehicles(t *testing.T) {
	f := newFixture(t, nil)
	n, err := f.mgr.Generate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.rec.batches)
}

type failingHistory struct{ bad string }

func (h failingHistory) History(_ context.Context, id string, _ timeseries.Metric, window int) ([]float64, error) {
	if id == h.bad {
		return nil, errors.New("series unavailable")
	}
	return make([]float64, window), nil
}

func TestGenerateSkipsVehicleWithoutHistory(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.UpsertVehicle(ctx, bus("b1", "s1", model.StatusActive)))
	require.NoError(t, st.UpsertVehicle(ctx, bus("b2", "s1", model.StatusActive)))
	rnd := random.New(1)
	mgr, err := prediction.NewManager(prediction.Config{}, prediction.Deps{
		Vehicles: st, Predictions: st,
		History:    failingHistory{bad: "b1"},
		Forecaster: forecast.New(rnd),
		Observer:   prediction.SimulatedObserver{Rand: rnd},
		Clock:      scheduler.NewManualClock(t0),
	})
	require.NoError(t, err)
	n, err := mgr.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

/*
TestValidateOnceAfterExpiry walks a horizon-15 prediction through its life.

	Cases:
	- nothing is validated before T+15
	- at T+15 the accuracy is set once
	- a second run does not touch it again
*/
func TestValidateOnceAfterExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.st.InsertPrediction(ctx, model.Prediction{
		ID: "p1", VehicleID: "b1", Algorithm: model.AlgEMA, Horizon: 15,
		PredictedValue: 10, Confidence: 90,
		CreatedAt: t0, ExpiresAt: t0.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	f.clock.Advance(14 * time.Minute)
	n, err := f.mgr.Validate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = f.mgr.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ps, _ := f.st.ListPredictions(ctx, "b1", "", 0)
	require.Len(t, ps, 1)
	require.True(t, ps[0].Validated())
	first := *ps[0].ActualValue
	assert.InDelta(t, 10, first, 2)
	assert.Equal(t, t0.Add(15*time.Minute), *ps[0].ValidatedAt)
	assert.GreaterOrEqual(t, *ps[0].Accuracy, 0.0)
	assert.LessOrEqual(t, *ps[0].Accuracy, 100.0)

	f.clock.Advance(time.Minute)
	n, err = f.mgr.Validate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	ps, _ = f.st.ListPredictions(ctx, "b1", "", 0)
	assert.Equal(t, first, *ps[0].ActualValue)
	assert.Len(t, f.rec.validations, 1)
}

// racingStore validates every prediction behind the manager's back between
// the query and the update.
type racingStore struct {
	*memory.Store
}

func (r racingStore) MarkValidated(ctx context.Context, id string, v store.Validation) error {
	_ = r.Store.MarkValidated(ctx, id, v)
	return r.Store.MarkValidated(ctx, id, v)
}

func TestValidateSkipsConcurrentlyValidated(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.InsertPrediction(ctx, model.Prediction{ID: "p1", VehicleID: "b1", CreatedAt: t0, ExpiresAt: t0})
	require.NoError(t, err)
	rnd := random.New(3)
	mgr, err := prediction.NewManager(prediction.Config{}, prediction.Deps{
		Vehicles: st, Predictions: racingStore{st},
		History:    timeseries.NewSimulated(rnd),
		Forecaster: forecast.New(rnd),
		Observer:   prediction.StaticObserver{"b1": 4},
		Clock:      scheduler.NewManualClock(t0),
	})
	require.NoError(t, err)
	n, err := mgr.Validate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type brokenStore struct {
	*memory.Store
	findErr error
	markErr error
}

func (b brokenStore) FindExpiredUnvalidated(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	if b.findErr != nil {
		return nil, b.findErr
	}
	return b.Store.FindExpiredUnvalidated(ctx, now, limit)
}

func (b brokenStore) MarkValidated(ctx context.Context, id string, v store.Validation) error {
	if b.markErr != nil {
		return b.markErr
	}
	return b.Store.MarkValidated(ctx, id, v)
}

func TestValidateErrors(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.InsertPrediction(ctx, model.Prediction{ID: "p1", VehicleID: "b1", CreatedAt: t0, ExpiresAt: t0})
	require.NoError(t, err)
	_, err = st.InsertPrediction(ctx, model.Prediction{ID: "p2", VehicleID: "ghost", CreatedAt: t0, ExpiresAt: t0})
	require.NoError(t, err)

	build := func(ps store.PredictionStore) *prediction.Manager {
		rnd := random.New(9)
		m, err := prediction.NewManager(prediction.Config{}, prediction.Deps{
			Vehicles: st, Predictions: ps,
			History:    timeseries.NewSimulated(rnd),
			Forecaster: forecast.New(rnd),
			Observer:   prediction.StaticObserver{"b1": 4},
			Clock:      scheduler.NewManualClock(t0),
		})
		require.NoError(t, err)
		return m
	}

	down := errors.New("connection refused")
	_, err = build(brokenStore{Store: st, findErr: down}).Validate(ctx)
	assert.ErrorIs(t, err, down)

	_, err = build(brokenStore{Store: st, markErr: down}).Validate(ctx)
	assert.ErrorIs(t, err, down)

	// p2 has no observation and is left for a later tick.
	n, err := build(st).Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPerformance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	add := func(id string, alg model.Algorithm, created time.Time, acc, conf float64) {
		_, err := f.st.InsertPrediction(ctx, model.Prediction{
			ID: id, VehicleID: "b1", Algorithm: alg, Confidence: conf,
			CreatedAt: created, ExpiresAt: created,
		})
		require.NoError(t, err)
		require.NoError(t, f.st.MarkValidated(ctx, id, store.Validation{Accuracy: acc, ValidatedAt: created}))
	}
	add("a", model.AlgEMA, t0, 80, 90)
	add("b", model.AlgEMA, t0, 60, 70)
	add("c", model.AlgEMA, t0.Add(-8*24*time.Hour), 10, 60)
	add("d", model.AlgSeasonal, t0, 50, 85)
	_, err := f.st.InsertPrediction(ctx, model.Prediction{ID: "e", Algorithm: model.AlgEMA, CreatedAt: t0})
	require.NoError(t, err)
	// Created before the default window but validated inside it.
	week := 7 * 24 * time.Hour
	_, err = f.st.InsertPrediction(ctx, model.Prediction{
		ID: "f", VehicleID: "b1", Algorithm: model.AlgEnsemble, Confidence: 50, Horizon: 120,
		CreatedAt: t0.Add(-week - time.Hour), ExpiresAt: t0.Add(-week + time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.st.MarkValidated(ctx, "f", store.Validation{Accuracy: 40, ValidatedAt: t0.Add(-week + time.Minute)}))

	st, err := f.mgr.Performance(ctx, model.AlgEMA, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.InDelta(t, 70, st.AvgAccuracy, 1e-9)
	assert.InDelta(t, 80, st.AvgConfidence, 1e-9)
	assert.Equal(t, 60.0, st.MinAccuracy)
	assert.Equal(t, 80.0, st.MaxAccuracy)

	wide, err := f.mgr.Performance(ctx, model.AlgEMA, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, wide.Count)

	all, err := f.mgr.PerformanceAll(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, model.AlgLinearRegression, all[0].Algorithm)
	assert.Equal(t, model.PerformanceStat{Algorithm: model.AlgLinearRegression}, all[0])
	assert.Equal(t, 1, all[2].Count)
	assert.Equal(t, model.AlgEnsemble, all[3].Algorithm)
	assert.Equal(t, 1, all[3].Count)
	assert.Equal(t, 40.0, all[3].AvgAccuracy)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.st.InsertPrediction(ctx, model.Prediction{ID: "old", VehicleID: "b1", CreatedAt: t0, ExpiresAt: t0})
	require.NoError(t, err)
	require.NoError(t, f.st.MarkValidated(ctx, "old", store.Validation{ValidatedAt: t0}))
	_, err = f.st.InsertPrediction(ctx, model.Prediction{ID: "pending", VehicleID: "b1", CreatedAt: t0, ExpiresAt: t0})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	n, err := f.mgr.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.Advance(7 * 24 * time.Hour)
	n, err = f.mgr.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTasks(t *testing.T) {
	f := newFixture(t, nil, bus("b1", "s1", model.StatusActive))
	cfg := scheduler.Config{}
	cfg.SetDefaults()
	tasks := f.mgr.Tasks(cfg)
	require.Len(t, tasks, 3)
	assert.Equal(t, "prediction.generate", tasks[0].Name)
	assert.Equal(t, 5*time.Minute, tasks[0].Interval)
	assert.Equal(t, time.Minute, tasks[1].Interval)
	require.NoError(t, tasks[0].Run(context.Background()))
	ps, _ := f.st.ListPredictions(context.Background(), "b1", "", 0)
	assert.Len(t, ps, 16)
}
