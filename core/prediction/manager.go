package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fleetcast/core/factors"
	"github.com/kilianp07/fleetcast/core/forecast"
	"github.com/kilianp07/fleetcast/core/logger"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/core/timeseries"
)

// Recorder receives generation and validation metrics.
type Recorder interface {
	metrics.PredictionRecorder
	metrics.ValidationRecorder
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Vehicles    store.VehicleStore
	Predictions store.PredictionStore
	History     timeseries.Provider
	Conditions  factors.Source
	Forecaster  *forecast.Forecaster
	Observer    Observer
	Clock       scheduler.Clock
	Logger      logger.Logger
	Metrics     Recorder
}

// Manager drives the prediction lifecycle.
type Manager struct {
	cfg Config
	Deps
}

// NewManager checks the mandatory collaborators and applies defaults.
func NewManager(cfg Config, d Deps) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Vehicles == nil || d.Predictions == nil || d.History == nil || d.Forecaster == nil || d.Observer == nil {
		return nil, errors.New("prediction manager: missing collaborator")
	}
	if d.Conditions == nil {
		d.Conditions = factors.NewStaticSource()
	}
	if d.Clock == nil {
		d.Clock = scheduler.SystemClock{}
	}
	d.Logger = logger.OrNop(d.Logger)
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	return &Manager{cfg: cfg, Deps: d}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Algorithms lists the algorithms run on every generation tick.
func (m *Manager) Algorithms() []model.Algorithm { return m.Forecaster.Algorithms() }

// Confidence is the confidence assigned to a horizon: 95 at 0 minutes,
// minus 5 per 15 minutes, never below 60.
func Confidence(horizon int) float64 {
	return math.Max(60, 95-float64(horizon)/15*5)
}

// Generate builds predictions for every active vehicle and stores them in one
// batch. It returns the number of stored predictions.
func (m *Manager) Generate(ctx context.Context) (int, error) {
	now := m.Clock.Now()
	vehicles, err := m.Vehicles.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, m.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list active vehicles: %w", err)
	}
	cond, err := m.Conditions.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("external conditions: %w", err)
	}
	adj := factors.Evaluate(cond)

	algs := m.Forecaster.Algorithms()
	batch := make([]model.Prediction, 0, len(vehicles)*len(algs)*len(m.cfg.Horizons))
	perAlg := make(map[model.Algorithm]int, len(algs))
	covered := 0
	for _, v := range vehicles {
		history, err := m.History.History(ctx, v.ID, timeseries.MetricDelay, m.cfg.HistoryWindow)
		if err != nil {
			m.Logger.Warnf("history for vehicle %s: %v", v.ID, err)
			continue
		}
		covered++
		for _, alg := range algs {
			for _, h := range m.cfg.Horizons {
				out, err := m.Forecaster.Forecast(alg, history, 1)
				if err != nil {
					return 0, err
				}
				value := math.Max(0, math.Min(m.cfg.MaxValue, out[0]*adj.Multiplier))
				batch = append(batch, model.Prediction{
					ID:             uuid.NewString(),
					VehicleID:      v.ID,
					RouteID:        v.RouteID,
					StopID:         v.NextStop,
					Kind:           model.KindDelay,
					Algorithm:      alg,
					PredictedValue: value,
					Confidence:     Confidence(h),
					Horizon:        h,
					Factors:        append([]model.Factor(nil), adj.Factors...),
					Conditions:     cond,
					CreatedAt:      now,
					ExpiresAt:      now.Add(time.Duration(h) * time.Minute),
				})
				perAlg[alg]++
			}
		}
	}
	if len(batch) == 0 {
		m.Logger.Debugf("no predictions generated for %d vehicles", len(vehicles))
		return 0, nil
	}
	if err := m.Predictions.InsertPredictions(ctx, batch); err != nil {
		return 0, fmt.Errorf("store %d predictions: %w", len(batch), err)
	}
	_ = m.Metrics.RecordPredictionBatch(metrics.PredictionBatchEvent{
		Vehicles:    covered,
		Predictions: len(batch),
		PerAlg:      perAlg,
		Time:        now,
	})
	m.Logger.Infof("generated %d predictions for %d vehicles", len(batch), covered)
	return len(batch), nil
}

// Validate resolves expired predictions against observed values. A
// prediction validated concurrently by another worker is skipped.
func (m *Manager) Validate(ctx context.Context) (int, error) {
	now := m.Clock.Now()
	expired, err := m.Predictions.FindExpiredUnvalidated(ctx, now, m.cfg.ValidationLimit)
	if err != nil {
		return 0, fmt.Errorf("find expired predictions: %w", err)
	}
	validated, failed := 0, 0
	var firstErr error
	for _, p := range expired {
		actual, err := m.Observer.Actual(ctx, p)
		if err != nil {
			m.Logger.Warnf("observe prediction %s: %v", p.ID, err)
			continue
		}
		vp, err := p.Validate(actual, now)
		if err != nil {
			m.Logger.Debugf("skip prediction %s: %v", p.ID, err)
			continue
		}
		err = m.Predictions.MarkValidated(ctx, p.ID, store.Validation{
			ActualValue: *vp.ActualValue,
			Accuracy:    *vp.Accuracy,
			ValidatedAt: now,
		})
		switch {
		case errors.Is(err, store.ErrAlreadyValidated):
			m.Logger.Debugf("prediction %s already validated", p.ID)
			continue
		case err != nil:
			failed++
			if firstErr == nil {
				firstErr = err
			}
			m.Logger.Errorf("mark prediction %s validated: %v", p.ID, err)
			continue
		}
		validated++
		_ = m.Metrics.RecordValidation(metrics.ValidationEvent{
			PredictionID: p.ID,
			VehicleID:    p.VehicleID,
			Algorithm:    p.Algorithm,
			Horizon:      p.Horizon,
			Predicted:    p.PredictedValue,
			Actual:       actual,
			Accuracy:     *vp.Accuracy,
			Time:         now,
		})
	}
	if validated > 0 {
		m.Logger.Infof("validated %d of %d expired predictions", validated, len(expired))
	}
	if failed > 0 {
		return validated, fmt.Errorf("%d of %d validations failed: %w", failed, len(expired), firstErr)
	}
	return validated, nil
}

// Performance aggregates predictions of one algorithm validated within the
// trailing window. A non-positive window uses the configured one.
func (m *Manager) Performance(ctx context.Context, alg model.Algorithm, window time.Duration) (model.PerformanceStat, error) {
	if window <= 0 {
		window = m.cfg.PerformanceWindow
	}
	ps, err := m.Predictions.FindValidated(ctx, store.PredictionQuery{
		Algorithm:      alg,
		ValidatedSince: m.Clock.Now().Add(-window),
	})
	if err != nil {
		return model.PerformanceStat{}, fmt.Errorf("find validated %s predictions: %w", alg, err)
	}
	return Aggregate(alg, ps), nil
}

// PerformanceAll returns one stat per algorithm in stable order.
func (m *Manager) PerformanceAll(ctx context.Context, window time.Duration) ([]model.PerformanceStat, error) {
	algs := m.Algorithms()
	out := make([]model.PerformanceStat, 0, len(algs))
	for _, alg := range algs {
		st, err := m.Performance(ctx, alg, window)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Aggregate summarises validated predictions of alg. Unvalidated entries and
// other algorithms are ignored. No data yields a zero stat.
func Aggregate(alg model.Algorithm, ps []model.Prediction) model.PerformanceStat {
	acc := make([]float64, 0, len(ps))
	conf := make([]float64, 0, len(ps))
	for _, p := range ps {
		if p.Algorithm != alg || p.Accuracy == nil {
			continue
		}
		acc = append(acc, *p.Accuracy)
		conf = append(conf, p.Confidence)
	}
	st := model.PerformanceStat{Algorithm: alg, Count: len(acc)}
	if len(acc) == 0 {
		return st
	}
	st.AvgAccuracy = stat.Mean(acc, nil)
	st.AvgConfidence = stat.Mean(conf, nil)
	st.MinAccuracy = floats.Min(acc)
	st.MaxAccuracy = floats.Max(acc)
	return st
}

// Purge deletes predictions past their retention window.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	now := m.Clock.Now()
	n, err := m.Predictions.PurgePredictions(ctx, now.Add(-m.cfg.Retention), now.Add(-m.cfg.StaleRetention))
	if err != nil {
		return 0, fmt.Errorf("purge predictions: %w", err)
	}
	if n > 0 {
		m.Logger.Infof("purged %d predictions", n)
	}
	return n, nil
}

// Tasks returns the periodic tasks of the lifecycle.
func (m *Manager) Tasks(cfg scheduler.Config) []scheduler.Task {
	return []scheduler.Task{
		{
			Name:       "prediction.generate",
			Interval:   cfg.GenerationInterval,
			Timeout:    cfg.TimeoutFor(cfg.GenerationInterval),
			RunAtStart: cfg.RunAtStart,
			Run:        discardCount(m.Generate),
		},
		{
			Name:       "prediction.validate",
			Interval:   cfg.ValidationInterval,
			Timeout:    cfg.TimeoutFor(cfg.ValidationInterval),
			RunAtStart: cfg.RunAtStart,
			Run:        discardCount(m.Validate),
		},
		{
			Name:     "prediction.purge",
			Interval: cfg.PurgeInterval,
			Timeout:  cfg.TimeoutFor(cfg.PurgeInterval),
			Run:      discardCount(m.Purge),
		},
	}
}

func discardCount(f func(context.Context) (int, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := f(ctx)
		return err
	}
}
