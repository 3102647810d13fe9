package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetcast/core/metrics"
)

// PromSink exposes scheduler, prediction, simulation and broadcast activity
// as Prometheus metrics.
type PromSink struct {
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	generated    *prometheus.CounterVec
	vehicles     prometheus.Gauge
	validations  *prometheus.CounterVec
	accuracy     *prometheus.HistogramVec
	simUpdates   prometheus.Counter
	simFailures  prometheus.Counter
	observers    prometheus.Gauge
	published    prometheus.Gauge
	dropped      prometheus.Gauge
	delay        *prometheus.GaugeVec
}

// NewPromSink registers metrics on the default Prometheus registerer. The
// HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// Register adds c to reg, reusing an identical collector registered earlier.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.taskRuns, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcast_task_runs_total",
		Help: "Periodic task executions by outcome (ok, error, skipped)",
	}, []string{"task", "outcome"})); err != nil {
		return nil, err
	}
	if s.taskDuration, err = Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetcast_task_duration_seconds",
		Help:    "Duration of periodic task executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})); err != nil {
		return nil, err
	}
	if s.generated, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcast_predictions_generated_total",
		Help: "Predictions stored by the generation task",
	}, []string{"algorithm"})); err != nil {
		return nil, err
	}
	if s.vehicles, err = Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetcast_prediction_vehicles",
		Help: "Vehicles covered by the last generation tick",
	})); err != nil {
		return nil, err
	}
	if s.validations, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcast_predictions_validated_total",
		Help: "Predictions validated against observed values",
	}, []string{"algorithm"})); err != nil {
		return nil, err
	}
	if s.accuracy, err = Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetcast_prediction_accuracy",
		Help:    "Accuracy of validated predictions (0-100)",
		Buckets: prometheus.LinearBuckets(10, 10, 9),
	}, []string{"algorithm"})); err != nil {
		return nil, err
	}
	if s.simUpdates, err = Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_simulation_updates_total",
		Help: "Vehicle updates persisted by the simulation task",
	})); err != nil {
		return nil, err
	}
	if s.simFailures, err = Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_simulation_failures_total",
		Help: "Vehicle updates the simulation task failed to persist",
	})); err != nil {
		return nil, err
	}
	if s.observers, err = Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetcast_observers_connected",
		Help: "Observers connected to the broadcast gateway",
	})); err != nil {
		return nil, err
	}
	if s.published, err = Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetcast_broadcast_published",
		Help: "Vehicle updates accepted by the gateway since start",
	})); err != nil {
		return nil, err
	}
	if s.dropped, err = Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetcast_broadcast_dropped",
		Help: "Queued updates discarded for slow consumers since start",
	})); err != nil {
		return nil, err
	}
	if s.delay, err = Register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetcast_vehicle_delay_minutes",
		Help: "Last known delay per vehicle",
	}, []string{"vehicle_id", "line_id"})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordTick counts task runs and observes their duration.
func (s *PromSink) RecordTick(ev coremetrics.TickEvent) error {
	outcome := "ok"
	switch {
	case ev.Skipped:
		outcome = "skipped"
	case ev.Err != nil:
		outcome = "error"
	}
	s.taskRuns.WithLabelValues(ev.Task, outcome).Inc()
	if !ev.Skipped {
		s.taskDuration.WithLabelValues(ev.Task).Observe(ev.Duration.Seconds())
	}
	return nil
}

func (s *PromSink) RecordPredictionBatch(ev coremetrics.PredictionBatchEvent) error {
	for alg, n := range ev.PerAlg {
		s.generated.WithLabelValues(string(alg)).Add(float64(n))
	}
	s.vehicles.Set(float64(ev.Vehicles))
	return nil
}

func (s *PromSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	alg := string(ev.Algorithm)
	s.validations.WithLabelValues(alg).Inc()
	s.accuracy.WithLabelValues(alg).Observe(ev.Accuracy)
	return nil
}

func (s *PromSink) RecordSimulation(ev coremetrics.SimulationEvent) error {
	s.simUpdates.Add(float64(ev.Updated))
	s.simFailures.Add(float64(ev.Failed))
	return nil
}

func (s *PromSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	s.delay.WithLabelValues(ev.Update.BusID, ev.Update.LineID).Set(ev.Update.Delay)
	return nil
}

func (s *PromSink) RecordBroadcast(ev coremetrics.BroadcastEvent) error {
	s.observers.Set(float64(ev.Observers))
	s.published.Set(float64(ev.Published))
	s.dropped.Set(float64(ev.Dropped))
	return nil
}
