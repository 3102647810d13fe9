package metrics

import (
	"time"

	"github.com/kilianp07/fleetcast/core/model"
)

// TickEvent describes one execution, or skipped execution, of a periodic task.
type TickEvent struct {
	Task     string
	Duration time.Duration
	Skipped  bool
	Err      error
	Time     time.Time
}

// MetricsSink is the minimal interface every sink implements. The other
// recorder interfaces are optional and discovered by type assertion.
type MetricsSink interface {
	RecordTick(ev TickEvent) error
}

// PredictionBatchEvent summarises one generation tick.
type PredictionBatchEvent struct {
	Vehicles    int
	Predictions int
	PerAlg      map[model.Algorithm]int
	Time        time.Time
}

// PredictionRecorder records generation ticks.
type PredictionRecorder interface {
	RecordPredictionBatch(ev PredictionBatchEvent) error
}

// ValidationEvent captures the outcome of validating one prediction.
type ValidationEvent struct {
	PredictionID string
	VehicleID    string
	Algorithm    model.Algorithm
	Horizon      int
	Predicted    float64
	Actual       float64
	Accuracy     float64
	Time         time.Time
}

// ValidationRecorder records validation outcomes.
type ValidationRecorder interface {
	RecordValidation(ev ValidationEvent) error
}

// SimulationEvent summarises one simulation tick.
type SimulationEvent struct {
	Vehicles int
	Updated  int
	Failed   int
	Duration time.Duration
	Time     time.Time
}

// SimulationRecorder records simulation ticks.
type SimulationRecorder interface {
	RecordSimulation(ev SimulationEvent) error
}

// VehicleStateEvent is a snapshot of a vehicle as pushed to observers.
// Source names the producer, e.g. "simulation" or "telemetry".
type VehicleStateEvent struct {
	Update model.VehicleUpdate
	Source string
	Time   time.Time
}

// VehicleStateRecorder records vehicle snapshots.
type VehicleStateRecorder interface {
	RecordVehicleState(ev VehicleStateEvent) error
}

// BroadcastEvent reports the gateway fan-out state.
type BroadcastEvent struct {
	Observers int
	Published uint64
	Dropped   uint64
	Time      time.Time
}

// BroadcastRecorder records gateway statistics.
type BroadcastRecorder interface {
	RecordBroadcast(ev BroadcastEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordTick(TickEvent) error                       { return nil }
func (NopSink) RecordPredictionBatch(PredictionBatchEvent) error { return nil }
func (NopSink) RecordValidation(ValidationEvent) error           { return nil }
func (NopSink) RecordSimulation(SimulationEvent) error           { return nil }
func (NopSink) RecordVehicleState(VehicleStateEvent) error       { return nil }
func (NopSink) RecordBroadcast(BroadcastEvent) error             { return nil }
