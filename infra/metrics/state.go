package metrics

import (
	"context"
	"time"

	coremetrics "github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
)

// StateRelay turns every broadcast vehicle update into a VehicleStateEvent.
// It plugs into the gateway like an external broker relay.
type StateRelay struct {
	sink   coremetrics.VehicleStateRecorder
	source string
}

// NewStateRelay returns nil when sink does not record vehicle states.
func NewStateRelay(sink coremetrics.MetricsSink, source string) *StateRelay {
	rec, ok := sink.(coremetrics.VehicleStateRecorder)
	if !ok {
		return nil
	}
	return &StateRelay{sink: rec, source: source}
}

func (r *StateRelay) Name() string { return "metrics" }

func (r *StateRelay) Publish(_ context.Context, u model.VehicleUpdate) error {
	ts := u.LastUpdated
	if ts.IsZero() {
		ts = time.Now()
	}
	return r.sink.RecordVehicleState(coremetrics.VehicleStateEvent{Update: u, Source: r.source, Time: ts})
}

func (r *StateRelay) Close() error { return nil }
