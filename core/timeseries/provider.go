// Package timeseries supplies bounded historical samples of a vehicle metric.
package timeseries

import (
	"context"
	"math"

	"github.com/kilianp07/fleetcast/core/random"
)

// Metric names a per-vehicle series.
type Metric string

const (
	MetricDelay     Metric = "delay"
	MetricOccupancy Metric = "occupancy"
)

// Provider returns up to window chronological samples of metric for a vehicle.
type Provider interface {
	History(ctx context.Context, vehicleID string, metric Metric, window int) ([]float64, error)
}

// Simulated produces synthetic delay history: a noisy sine wave around a
// small positive baseline.
type Simulated struct {
	rnd random.Source
}

// NewSimulated returns a Provider drawing noise from rnd.
func NewSimulated(rnd random.Source) *Simulated { return &Simulated{rnd: rnd} }

// History generates window samples; a non-positive window yields none.
func (s *Simulated) History(ctx context.Context, _ string, _ Metric, window int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if window <= 0 {
		return []float64{}, nil
	}
	out := make([]float64, window)
	for i := range out {
		out[i] = s.rnd.Float64()*10 + math.Sin(float64(i)*0.1)*3 + 2
	}
	return out, nil
}
