package prediction

import (
	"context"
	"fmt"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/random"
)

// Observer supplies the value that actually occurred for an expired
// prediction.
type Observer interface {
	Actual(ctx context.Context, p model.Prediction) (float64, error)
}

// SimulatedObserver perturbs the predicted value by up to +/-2.
type SimulatedObserver struct {
	Rand random.Source
}

func (o SimulatedObserver) Actual(ctx context.Context, p model.Prediction) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.PredictedValue + (o.Rand.Float64()-0.5)*4, nil
}

// StaticObserver returns fixed observations keyed by vehicle id.
type StaticObserver map[string]float64

func (o StaticObserver) Actual(_ context.Context, p model.Prediction) (float64, error) {
	v, ok := o[p.VehicleID]
	if !ok {
		return 0, fmt.Errorf("no observation for vehicle %s", p.VehicleID)
	}
	return v, nil
}
