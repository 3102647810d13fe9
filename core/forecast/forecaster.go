package forecast

import (
	"errors"
	"fmt"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/random"
)

// ErrUnknownAlgorithm is returned for an algorithm tag with no strategy.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Forecaster dispatches to a strategy by algorithm tag.
type Forecaster struct {
	order []model.Algorithm
	funcs map[model.Algorithm]Func
}

// New returns a Forecaster with the four built-in strategies sharing rnd.
func New(rnd random.Source) *Forecaster {
	return &Forecaster{
		order: []model.Algorithm{
			model.AlgLinearRegression,
			model.AlgEMA,
			model.AlgSeasonal,
			model.AlgEnsemble,
		},
		funcs: map[model.Algorithm]Func{
			model.AlgLinearRegression: LinearRegression,
			model.AlgEMA:              ExponentialMovingAverage,
			model.AlgSeasonal:         SeasonalAnalysis(rnd),
			model.AlgEnsemble:         Ensemble(rnd),
		},
	}
}

// Algorithms lists the available tags in a stable order.
func (f *Forecaster) Algorithms() []model.Algorithm {
	out := make([]model.Algorithm, len(f.order))
	copy(out, f.order)
	return out
}

// Forecast runs the named strategy.
func (f *Forecaster) Forecast(alg model.Algorithm, history []float64, periods int) ([]float64, error) {
	fn, ok := f.funcs[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}
	return fn(history, periods), nil
}
