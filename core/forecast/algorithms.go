package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fleetcast/core/random"
)

const (
	// DefaultAlpha is the EMA smoothing constant.
	DefaultAlpha = 0.3
	// DefaultDecay shrinks the trailing EMA once per forecast step.
	DefaultDecay = 0.98
	// DefaultSeasonLength is the seasonal period in samples.
	DefaultSeasonLength = 7

	minValue = 0.0
	maxValue = 100.0
)

// Func produces periods future values from a chronological history.
type Func func(history []float64, periods int) []float64

func clamp(v float64) float64 { return math.Max(minValue, math.Min(maxValue, v)) }

func filled(v float64, periods int) []float64 {
	if periods <= 0 {
		return []float64{}
	}
	out := make([]float64, periods)
	v = clamp(v)
	for i := range out {
		out[i] = v
	}
	return out
}

// LinearRegression fits value against sample index by ordinary least squares
// and extrapolates past the last sample. Fewer than two samples repeat the
// sole value, or zero when the history is empty.
func LinearRegression(history []float64, periods int) []float64 {
	n := len(history)
	switch n {
	case 0:
		return filled(0, periods)
	case 1:
		return filled(history[0], periods)
	}
	if periods <= 0 {
		return []float64{}
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	intercept, slope := stat.LinearRegression(xs, history, nil, false)
	out := make([]float64, periods)
	for i := range out {
		out[i] = clamp(intercept + slope*float64(n+i))
	}
	return out
}

// ExponentialMovingAverage smooths the history with DefaultAlpha and decays the
// trailing average by DefaultDecay per future step.
func ExponentialMovingAverage(history []float64, periods int) []float64 {
	return EMAWith(DefaultAlpha, DefaultDecay)(history, periods)
}

// EMAWith returns an EMA forecaster with custom smoothing and decay.
func EMAWith(alpha, decay float64) Func {
	return func(history []float64, periods int) []float64 {
		if len(history) == 0 {
			return filled(0, periods)
		}
		if periods <= 0 {
			return []float64{}
		}
		ema := history[0]
		for _, v := range history[1:] {
			ema = alpha*v + (1-alpha)*ema
		}
		out := make([]float64, periods)
		for i := range out {
			out[i] = clamp(ema)
			ema *= decay
		}
		return out
	}
}

// SeasonalAnalysis returns a seasonal forecaster drawing its trend noise from
// rnd. With less than one full season of history it repeats the last value.
func SeasonalAnalysis(rnd random.Source) Func {
	return SeasonalWith(DefaultSeasonLength, rnd)
}

// SeasonalWith is SeasonalAnalysis with a custom season length.
func SeasonalWith(season int, rnd random.Source) Func {
	return func(history []float64, periods int) []float64 {
		n := len(history)
		if n == 0 {
			return filled(0, periods)
		}
		last := history[n-1]
		if season <= 0 || n < season {
			return filled(last, periods)
		}
		if periods <= 0 {
			return []float64{}
		}
		pattern := make([]float64, season)
		for phase := 0; phase < season; phase++ {
			var sum float64
			var count int
			for j := phase; j < n; j += season {
				sum += history[j]
				count++
			}
			pattern[phase] = sum / float64(count)
		}
		out := make([]float64, periods)
		for i := range out {
			trend := last * (1 + (rnd.Float64()-0.5)*0.1)
			out[i] = clamp(pattern[i%season]*0.7 + trend*0.3)
		}
		return out
	}
}

// Ensemble blends the three base strategies per step:
// 30% linear regression, 40% EMA and 30% seasonal.
func Ensemble(rnd random.Source) Func {
	seasonal := SeasonalAnalysis(rnd)
	return func(history []float64, periods int) []float64 {
		if periods <= 0 {
			return []float64{}
		}
		lr := LinearRegression(history, periods)
		ema := ExponentialMovingAverage(history, periods)
		se := seasonal(history, periods)
		out := make([]float64, periods)
		for i := range out {
			out[i] = lr[i]*0.3 + ema[i]*0.4 + se[i]*0.3
		}
		return out
	}
}
