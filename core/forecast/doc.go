// Package forecast implements the numeric forecasting strategies applied to a
// vehicle's rolling delay history. Every strategy accepts an empty history and
// always returns exactly the requested number of values, clamped to [0,100].
package forecast
