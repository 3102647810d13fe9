// Package prediction manages the lifetime of forecasts: generation for every
// active vehicle, validation once the horizon has elapsed, per-algorithm
// performance aggregation and retention purges.
package prediction
