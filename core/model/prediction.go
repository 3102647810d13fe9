package model

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrAlreadyValidated is returned when validation fields are set twice.
	ErrAlreadyValidated = errors.New("prediction already validated")
	// ErrNotExpired is returned when validating before the expiry time.
	ErrNotExpired = errors.New("prediction not expired")
)

// PredictionKind is the quantity a prediction targets.
type PredictionKind string

const (
	KindArrival    PredictionKind = "arrival"
	KindDelay      PredictionKind = "delay"
	KindOccupancy  PredictionKind = "occupancy"
	KindDisruption PredictionKind = "disruption"
)

// Algorithm tags the forecasting strategy that produced a prediction.
type Algorithm string

const (
	AlgLinearRegression Algorithm = "linear_regression"
	AlgEMA              Algorithm = "exponential_moving_average"
	AlgSeasonal         Algorithm = "seasonal_analysis"
	AlgEnsemble         Algorithm = "ensemble"
)

// Factor is a named contribution to a prediction.
type Factor struct {
	Name       string  `json:"name"`
	Impact     float64 `json:"impact"`     // signed
	Confidence float64 `json:"confidence"` // 0..100
}

// Weather is the weather part of an external-condition snapshot.
type Weather struct {
	Condition   string  `json:"condition,omitempty"`
	Temperature float64 `json:"temperature"`
	Impact      float64 `json:"impact"`
}

// Traffic is the traffic part of an external-condition snapshot.
type Traffic struct {
	Level  string  `json:"level,omitempty"`
	Impact float64 `json:"impact"`
}

// Event is a scheduled or unplanned happening that affects the network.
type Event struct {
	Type   string  `json:"type"`
	Name   string  `json:"name,omitempty"`
	Impact float64 `json:"impact"`
}

// ExternalConditions is the snapshot of conditions a prediction was made under.
type ExternalConditions struct {
	Weather Weather `json:"weather"`
	Traffic Traffic `json:"traffic"`
	Events  []Event `json:"events,omitempty"`
}

// Prediction is a forecast for one vehicle, algorithm and horizon.
//
// A prediction is immutable once stored, except for ActualValue, Accuracy and
// ValidatedAt which are set exactly once after ExpiresAt.
type Prediction struct {
	ID             string             `json:"id"`
	VehicleID      string             `json:"vehicleId"`
	RouteID        string             `json:"routeId"`
	StopID         string             `json:"stopId"`
	Kind           PredictionKind     `json:"kind"`
	Algorithm      Algorithm          `json:"algorithm"`
	PredictedValue float64            `json:"predictedValue"`
	Confidence     float64            `json:"confidence"` // 0..100
	Horizon        int                `json:"horizon"`    // minutes
	Factors        []Factor           `json:"factors,omitempty"`
	Conditions     ExternalConditions `json:"externalFactors"`
	CreatedAt      time.Time          `json:"createdAt"`
	ExpiresAt      time.Time          `json:"expiresAt"`

	ActualValue *float64   `json:"actualValue,omitempty"`
	Accuracy    *float64   `json:"accuracy,omitempty"`
	ValidatedAt *time.Time `json:"validatedAt,omitempty"`
}

// Validated reports whether the validation fields are set.
func (p Prediction) Validated() bool { return p.ActualValue != nil }

// Expired reports whether the prediction horizon has elapsed at now.
func (p Prediction) Expired(now time.Time) bool { return !now.Before(p.ExpiresAt) }

// Validate returns a copy of p carrying the observed value and its accuracy.
func (p Prediction) Validate(actual float64, now time.Time) (Prediction, error) {
	if p.Validated() {
		return p, ErrAlreadyValidated
	}
	if !p.Expired(now) {
		return p, ErrNotExpired
	}
	acc := Accuracy(p.PredictedValue, actual)
	at := now
	p.ActualValue = &actual
	p.Accuracy = &acc
	p.ValidatedAt = &at
	return p, nil
}

// Accuracy scores a prediction against the observed value on a 0..100 scale.
func Accuracy(predicted, actual float64) float64 {
	den := math.Max(math.Max(math.Abs(predicted), math.Abs(actual)), 1)
	return math.Max(0, 100-math.Abs(predicted-actual)/den*100)
}

// PerformanceStat aggregates validated predictions of one algorithm.
type PerformanceStat struct {
	Algorithm     Algorithm `json:"algorithm"`
	AvgAccuracy   float64   `json:"avgAccuracy"`
	Count         int       `json:"count"`
	AvgConfidence float64   `json:"avgConfidence"`
	MinAccuracy   float64   `json:"minAccuracy"`
	MaxAccuracy   float64   `json:"maxAccuracy"`
}
