// Package store declares the persistence collaborators consumed by the
// scheduler tasks. Adapters live under infra/store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/fleetcast/core/model"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyValidated is returned by MarkValidated when the prediction
	// already carries an observed value.
	ErrAlreadyValidated = model.ErrAlreadyValidated
)

// VehicleFilter narrows vehicle queries. Zero fields match everything.
type VehicleFilter struct {
	Status  model.VehicleStatus
	RouteID string
}

// Match reports whether v satisfies the filter.
func (f VehicleFilter) Match(v model.Vehicle) bool {
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if f.RouteID != "" && v.RouteID != f.RouteID {
		return false
	}
	return true
}

// VehicleStore persists vehicles.
type VehicleStore interface {
	// FindVehicles returns at most limit vehicles matching filter ordered by
	// id. A non-positive limit means no limit.
	FindVehicles(ctx context.Context, filter VehicleFilter, limit int) ([]model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	// UpdateVehicle replaces an existing vehicle; ErrNotFound otherwise.
	UpdateVehicle(ctx context.Context, v model.Vehicle) error
	UpsertVehicle(ctx context.Context, v model.Vehicle) error
}

// RouteStore persists routes.
type RouteStore interface {
	GetRoute(ctx context.Context, id string) (model.Route, error)
	ListRoutes(ctx context.Context) ([]model.Route, error)
	UpsertRoute(ctx context.Context, r model.Route) error
}

// Validation is the patch applied to a prediction once its outcome is known.
type Validation struct {
	ActualValue float64
	Accuracy    float64
	ValidatedAt time.Time
}

// PredictionQuery selects validated predictions for aggregation.
type PredictionQuery struct {
	Algorithm model.Algorithm
	// ValidatedSince keeps predictions validated at or after this instant.
	ValidatedSince time.Time
}

// PredictionStore persists predictions.
type PredictionStore interface {
	// InsertPrediction stores p and returns its id, generating one if empty.
	InsertPrediction(ctx context.Context, p model.Prediction) (string, error)
	// InsertPredictions stores all predictions or none.
	InsertPredictions(ctx context.Context, ps []model.Prediction) error
	// MarkValidated sets the validation fields of an unvalidated prediction.
	// It returns ErrAlreadyValidated when they are already set and
	// ErrNotFound when the id is unknown.
	MarkValidated(ctx context.Context, id string, v Validation) error
	// FindExpiredUnvalidated returns at most limit predictions whose expiry is
	// at or before now and which have no observed value.
	FindExpiredUnvalidated(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error)
	// FindValidated returns predictions validated at or after
	// q.ValidatedSince, restricted to q.Algorithm when set.
	FindValidated(ctx context.Context, q PredictionQuery) ([]model.Prediction, error)
	// ListPredictions returns the most recent predictions for a vehicle,
	// newest first, restricted to kind when set.
	ListPredictions(ctx context.Context, vehicleID string, kind model.PredictionKind, limit int) ([]model.Prediction, error)
	// PurgePredictions removes validated predictions that expired before
	// validatedBefore and unvalidated ones that expired before staleBefore.
	PurgePredictions(ctx context.Context, validatedBefore, staleBefore time.Time) (int, error)
}

// Store groups every collaborator.
type Store interface {
	VehicleStore
	RouteStore
	PredictionStore
	Ping(ctx context.Context) error
	Close() error
}
