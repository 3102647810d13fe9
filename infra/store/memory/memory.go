// Package memory is an in-process Store used by tests, the seed command and
// single-node deployments without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

// Store keeps every entity in maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	vehicles    map[string]model.Vehicle
	routes      map[string]model.Route
	predictions map[string]model.Prediction
	order       []string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		vehicles:    make(map[string]model.Vehicle),
		routes:      make(map[string]model.Route),
		predictions: make(map[string]model.Prediction),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

func (s *Store) FindVehicles(ctx context.Context, f store.VehicleFilter, limit int) ([]model.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.vehicles))
	for id, v := range s.vehicles {
		if f.Match(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.Vehicle, len(ids))
	for i, id := range ids {
		out[i] = s.vehicles[id]
	}
	return out, nil
}

func (s *Store) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return model.Vehicle{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, store.ErrNotFound)
	}
	return v, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, v model.Vehicle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[v.ID]; !ok {
		return fmt.Errorf("vehicle %s: %w", v.ID, store.ErrNotFound)
	}
	s.vehicles[v.ID] = v
	return nil
}

func (s *Store) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	s.mu.Lock()
	s.vehicles[v.ID] = v
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRoute(ctx context.Context, id string) (model.Route, error) {
	if err := ctx.Err(); err != nil {
		return model.Route{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("route %s: %w", id, store.ErrNotFound)
	}
	return r, nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]model.Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertRoute(ctx context.Context, r model.Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("route id is required")
	}
	s.mu.Lock()
	s.routes[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *Store) InsertPrediction(ctx context.Context, p model.Prediction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.predictions[p.ID]; ok {
		return "", fmt.Errorf("prediction %s already exists", p.ID)
	}
	s.insertLocked(p)
	return p.ID, nil
}

func (s *Store) InsertPredictions(ctx context.Context, ps []model.Prediction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(ps))
	for i := range ps {
		if ps[i].ID == "" {
			ps[i].ID = uuid.NewString()
		}
		if _, ok := s.predictions[ps[i].ID]; ok {
			return fmt.Errorf("prediction %s already exists", ps[i].ID)
		}
		if _, ok := seen[ps[i].ID]; ok {
			return fmt.Errorf("duplicate prediction id %s in batch", ps[i].ID)
		}
		seen[ps[i].ID] = struct{}{}
	}
	for _, p := range ps {
		s.insertLocked(p)
	}
	return nil
}

func (s *Store) insertLocked(p model.Prediction) {
	p.Factors = append([]model.Factor(nil), p.Factors...)
	s.predictions[p.ID] = p
	s.order = append(s.order, p.ID)
}

func (s *Store) MarkValidated(ctx context.Context, id string, v store.Validation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return fmt.Errorf("prediction %s: %w", id, store.ErrNotFound)
	}
	if p.Validated() {
		return store.ErrAlreadyValidated
	}
	actual, acc, at := v.ActualValue, v.Accuracy, v.ValidatedAt
	p.ActualValue, p.Accuracy, p.ValidatedAt = &actual, &acc, &at
	s.predictions[id] = p
	return nil
}

func (s *Store) FindExpiredUnvalidated(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	return s.collect(ctx, limit, func(p model.Prediction) bool {
		return !p.Validated() && p.Expired(now)
	})
}

func (s *Store) FindValidated(ctx context.Context, q store.PredictionQuery) ([]model.Prediction, error) {
	return s.collect(ctx, 0, func(p model.Prediction) bool {
		if !p.Validated() || p.ValidatedAt.Before(q.ValidatedSince) {
			return false
		}
		return q.Algorithm == "" || p.Algorithm == q.Algorithm
	})
}

func (s *Store) ListPredictions(ctx context.Context, vehicleID string, kind model.PredictionKind, limit int) ([]model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Prediction
	for i := len(s.order) - 1; i >= 0; i-- {
		p := s.predictions[s.order[i]]
		if p.VehicleID != vehicleID || (kind != "" && p.Kind != kind) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PurgePredictions(ctx context.Context, validatedBefore, staleBefore time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		p := s.predictions[id]
		drop := (p.Validated() && p.ExpiresAt.Before(validatedBefore)) ||
			(!p.Validated() && p.ExpiresAt.Before(staleBefore))
		if drop {
			delete(s.predictions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// collect returns predictions matching keep in insertion order.
func (s *Store) collect(ctx context.Context, limit int, keep func(model.Prediction) bool) ([]model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Prediction
	for _, id := range s.order {
		p := s.predictions[id]
		if !keep(p) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
