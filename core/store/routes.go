package store

import (
	"context"
	"errors"

	"github.com/kilianp07/fleetcast/core/model"
)

// RouteCache resolves routes through a RouteStore and remembers every answer,
// including misses. It is meant to live for one tick or one request.
type RouteCache struct {
	routes RouteStore
	seen   map[string]model.Route
}

// NewRouteCache wraps rs.
func NewRouteCache(rs RouteStore) *RouteCache {
	return &RouteCache{routes: rs, seen: make(map[string]model.Route)}
}

// Resolve returns the route with id. An unknown route resolves to a zero
// Route without error; other store errors are returned and not cached.
func (c *RouteCache) Resolve(ctx context.Context, id string) (model.Route, error) {
	if r, ok := c.seen[id]; ok {
		return r, nil
	}
	r, err := c.routes.GetRoute(ctx, id)
	if errors.Is(err, ErrNotFound) {
		r, err = model.Route{}, nil
	}
	if err != nil {
		return model.Route{}, err
	}
	c.seen[id] = r
	return r, nil
}

// Update builds the observer payload of v, joining its route.
func (c *RouteCache) Update(ctx context.Context, v model.Vehicle) (model.VehicleUpdate, error) {
	r, err := c.Resolve(ctx, v.RouteID)
	if err != nil {
		return model.NewVehicleUpdate(v, model.Route{}), err
	}
	return model.NewVehicleUpdate(v, r), nil
}
