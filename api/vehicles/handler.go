// Package vehicles serves the fleet and its routes over HTTP.
package vehicles

import (
	"errors"
	"net/http"
	"sort"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/fleetcast/api/httpjson"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

// Status filters accepted on the list endpoint besides the vehicle statuses.
const (
	FilterDelayed = "delayed"
	FilterOnTime  = "onTime"
)

// LineRef is the route summary attached to a bus.
type LineRef struct {
	ID        string `json:"lineId"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Color     string `json:"color"`
}

// Bus is a vehicle with its route summary.
type Bus struct {
	model.Vehicle
	Line *LineRef `json:"line,omitempty"`
}

// Pagination describes one page of a list.
type Pagination struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Count   int `json:"count"`
	Items   int `json:"totalItems"`
}

// ListResponse is the body of GET /api/buses.
type ListResponse struct {
	Buses      []Bus      `json:"buses"`
	Pagination Pagination `json:"pagination"`
}

type storeReader interface {
	store.VehicleStore
	store.RouteStore
}

func lineRef(r model.Route) *LineRef {
	if r.ID == "" {
		return nil
	}
	return &LineRef{ID: r.ID, Name: r.Name, ShortName: r.ShortName, Color: r.DisplayColor()}
}

func statusFilter(s string) (store.VehicleFilter, func(model.Vehicle) bool, bool) {
	switch s {
	case "":
		return store.VehicleFilter{}, nil, true
	case string(model.StatusActive), string(model.StatusInactive), string(model.StatusMaintenance):
		return store.VehicleFilter{Status: model.VehicleStatus(s)}, nil, true
	case FilterDelayed:
		return store.VehicleFilter{}, func(v model.Vehicle) bool { return v.Delay > 0 }, true
	case FilterOnTime:
		return store.VehicleFilter{}, func(v model.Vehicle) bool { return v.Delay == 0 }, true
	default:
		return store.VehicleFilter{}, nil, false
	}
}

// NewListHandler serves GET /api/buses. Query parameters: line, status
// (active, inactive, maintenance, delayed, onTime), lat, lng and radius in
// km, limit (1..100) and page. Results are sorted by last update, newest
// first.
func NewListHandler(st storeReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter, keep, ok := statusFilter(q.Get("status"))
		if !ok {
			httpjson.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.RouteID = q.Get("line")
		limit, err := httpjson.Int(r, "limit", 50, 1, 100)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		page, err := httpjson.Int(r, "page", 1, 1, 1<<20)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		lat, hasLat, err := httpjson.Float(r, "lat", -90, 90)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		lng, hasLng, err := httpjson.Float(r, "lng", -180, 180)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		radius, hasRadius, err := httpjson.Float(r, "radius", 0.1, 50)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		if !hasRadius {
			radius = 5
		}

		all, err := st.FindVehicles(r.Context(), filter, 0)
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		matched := all[:0]
		for _, v := range all {
			if keep != nil && !keep(v) {
				continue
			}
			if hasLat && hasLng && v.DistanceTo(lat, lng) > radius {
				continue
			}
			matched = append(matched, v)
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].LastUpdated.After(matched[j].LastUpdated) })

		start := (page - 1) * limit
		end := start + limit
		if start > len(matched) {
			start = len(matched)
		}
		if end > len(matched) {
			end = len(matched)
		}
		routes := store.NewRouteCache(st)
		buses := make([]Bus, 0, end-start)
		for _, v := range matched[start:end] {
			rt, err := routes.Resolve(r.Context(), v.RouteID)
			if err != nil {
				httpjson.ServerError(w, err)
				return
			}
			buses = append(buses, Bus{Vehicle: v, Line: lineRef(rt)})
		}
		httpjson.Write(w, http.StatusOK, ListResponse{
			Buses: buses,
			Pagination: Pagination{
				Current: page,
				Total:   (len(matched) + limit - 1) / limit,
				Count:   len(buses),
				Items:   len(matched),
			},
		})
	})
}

// NewBusHandler serves GET /api/buses/:busId.
func NewBusHandler(st storeReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := httprouter.ParamsFromContext(r.Context()).ByName("busId")
		v, err := st.GetVehicle(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			httpjson.Error(w, http.StatusNotFound, "bus not found")
			return
		}
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		rt, err := store.NewRouteCache(st).Resolve(r.Context(), v.RouteID)
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, Bus{Vehicle: v, Line: lineRef(rt)})
	})
}

// NewBusRouteHandler serves GET /api/buses/:busId/route with the full route
// of the bus, stops included.
func NewBusRouteHandler(st storeReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := httprouter.ParamsFromContext(r.Context()).ByName("busId")
		v, err := st.GetVehicle(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			httpjson.Error(w, http.StatusNotFound, "bus not found")
			return
		}
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		rt, err := st.GetRoute(r.Context(), v.RouteID)
		if errors.Is(err, store.ErrNotFound) {
			httpjson.Error(w, http.StatusNotFound, "line not found")
			return
		}
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, rt)
	})
}
