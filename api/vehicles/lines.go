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

// LinesResponse is the body of GET /api/lines.
type LinesResponse struct {
	Lines []model.Route `json:"lines"`
	Count int           `json:"count"`
}

// StopsResponse is the body of GET /api/lines/:lineId/stops.
type StopsResponse struct {
	LineID string            `json:"lineId"`
	Stops  []model.RouteStop `json:"stops"`
}

// NewLinesHandler serves GET /api/lines, optionally filtered by status and
// type, sorted by name.
func NewLinesHandler(rs store.RouteStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := model.RouteStatus(r.URL.Query().Get("status"))
		typ := model.RouteType(r.URL.Query().Get("type"))
		all, err := rs.ListRoutes(r.Context())
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		lines := make([]model.Route, 0, len(all))
		for _, rt := range all {
			if status != "" && rt.Status != status {
				continue
			}
			if typ != "" && rt.Type != typ {
				continue
			}
			lines = append(lines, rt)
		}
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].Name < lines[j].Name })
		httpjson.Write(w, http.StatusOK, LinesResponse{Lines: lines, Count: len(lines)})
	})
}

func getLine(w http.ResponseWriter, r *http.Request, rs store.RouteStore) (model.Route, bool) {
	id := httprouter.ParamsFromContext(r.Context()).ByName("lineId")
	rt, err := rs.GetRoute(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpjson.Error(w, http.StatusNotFound, "line not found")
		return model.Route{}, false
	}
	if err != nil {
		httpjson.ServerError(w, err)
		return model.Route{}, false
	}
	return rt, true
}

// NewLineHandler serves GET /api/lines/:lineId.
func NewLineHandler(rs store.RouteStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt, ok := getLine(w, r, rs); ok {
			httpjson.Write(w, http.StatusOK, rt)
		}
	})
}

// NewStopsHandler serves GET /api/lines/:lineId/stops.
func NewStopsHandler(rs store.RouteStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := getLine(w, r, rs)
		if !ok {
			return
		}
		stops := rt.Stops
		if stops == nil {
			stops = []model.RouteStop{}
		}
		httpjson.Write(w, http.StatusOK, StopsResponse{LineID: rt.ID, Stops: stops})
	})
}
