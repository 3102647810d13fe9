// Package predictions serves stored predictions and algorithm performance.
package predictions

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/fleetcast/api/httpjson"
	"github.com/kilianp07/fleetcast/core/model"
)

// Lister reads the latest predictions of a vehicle.
type Lister interface {
	ListPredictions(ctx context.Context, vehicleID string, kind model.PredictionKind, limit int) ([]model.Prediction, error)
}

// PerformanceReader aggregates validated predictions.
type PerformanceReader interface {
	Algorithms() []model.Algorithm
	Performance(ctx context.Context, alg model.Algorithm, window time.Duration) (model.PerformanceStat, error)
	PerformanceAll(ctx context.Context, window time.Duration) ([]model.PerformanceStat, error)
}

// VehicleResponse is the body of GET /api/buses/:busId/predictions.
type VehicleResponse struct {
	BusID       string             `json:"busId"`
	Predictions []model.Prediction `json:"predictions"`
}

// PerformanceResponse is the body of GET /api/predictions/performance.
type PerformanceResponse struct {
	Window      string                  `json:"window"`
	Performance []model.PerformanceStat `json:"performance"`
}

// NewVehicleHandler serves the newest predictions of one bus, optionally
// restricted to one kind.
func NewVehicleHandler(l Lister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := httprouter.ParamsFromContext(r.Context()).ByName("busId")
		limit, err := httpjson.Int(r, "limit", 50, 1, 500)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		kind := model.PredictionKind(r.URL.Query().Get("type"))
		ps, err := l.ListPredictions(r.Context(), id, kind, limit)
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		if ps == nil {
			ps = []model.Prediction{}
		}
		httpjson.Write(w, http.StatusOK, VehicleResponse{BusID: id, Predictions: ps})
	})
}

// NewPerformanceHandler serves per-algorithm accuracy. The optional
// algorithm parameter selects one algorithm and window is a Go duration.
func NewPerformanceHandler(pr PerformanceReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var window time.Duration
		if s := r.URL.Query().Get("window"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				httpjson.Error(w, http.StatusBadRequest, "window must be a positive duration")
				return
			}
			window = d
		}
		alg := model.Algorithm(r.URL.Query().Get("algorithm"))
		var (
			stats []model.PerformanceStat
			err   error
		)
		if alg == "" {
			stats, err = pr.PerformanceAll(r.Context(), window)
		} else {
			if !known(pr.Algorithms(), alg) {
				httpjson.Error(w, http.StatusBadRequest, "unknown algorithm")
				return
			}
			var st model.PerformanceStat
			st, err = pr.Performance(r.Context(), alg, window)
			stats = []model.PerformanceStat{st}
		}
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		resp := PerformanceResponse{Performance: stats}
		if window > 0 {
			resp.Window = window.String()
		}
		httpjson.Write(w, http.StatusOK, resp)
	})
}

func known(algs []model.Algorithm, alg model.Algorithm) bool {
	for _, a := range algs {
		if a == alg {
			return true
		}
	}
	return false
}
