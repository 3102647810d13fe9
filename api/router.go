// Package api exposes the fleet, predictions, statistics, the GTFS-Realtime
// feed and the observer websocket over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kilianp07/fleetcast/api/httpjson"
	"github.com/kilianp07/fleetcast/api/predictions"
	"github.com/kilianp07/fleetcast/api/vehicles"
	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/logger"
	"github.com/kilianp07/fleetcast/core/store"
)

// Store is what the handlers read.
type Store interface {
	store.VehicleStore
	store.RouteStore
	predictions.Lister
	Pinger
}

// Deps are the collaborators served by the router. Feed, Performance and
// Observers are optional; their routes are not registered when nil.
type Deps struct {
	Store       Store
	Statistics  StatisticsReader
	Performance predictions.PerformanceReader
	Feed        FeedEncoder
	// Observers serves the websocket upgrade on /ws.
	Observers http.Handler
	// ObserverCount feeds the health report.
	ObserverCount func() int
	Logger        logger.Logger
	Started       time.Time
	Now           func() time.Time
}

// NewRouter builds the HTTP handler. JSON routes go through logging, CORS,
// rate limiting and, when enabled, compression. The websocket route is
// served as is.
func NewRouter(cfg config.APIConfig, d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Started.IsZero() {
		d.Started = d.Now()
	}
	mws := []Middleware{Logging(d.Logger), CORS(cfg.AllowedOrigins)}
	if cfg.RateLimit > 0 {
		mws = append(mws, NewIPRateLimiter(cfg.RateLimit, cfg.Burst).Middleware)
	}
	if cfg.Compress {
		mws = append(mws, Compress)
	}

	r := httprouter.New()
	r.HandleOPTIONS = false
	handle := func(path string, h http.Handler) {
		wrapped := Chain(h, mws...)
		r.Handler(http.MethodGet, path, wrapped)
		r.Handler(http.MethodOptions, path, wrapped)
	}

	handle("/api/health", NewHealthHandler(d.Store, d.Started, d.Now, d.ObserverCount))
	handle("/api/buses", vehicles.NewListHandler(d.Store))
	handle("/api/buses/:busId", vehicles.NewBusHandler(d.Store))
	handle("/api/buses/:busId/route", vehicles.NewBusRouteHandler(d.Store))
	handle("/api/buses/:busId/predictions", predictions.NewVehicleHandler(d.Store))
	handle("/api/lines", vehicles.NewLinesHandler(d.Store))
	handle("/api/lines/:lineId", vehicles.NewLineHandler(d.Store))
	handle("/api/lines/:lineId/stops", vehicles.NewStopsHandler(d.Store))
	if d.Statistics != nil {
		handle("/api/statistics/overview", newOverviewHandler(d.Statistics))
		handle("/api/statistics/line-performance", newLinePerformanceHandler(d.Statistics, d.Now))
		handle("/api/statistics/delay-distribution", newDelayDistributionHandler(d.Statistics, d.Now))
	}
	if d.Performance != nil {
		handle("/api/predictions/performance", predictions.NewPerformanceHandler(d.Performance))
	}
	if d.Feed != nil {
		handle("/gtfs-rt/vehicle-positions", NewFeedHandler(d.Feed))
	}
	if d.Observers != nil {
		r.Handler(http.MethodGet, "/ws", d.Observers)
	}
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Error(w, http.StatusNotFound, "route not found")
	})
	r.PanicHandler = func(w http.ResponseWriter, _ *http.Request, v any) {
		logger.OrNop(d.Logger).Errorf("handler panic: %v", v)
		httpjson.Error(w, http.StatusInternalServerError, "internal server error")
	}
	return r
}
