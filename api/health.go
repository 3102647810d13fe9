package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kilianp07/fleetcast/api/httpjson"
)

// Pinger checks the reachability of a backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is the body of GET /api/health.
type Health struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
	Observers int       `json:"observers"`
}

// NewHealthHandler reports OK with 200 when the store answers a ping within
// two seconds, DEGRADED with 503 otherwise.
func NewHealthHandler(st Pinger, started time.Time, now func() time.Time, observers func() int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ts := now()
		h := Health{Status: "OK", Store: "up", Timestamp: ts, Uptime: ts.Sub(started).Seconds()}
		if observers != nil {
			h.Observers = observers()
		}
		status := http.StatusOK
		if err := st.Ping(ctx); err != nil {
			h.Status, h.Store = "DEGRADED", "down"
			status = http.StatusServiceUnavailable
		}
		httpjson.Write(w, status, h)
	})
}
