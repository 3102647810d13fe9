package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/fleetcast/api/httpjson"
	"github.com/kilianp07/fleetcast/core/statistics"
	"github.com/kilianp07/fleetcast/core/store"
)

// StatisticsReader computes network indicators.
type StatisticsReader interface {
	Overview(ctx context.Context) (statistics.Overview, error)
	LinePerformance(ctx context.Context, lineID string) ([]statistics.LinePerformance, error)
	DelayDistribution(ctx context.Context) ([]statistics.DelayBucket, int, error)
}

// LinePerformanceResponse is the body of GET /api/statistics/line-performance.
type LinePerformanceResponse struct {
	Lines       []statistics.LinePerformance `json:"lines"`
	LastUpdated time.Time                    `json:"lastUpdated"`
}

// DelayDistributionResponse is the body of GET
// /api/statistics/delay-distribution.
type DelayDistributionResponse struct {
	Distribution []statistics.DelayBucket `json:"distribution"`
	TotalBuses   int                      `json:"totalBuses"`
	LastUpdated  time.Time                `json:"lastUpdated"`
}

func newOverviewHandler(s StatisticsReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ov, err := s.Overview(r.Context())
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, ov)
	})
}

func newLinePerformanceHandler(s StatisticsReader, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines, err := s.LinePerformance(r.Context(), r.URL.Query().Get("lineId"))
		if errors.Is(err, store.ErrNotFound) {
			httpjson.Error(w, http.StatusNotFound, "line not found")
			return
		}
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, LinePerformanceResponse{Lines: lines, LastUpdated: now()})
	})
}

func newDelayDistributionHandler(s StatisticsReader, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buckets, total, err := s.DelayDistribution(r.Context())
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		httpjson.Write(w, http.StatusOK, DelayDistributionResponse{Distribution: buckets, TotalBuses: total, LastUpdated: now()})
	})
}
