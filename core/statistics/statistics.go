// Package statistics derives network-level indicators from the current fleet
// state.
package statistics

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

// Overview summarises the whole network.
type Overview struct {
	TotalBuses        int       `json:"totalBuses"`
	ActiveBuses       int       `json:"activeBuses"`
	DelayedBuses      int       `json:"delayedBuses"`
	OnTimeBuses       int       `json:"onTimeBuses"`
	TotalLines        int       `json:"totalLines"`
	OnTimePerformance float64   `json:"onTimePerformance"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// LinePerformance summarises the vehicles of one route.
type LinePerformance struct {
	LineID           string  `json:"lineId"`
	Name             string  `json:"name"`
	Color            string  `json:"color"`
	TotalBuses       int     `json:"totalBuses"`
	ActiveBuses      int     `json:"activeBuses"`
	OnTimeBuses      int     `json:"onTimeBuses"`
	DelayedBuses     int     `json:"delayedBuses"`
	AverageDelay     float64 `json:"averageDelay"`
	AverageOccupancy float64 `json:"averageOccupancy"`
}

// DelayBucket counts vehicles in one delay category.
type DelayBucket struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Delay categories, in display order.
const (
	BucketOnTime = "onTime"
	Bucket1to5   = "1-5min"
	Bucket5to10  = "5-10min"
	BucketOver10 = "+10min"
)

// round2 rounds to two decimals.
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// ComputeOverview counts vehicles by punctuality. A vehicle is delayed when
// its delay is positive and on time when it is exactly zero.
func ComputeOverview(vehicles []model.Vehicle, routes int, now time.Time) Overview {
	o := Overview{TotalBuses: len(vehicles), TotalLines: routes, LastUpdated: now}
	for _, v := range vehicles {
		if v.Active() {
			o.ActiveBuses++
		}
		switch {
		case v.Delay > 0:
			o.DelayedBuses++
		case v.Delay == 0:
			o.OnTimeBuses++
		}
	}
	if o.TotalBuses > 0 {
		o.OnTimePerformance = round2(float64(o.OnTimeBuses) / float64(o.TotalBuses) * 100)
	}
	return o
}

// ComputeLinePerformance aggregates the vehicles of each route. Routes
// without vehicles report zero averages.
func ComputeLinePerformance(routes []model.Route, vehicles []model.Vehicle) []LinePerformance {
	byRoute := make(map[string][]model.Vehicle, len(routes))
	for _, v := range vehicles {
		byRoute[v.RouteID] = append(byRoute[v.RouteID], v)
	}
	out := make([]LinePerformance, 0, len(routes))
	for _, r := range routes {
		vs := byRoute[r.ID]
		lp := LinePerformance{LineID: r.ID, Name: r.Name, Color: r.DisplayColor(), TotalBuses: len(vs)}
		delays := make([]float64, 0, len(vs))
		occ := make([]float64, 0, len(vs))
		for _, v := range vs {
			if v.Active() {
				lp.ActiveBuses++
			}
			switch {
			case v.Delay > 0:
				lp.DelayedBuses++
			case v.Delay == 0:
				lp.OnTimeBuses++
			}
			delays = append(delays, v.Delay)
			occ = append(occ, v.Occupancy.Percentage)
		}
		if len(vs) > 0 {
			lp.AverageDelay = stat.Mean(delays, nil)
			lp.AverageOccupancy = stat.Mean(occ, nil)
		}
		out = append(out, lp)
	}
	return out
}

// ComputeDelayDistribution buckets vehicles by delay: 0, (0,5], (5,10], >10.
// Negative delays count as on time.
func ComputeDelayDistribution(vehicles []model.Vehicle) []DelayBucket {
	out := []DelayBucket{{Category: BucketOnTime}, {Category: Bucket1to5}, {Category: Bucket5to10}, {Category: BucketOver10}}
	for _, v := range vehicles {
		switch {
		case v.Delay <= 0:
			out[0].Count++
		case v.Delay <= 5:
			out[1].Count++
		case v.Delay <= 10:
			out[2].Count++
		default:
			out[3].Count++
		}
	}
	if n := len(vehicles); n > 0 {
		for i := range out {
			out[i].Percentage = round2(float64(out[i].Count) / float64(n) * 100)
		}
	}
	return out
}

// Service reads the store and computes indicators.
type Service struct {
	Vehicles store.VehicleStore
	Routes   store.RouteStore
	Now      func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Overview returns the network summary.
func (s Service) Overview(ctx context.Context) (Overview, error) {
	vs, err := s.Vehicles.FindVehicles(ctx, store.VehicleFilter{}, 0)
	if err != nil {
		return Overview{}, fmt.Errorf("list vehicles: %w", err)
	}
	rs, err := s.Routes.ListRoutes(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list routes: %w", err)
	}
	return ComputeOverview(vs, len(rs), s.now()), nil
}

// LinePerformance returns per-route indicators. A non-empty lineID restricts
// the result to that route and yields store.ErrNotFound when it is unknown.
func (s Service) LinePerformance(ctx context.Context, lineID string) ([]LinePerformance, error) {
	var routes []model.Route
	if lineID != "" {
		r, err := s.Routes.GetRoute(ctx, lineID)
		if err != nil {
			return nil, err
		}
		routes = []model.Route{r}
	} else {
		rs, err := s.Routes.ListRoutes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list routes: %w", err)
		}
		routes = rs
	}
	vs, err := s.Vehicles.FindVehicles(ctx, store.VehicleFilter{RouteID: lineID}, 0)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return ComputeLinePerformance(routes, vs), nil
}

// DelayDistribution returns the delay histogram of all vehicles.
func (s Service) DelayDistribution(ctx context.Context) ([]DelayBucket, int, error) {
	vs, err := s.Vehicles.FindVehicles(ctx, store.VehicleFilter{}, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("list vehicles: %w", err)
	}
	return ComputeDelayDistribution(vs), len(vs), nil
}
