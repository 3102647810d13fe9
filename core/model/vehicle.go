package model

import (
	"math"
	"time"
)

// VehicleStatus is the operational state of a vehicle.
type VehicleStatus string

const (
	StatusActive      VehicleStatus = "active"
	StatusInactive    VehicleStatus = "inactive"
	StatusMaintenance VehicleStatus = "maintenance"
)

// OccupancyLevel is the coarse load of a vehicle.
type OccupancyLevel string

const (
	OccupancyLow    OccupancyLevel = "low"
	OccupancyMedium OccupancyLevel = "medium"
	OccupancyHigh   OccupancyLevel = "high"
	OccupancyFull   OccupancyLevel = "full"
)

// Location is a WGS84 position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Occupancy describes how loaded a vehicle is.
type Occupancy struct {
	Level          OccupancyLevel `json:"level"`
	Percentage     float64        `json:"percentage"`
	PassengerCount int            `json:"passengerCount"`
}

// Accessibility lists boarding features of a vehicle.
type Accessibility struct {
	WheelchairAccessible bool `json:"wheelchairAccessible"`
	LowFloor             bool `json:"lowFloor"`
}

// Vehicle is a fleet member running on a route.
//
// Position, speed, heading and delay are mutated by the simulation task or by
// telemetry ingestion. The core never deletes vehicles.
type Vehicle struct {
	ID               string        `json:"id"`
	RouteID          string        `json:"routeId"`
	CurrentStop      string        `json:"currentStop"`
	NextStop         string        `json:"nextStop"`
	Destination      string        `json:"destination"`
	Location         Location      `json:"location"`
	Speed            float64       `json:"speed"`   // km/h
	Heading          float64       `json:"heading"` // degrees, [0,360)
	Delay            float64       `json:"delay"`   // minutes
	Occupancy        Occupancy     `json:"occupancy"`
	Status           VehicleStatus `json:"status"`
	Accessibility    Accessibility `json:"accessibility"`
	LastUpdated      time.Time     `json:"lastUpdated"`
	EstimatedArrival time.Time     `json:"estimatedArrival"`
}

// Active reports whether the vehicle takes part in simulation and forecasting.
func (v Vehicle) Active() bool { return v.Status == StatusActive }

// OnTime reports whether the vehicle runs without delay.
func (v Vehicle) OnTime() bool { return v.Delay <= 0 }

const earthRadiusKm = 6371.0

// DistanceTo returns the great-circle distance in kilometres between the
// vehicle and the given coordinates.
func (v Vehicle) DistanceTo(lat, lon float64) float64 {
	return Haversine(v.Location.Latitude, v.Location.Longitude, lat, lon)
}

// Haversine computes the great-circle distance between two points in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// LevelForPercentage maps an occupancy percentage to its coarse level.
func LevelForPercentage(p float64) OccupancyLevel {
	switch {
	case p >= 95:
		return OccupancyFull
	case p >= 70:
		return OccupancyHigh
	case p >= 30:
		return OccupancyMedium
	default:
		return OccupancyLow
	}
}
