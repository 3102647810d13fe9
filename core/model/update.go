package model

import "time"

// VehicleUpdate is the payload pushed to observers for one vehicle. Field
// names are part of the observer contract.
type VehicleUpdate struct {
	BusID            string    `json:"busId"`
	LineID           string    `json:"lineId"`
	LineName         string    `json:"lineName"`
	LineColor        string    `json:"lineColor"`
	Location         Location  `json:"location"`
	Speed            float64   `json:"speed"`
	Direction        float64   `json:"direction"`
	Delay            float64   `json:"delay"`
	Occupancy        Occupancy `json:"occupancy"`
	CurrentStop      string    `json:"currentStop"`
	NextStop         string    `json:"nextStop"`
	Destination      string    `json:"destination"`
	LastUpdated      time.Time `json:"lastUpdated"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
}

// NewVehicleUpdate denormalises a vehicle and its route into an update.
// A zero route leaves the line fields empty except the default colour.
func NewVehicleUpdate(v Vehicle, r Route) VehicleUpdate {
	lineID := r.ID
	if lineID == "" {
		lineID = v.RouteID
	}
	return VehicleUpdate{
		BusID:            v.ID,
		LineID:           lineID,
		LineName:         r.Name,
		LineColor:        r.DisplayColor(),
		Location:         v.Location,
		Speed:            v.Speed,
		Direction:        v.Heading,
		Delay:            v.Delay,
		Occupancy:        v.Occupancy,
		CurrentStop:      v.CurrentStop,
		NextStop:         v.NextStop,
		Destination:      v.Destination,
		LastUpdated:      v.LastUpdated,
		EstimatedArrival: v.EstimatedArrival,
	}
}
