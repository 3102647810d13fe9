// Package seed loads fleet fixtures into a store, either from YAML or from a
// GTFS static feed.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

//go:embed default.yaml
var defaultFixture []byte

type stopDoc struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

type routeDoc struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	ShortName string    `yaml:"short_name"`
	Color     string    `yaml:"color"`
	Type      string    `yaml:"type"`
	Status    string    `yaml:"status"`
	Stops     []stopDoc `yaml:"stops"`
}

type vehicleDoc struct {
	ID          string  `yaml:"id"`
	Route       string  `yaml:"route"`
	CurrentStop string  `yaml:"current_stop"`
	NextStop    string  `yaml:"next_stop"`
	Destination string  `yaml:"destination"`
	Lat         float64 `yaml:"lat"`
	Lon         float64 `yaml:"lon"`
	Speed       float64 `yaml:"speed"`
	Heading     float64 `yaml:"heading"`
	Delay       float64 `yaml:"delay"`
	Occupancy   float64 `yaml:"occupancy"`
	Passengers  int     `yaml:"passengers"`
	ETAMinutes  int     `yaml:"eta_minutes"`
	Status      string  `yaml:"status"`
	Wheelchair  bool    `yaml:"wheelchair"`
	LowFloor    bool    `yaml:"low_floor"`
}

type fixtureDoc struct {
	Routes   []routeDoc   `yaml:"routes"`
	Vehicles []vehicleDoc `yaml:"vehicles"`
}

// Fixture is a fleet ready to be written to a store.
type Fixture struct {
	Routes   []model.Route
	Vehicles []model.Vehicle
}

// Default returns the built-in fixture of three routes and six vehicles,
// timestamped at now.
func Default(now time.Time) (Fixture, error) {
	return Parse(defaultFixture, now)
}

// LoadFile parses the YAML fixture at path.
func LoadFile(path string, now time.Time) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	return Parse(data, now)
}

// Parse decodes a YAML fixture. Vehicles must reference a declared route.
func Parse(data []byte, now time.Time) (Fixture, error) {
	var doc fixtureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	var f Fixture
	known := make(map[string]bool, len(doc.Routes))
	for _, r := range doc.Routes {
		if r.ID == "" {
			return Fixture{}, fmt.Errorf("route without id")
		}
		known[r.ID] = true
		route := model.Route{
			ID:        r.ID,
			Name:      r.Name,
			ShortName: r.ShortName,
			Color:     r.Color,
			Type:      model.RouteType(orDefault(r.Type, string(model.RouteBus))),
			Status:    model.RouteStatus(orDefault(r.Status, string(model.RouteActive))),
		}
		for i, s := range r.Stops {
			route.Stops = append(route.Stops, model.RouteStop{
				ID:       s.ID,
				Name:     s.Name,
				Location: model.Location{Latitude: s.Lat, Longitude: s.Lon},
				Sequence: i + 1,
			})
		}
		f.Routes = append(f.Routes, route)
	}
	for _, v := range doc.Vehicles {
		if v.ID == "" {
			return Fixture{}, fmt.Errorf("vehicle without id")
		}
		if !known[v.Route] {
			return Fixture{}, fmt.Errorf("vehicle %s: unknown route %q", v.ID, v.Route)
		}
		f.Vehicles = append(f.Vehicles, model.Vehicle{
			ID:          v.ID,
			RouteID:     v.Route,
			CurrentStop: v.CurrentStop,
			NextStop:    v.NextStop,
			Destination: v.Destination,
			Location:    model.Location{Latitude: v.Lat, Longitude: v.Lon},
			Speed:       v.Speed,
			Heading:     v.Heading,
			Delay:       v.Delay,
			Occupancy: model.Occupancy{
				Level:          model.LevelForPercentage(v.Occupancy),
				Percentage:     v.Occupancy,
				PassengerCount: v.Passengers,
			},
			Status:           model.VehicleStatus(orDefault(v.Status, string(model.StatusActive))),
			Accessibility:    model.Accessibility{WheelchairAccessible: v.Wheelchair, LowFloor: v.LowFloor},
			LastUpdated:      now,
			EstimatedArrival: now.Add(time.Duration(v.ETAMinutes) * time.Minute),
		})
	}
	return f, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Store is the subset of store.Store written by Apply.
type Store interface {
	store.RouteStore
	store.VehicleStore
}

// Apply upserts routes then vehicles.
func Apply(ctx context.Context, st Store, f Fixture) error {
	for _, r := range f.Routes {
		if err := st.UpsertRoute(ctx, r); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
	}
	for _, v := range f.Vehicles {
		if err := st.UpsertVehicle(ctx, v); err != nil {
			return fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
	}
	return nil
}
