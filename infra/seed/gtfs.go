package seed

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jamespfennell/gtfs"

	"github.com/kilianp07/fleetcast/core/model"
)

// GTFSOptions controls how a static feed becomes a fixture.
type GTFSOptions struct {
	// VehiclesPerRoute places that many active vehicles along every route.
	VehiclesPerRoute int
}

// LoadGTFS parses the GTFS static zip at path.
func LoadGTFS(path string, opts GTFSOptions, now time.Time) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	return ParseGTFS(data, opts, now)
}

// ParseGTFS converts a GTFS static zip. The stops of a route are those of its
// longest scheduled trip, in stop sequence order.
func ParseGTFS(data []byte, opts GTFSOptions, now time.Time) (Fixture, error) {
	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return Fixture{}, fmt.Errorf("parse gtfs: %w", err)
	}
	longest := make(map[string]*gtfs.ScheduledTrip)
	for i := range static.Trips {
		t := &static.Trips[i]
		if t.Route == nil {
			continue
		}
		if cur, ok := longest[t.Route.Id]; !ok || len(t.StopTimes) > len(cur.StopTimes) {
			longest[t.Route.Id] = t
		}
	}

	var f Fixture
	for _, r := range static.Routes {
		route := model.Route{
			ID:        r.Id,
			Name:      orDefault(r.LongName, r.ShortName),
			ShortName: r.ShortName,
			Color:     gtfsColor(r.Color),
			Type:      routeType(int(r.Type)),
			Status:    model.RouteActive,
		}
		if t := longest[r.Id]; t != nil {
			order := make([]int, len(t.StopTimes))
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(i, j int) bool {
				return t.StopTimes[order[i]].StopSequence < t.StopTimes[order[j]].StopSequence
			})
			for _, idx := range order {
				st := t.StopTimes[idx]
				if st.Stop == nil {
					continue
				}
				stop := model.RouteStop{ID: st.Stop.Id, Name: st.Stop.Name, Sequence: len(route.Stops) + 1}
				if st.Stop.Latitude != nil && st.Stop.Longitude != nil {
					stop.Location = model.Location{Latitude: *st.Stop.Latitude, Longitude: *st.Stop.Longitude}
				}
				route.Stops = append(route.Stops, stop)
			}
		}
		f.Routes = append(f.Routes, route)
		f.Vehicles = append(f.Vehicles, place(route, opts.VehiclesPerRoute, now)...)
	}
	return f, nil
}

// place spreads n vehicles over the stops of r.
func place(r model.Route, n int, now time.Time) []model.Vehicle {
	if n <= 0 || len(r.Stops) == 0 {
		return nil
	}
	out := make([]model.Vehicle, 0, n)
	last := r.Stops[len(r.Stops)-1]
	for i := 0; i < n; i++ {
		idx := i * len(r.Stops) / n
		cur := r.Stops[idx]
		next := cur
		if idx+1 < len(r.Stops) {
			next = r.Stops[idx+1]
		}
		out = append(out, model.Vehicle{
			ID:          fmt.Sprintf("%s-%02d", r.ID, i+1),
			RouteID:     r.ID,
			CurrentStop: cur.Name,
			NextStop:    next.Name,
			Destination: last.Name,
			Location:    cur.Location,
			Occupancy:   model.Occupancy{Level: model.OccupancyLow},
			Status:      model.StatusActive,
			LastUpdated: now,
		})
	}
	return out
}

func gtfsColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if c == "" {
		return ""
	}
	return "#" + strings.ToLower(c)
}

// routeType maps the GTFS route_type code.
func routeType(code int) model.RouteType {
	switch code {
	case 0:
		return model.RouteTram
	case 1:
		return model.RouteMetro
	default:
		return model.RouteBus
	}
}
