package model

// RouteType is the transport mode of a route.
type RouteType string

const (
	RouteBus   RouteType = "bus"
	RouteTram  RouteType = "tram"
	RouteMetro RouteType = "metro"
)

// RouteStatus is the service state of a route.
type RouteStatus string

const (
	RouteActive    RouteStatus = "active"
	RouteInactive  RouteStatus = "inactive"
	RouteSuspended RouteStatus = "suspended"
)

// DefaultRouteColor is used when a route has no display colour.
const DefaultRouteColor = "#007bff"

// RouteStop is one stop of a route in travel order.
type RouteStop struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location Location `json:"location"`
	Sequence int      `json:"sequence"`
}

// Route is a fixed line served by vehicles. It is read-only for the core.
type Route struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	ShortName string      `json:"shortName"`
	Color     string      `json:"color"`
	Type      RouteType   `json:"type"`
	Status    RouteStatus `json:"status"`
	Stops     []RouteStop `json:"stops,omitempty"`
}

// DisplayColor returns the route colour or the default one.
func (r Route) DisplayColor() string {
	if r.Color == "" {
		return DefaultRouteColor
	}
	return r.Color
}
