// Package broadcast pushes vehicle updates to connected observers and to
// external relays.
package broadcast

import (
	"context"

	"github.com/kilianp07/fleetcast/core/model"
)

// Event names exchanged with observers.
const (
	EventInitialData = "initialBusData"
	EventBusUpdate   = "busUpdate"
	EventRequest     = "requestBusUpdate"
	EventError       = "error"
)

// Event is the envelope sent to observers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorData is the payload of an EventError.
type ErrorData struct {
	Message string `json:"message"`
	BusID   string `json:"busId,omitempty"`
}

// ObserverChannel is the transport connecting observers to the gateway.
type ObserverChannel interface {
	// Broadcast sends ev to every connected observer.
	Broadcast(ev Event) error
	// SendTo sends ev to a single observer.
	SendTo(observerID string, ev Event) error
	OnConnect(fn func(observerID string))
	OnDisconnect(fn func(observerID string))
	// OnRequest is invoked when an observer asks for one vehicle.
	OnRequest(fn func(observerID, vehicleID string))
}

// Relay mirrors vehicle updates to an external broker.
type Relay interface {
	Name() string
	Publish(ctx context.Context, u model.VehicleUpdate) error
	Close() error
}
