package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/fleetcast/core/factory"
	"github.com/kilianp07/fleetcast/core/logger"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/internal/eventbus"
)

// Config tunes the gateway.
type Config struct {
	// Buffer is the queue length of every bus subscriber.
	Buffer int `json:"buffer"`
	// SnapshotLimit caps the vehicles in an initial snapshot.
	SnapshotLimit int `json:"snapshot_limit"`
	// RequestTimeout bounds store reads made for one observer.
	RequestTimeout time.Duration `json:"request_timeout"`
	// StatsInterval is the period of BroadcastEvent reports.
	StatsInterval time.Duration `json:"stats_interval"`
	// Relays are the external brokers receiving busUpdate events.
	Relays []factory.ModuleConfig `json:"relays" validate:"dive"`
}

func (c *Config) SetDefaults() {
	if c.Buffer == 0 {
		c.Buffer = eventbus.DefaultBuffer
	}
	if c.SnapshotLimit == 0 {
		c.SnapshotLimit = 1000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 15 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Buffer < 0 || c.SnapshotLimit < 0 || c.RequestTimeout < 0 || c.StatsInterval < 0 {
		return errors.New("broadcast settings must not be negative")
	}
	return nil
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Channel  ObserverChannel
	Vehicles store.VehicleStore
	Routes   store.RouteStore
	Relays   []Relay
	Logger   logger.Logger
	Metrics  metrics.BroadcastRecorder
}

// Gateway fans vehicle updates out to observers and relays. Publishing goes
// through a bounded bus so a slow consumer never stalls the simulation.
type Gateway struct {
	cfg Config
	Deps
	bus *eventbus.TypedBus[model.VehicleUpdate]

	mu        sync.RWMutex
	observers map[string]time.Time
	base      context.Context
}

// New creates a gateway and registers its callbacks on the channel.
func New(cfg Config, d Deps) (*Gateway, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Channel == nil || d.Vehicles == nil || d.Routes == nil {
		return nil, errors.New("broadcast: missing collaborator")
	}
	d.Logger = logger.OrNop(d.Logger)
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	g := &Gateway{
		cfg:       cfg,
		Deps:      d,
		bus:       eventbus.NewTyped[model.VehicleUpdate](cfg.Buffer),
		observers: make(map[string]time.Time),
		base:      context.Background(),
	}
	d.Channel.OnConnect(g.OnConnect)
	d.Channel.OnDisconnect(g.OnDisconnect)
	d.Channel.OnRequest(g.HandleRequest)
	return g, nil
}

// Broadcast queues a busUpdate for every observer and relay.
func (g *Gateway) Broadcast(u model.VehicleUpdate) {
	g.bus.Publish(u)
}

// Observers returns the number of connected observers.
func (g *Gateway) Observers() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.observers)
}

// Stats reports the current fan-out counters.
func (g *Gateway) Stats() metrics.BroadcastEvent {
	return metrics.BroadcastEvent{
		Observers: g.Observers(),
		Published: g.bus.Published(),
		Dropped:   g.bus.Dropped(),
		Time:      time.Now(),
	}
}

// Run forwards bus events to the channel and relays until ctx is done, then
// closes the bus and the relays.
func (g *Gateway) Run(ctx context.Context) {
	g.mu.Lock()
	g.base = ctx
	g.mu.Unlock()

	var wg sync.WaitGroup
	obs := g.bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range obs {
			if err := g.Channel.Broadcast(Event{Type: EventBusUpdate, Data: u}); err != nil {
				g.Logger.Warnf("broadcast %s: %v", u.BusID, err)
			}
		}
	}()
	for _, r := range g.Relays {
		sub := g.bus.Subscribe()
		wg.Add(1)
		go func(r Relay, sub <-chan model.VehicleUpdate) {
			defer wg.Done()
			for u := range sub {
				if err := r.Publish(ctx, u); err != nil {
					g.Logger.Warnf("relay %s publish %s: %v", r.Name(), u.BusID, err)
				}
			}
		}(r, sub)
	}

	ticker := time.NewTicker(g.cfg.StatsInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			_ = g.Metrics.RecordBroadcast(g.Stats())
		}
	}
	g.bus.Close()
	wg.Wait()
	for _, r := range g.Relays {
		if err := r.Close(); err != nil {
			g.Logger.Warnf("close relay %s: %v", r.Name(), err)
		}
	}
	_ = g.Metrics.RecordBroadcast(g.Stats())
}

func (g *Gateway) requestContext() (context.Context, context.CancelFunc) {
	g.mu.RLock()
	base := g.base
	g.mu.RUnlock()
	return context.WithTimeout(base, g.cfg.RequestTimeout)
}

// OnConnect registers the observer and sends it the snapshot of all active
// vehicles. Nobody else receives the snapshot.
func (g *Gateway) OnConnect(observerID string) {
	g.mu.Lock()
	g.observers[observerID] = time.Now()
	g.mu.Unlock()
	g.Logger.Infof("observer %s connected", observerID)

	ctx, cancel := g.requestContext()
	defer cancel()
	snap, err := g.Snapshot(ctx)
	if err != nil {
		g.Logger.Errorf("snapshot for %s: %v", observerID, err)
		_ = g.Channel.SendTo(observerID, Event{Type: EventError, Data: ErrorData{Message: "snapshot unavailable"}})
		return
	}
	if err := g.Channel.SendTo(observerID, Event{Type: EventInitialData, Data: snap}); err != nil {
		g.Logger.Warnf("send snapshot to %s: %v", observerID, err)
	}
}

// OnDisconnect forgets the observer.
func (g *Gateway) OnDisconnect(observerID string) {
	g.mu.Lock()
	delete(g.observers, observerID)
	g.mu.Unlock()
	g.Logger.Infof("observer %s disconnected", observerID)
}

// HandleRequest answers a single observer with the current state of one
// vehicle, or an error event.
func (g *Gateway) HandleRequest(observerID, vehicleID string) {
	ctx, cancel := g.requestContext()
	defer cancel()
	ev, err := g.vehicleEvent(ctx, vehicleID)
	if err != nil {
		g.Logger.Debugf("request %s from %s: %v", vehicleID, observerID, err)
	}
	if err := g.Channel.SendTo(observerID, ev); err != nil {
		g.Logger.Warnf("reply to %s: %v", observerID, err)
	}
}

func (g *Gateway) vehicleEvent(ctx context.Context, vehicleID string) (Event, error) {
	v, err := g.Vehicles.GetVehicle(ctx, vehicleID)
	if errors.Is(err, store.ErrNotFound) {
		return Event{Type: EventError, Data: ErrorData{Message: "bus not found", BusID: vehicleID}}, err
	}
	if err != nil {
		return Event{Type: EventError, Data: ErrorData{Message: "bus unavailable", BusID: vehicleID}}, err
	}
	u, err := store.NewRouteCache(g.Routes).Update(ctx, v)
	if err != nil {
		g.Logger.Warnf("route %s: %v", v.RouteID, err)
	}
	return Event{Type: EventBusUpdate, Data: u}, nil
}

// Snapshot returns the updates of all active vehicles.
func (g *Gateway) Snapshot(ctx context.Context) ([]model.VehicleUpdate, error) {
	vehicles, err := g.Vehicles.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, g.cfg.SnapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("list active vehicles: %w", err)
	}
	routes := store.NewRouteCache(g.Routes)
	out := make([]model.VehicleUpdate, 0, len(vehicles))
	for _, v := range vehicles {
		u, err := routes.Update(ctx, v)
		if err != nil {
			g.Logger.Warnf("route %s: %v", v.RouteID, err)
		}
		out = append(out, u)
	}
	return out, nil
}
