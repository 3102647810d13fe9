// Package simulation moves active vehicles a small random step on every tick
// and publishes the resulting updates.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/fleetcast/core/logger"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/random"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/store"
)

// Publisher receives one update per persisted vehicle.
type Publisher interface {
	Broadcast(u model.VehicleUpdate)
}

// Config tunes the random walk.
type Config struct {
	// BatchSize caps the vehicles moved per tick. Zero means all.
	BatchSize int `json:"batch_size"`
	// PositionStep is the full width of the lat/lon perturbation in degrees.
	PositionStep float64 `json:"position_step"`
	// SpeedStep is the full width of the speed perturbation in km/h.
	SpeedStep float64 `json:"speed_step"`
}

func (c *Config) SetDefaults() {
	if c.PositionStep == 0 {
		c.PositionStep = 0.001
	}
	if c.SpeedStep == 0 {
		c.SpeedStep = 5
	}
}

func (c Config) Validate() error {
	if c.BatchSize < 0 || c.PositionStep < 0 || c.SpeedStep < 0 {
		return errors.New("simulation settings must not be negative")
	}
	return nil
}

// Deps are the collaborators of a Simulator.
type Deps struct {
	Vehicles  store.VehicleStore
	Routes    store.RouteStore
	Publisher Publisher
	Rand      random.Source
	Clock     scheduler.Clock
	Logger    logger.Logger
	Metrics   metrics.SimulationRecorder
}

// Simulator performs simulation ticks.
type Simulator struct {
	cfg Config
	Deps
}

// New validates the collaborators.
func New(cfg Config, d Deps) (*Simulator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Vehicles == nil || d.Routes == nil || d.Publisher == nil || d.Rand == nil {
		return nil, errors.New("simulation: missing collaborator")
	}
	if d.Clock == nil {
		d.Clock = scheduler.SystemClock{}
	}
	d.Logger = logger.OrNop(d.Logger)
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	return &Simulator{cfg: cfg, Deps: d}, nil
}

// Step returns v moved by one random step at time now. Position moves by at
// most PositionStep/2 per axis, speed by SpeedStep/2 and delay by one minute;
// speed and delay never go below zero.
func (s *Simulator) Step(v model.Vehicle, now time.Time) model.Vehicle {
	v.Location.Latitude += (s.Rand.Float64() - 0.5) * s.cfg.PositionStep
	v.Location.Longitude += (s.Rand.Float64() - 0.5) * s.cfg.PositionStep
	v.Speed = math.Max(0, v.Speed+(s.Rand.Float64()-0.5)*s.cfg.SpeedStep)
	v.Heading = math.Floor(s.Rand.Float64() * 360)
	if v.Heading >= 360 {
		v.Heading = 0
	}
	v.Delay = math.Max(0, v.Delay+math.Floor(s.Rand.Float64()*3)-1)
	v.LastUpdated = now
	return v
}

// Tick moves every active vehicle once. A vehicle that cannot be persisted is
// logged and skipped; only a failing vehicle query fails the tick.
func (s *Simulator) Tick(ctx context.Context) (metrics.SimulationEvent, error) {
	start := time.Now()
	now := s.Clock.Now()
	vehicles, err := s.Vehicles.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, s.cfg.BatchSize)
	if err != nil {
		return metrics.SimulationEvent{}, fmt.Errorf("list active vehicles: %w", err)
	}
	routes := store.NewRouteCache(s.Routes)
	ev := metrics.SimulationEvent{Vehicles: len(vehicles), Time: now}
	for _, v := range vehicles {
		if ctx.Err() != nil {
			break
		}
		moved := s.Step(v, now)
		if err := s.Vehicles.UpdateVehicle(ctx, moved); err != nil {
			ev.Failed++
			s.Logger.Errorf("update vehicle %s: %v", v.ID, err)
			continue
		}
		ev.Updated++
		u, err := routes.Update(ctx, moved)
		if err != nil {
			s.Logger.Warnf("route %s for vehicle %s: %v", moved.RouteID, moved.ID, err)
		}
		s.Publisher.Broadcast(u)
	}
	ev.Duration = time.Since(start)
	_ = s.Metrics.RecordSimulation(ev)
	s.Logger.Debugf("simulation tick: %d updated, %d failed", ev.Updated, ev.Failed)
	return ev, ctx.Err()
}

// Task returns the periodic simulation task.
func (s *Simulator) Task(cfg scheduler.Config) scheduler.Task {
	return scheduler.Task{
		Name:       "simulation",
		Interval:   cfg.SimulationInterval,
		Timeout:    cfg.TimeoutFor(cfg.SimulationInterval),
		RunAtStart: cfg.RunAtStart,
		Run: func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		},
	}
}
