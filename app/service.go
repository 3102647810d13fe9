// Package app wires the stores, the scheduler tasks, the broadcast gateway
// and the HTTP API into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kilianp07/fleetcast/api"
	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/broadcast"
	"github.com/kilianp07/fleetcast/core/factors"
	"github.com/kilianp07/fleetcast/core/forecast"
	coremetrics "github.com/kilianp07/fleetcast/core/metrics"
	coremon "github.com/kilianp07/fleetcast/core/monitoring"
	"github.com/kilianp07/fleetcast/core/prediction"
	"github.com/kilianp07/fleetcast/core/random"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/simulation"
	"github.com/kilianp07/fleetcast/core/statistics"
	"github.com/kilianp07/fleetcast/core/store"
	coreseries "github.com/kilianp07/fleetcast/core/timeseries"
	"github.com/kilianp07/fleetcast/infra/gtfsrt"
	"github.com/kilianp07/fleetcast/infra/logger"
	"github.com/kilianp07/fleetcast/infra/metrics"
	"github.com/kilianp07/fleetcast/infra/monitoring"
	"github.com/kilianp07/fleetcast/infra/mqtt"
	"github.com/kilianp07/fleetcast/infra/relay"
	"github.com/kilianp07/fleetcast/infra/store/memory"
	"github.com/kilianp07/fleetcast/infra/store/postgres"
	"github.com/kilianp07/fleetcast/infra/telemetry"
	"github.com/kilianp07/fleetcast/infra/timeseries"
	"github.com/kilianp07/fleetcast/infra/websocket"
)

// Service owns every long-lived component.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Store       store.Store
	Clock       scheduler.Clock
	Scheduler   *scheduler.Scheduler
	Gateway     *broadcast.Gateway
	Simulator   *simulation.Simulator
	Predictions *prediction.Manager
	Hub         *websocket.Hub
	Telemetry   *telemetry.Manager
	Handler     http.Handler

	monitor  coremon.Monitor
	closers  []func() error
	flushLog func() error
}

// OpenStore connects the configured backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.Postgres())
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewRand returns the shared random source, seeded from cfg when set.
func NewRand(seed int64) *random.Locked {
	if seed != 0 {
		return random.New(seed)
	}
	return random.NewTimeSeeded()
}

// New builds the service. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	flush, err := logger.Configure(cfg.Logging.Options())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	s := &Service{cfg: cfg, log: logger.New("service"), Clock: scheduler.SystemClock{}, flushLog: flush}
	if err := s.build(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	s.monitor = mon

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sinks: %w", err)
	}
	recorders := coremetrics.NewMultiSink(sink)

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	s.Store = st
	rnd := NewRand(cfg.Seed)

	s.Hub = websocket.NewHub(websocket.Config{AllowedOrigins: cfg.API.AllowedOrigins}, logger.New("websocket"))
	relays, err := relay.New(cfg.Broadcast.Relays)
	if err != nil {
		return fmt.Errorf("relays: %w", err)
	}
	if len(cfg.Metrics.Sinks) > 0 {
		if sr := metrics.NewStateRelay(sink, "fleet"); sr != nil {
			relays = append(relays, sr)
		}
	}
	s.Gateway, err = broadcast.New(cfg.Broadcast, broadcast.Deps{
		Channel:  s.Hub,
		Vehicles: st,
		Routes:   st,
		Relays:   relays,
		Logger:   logger.New("broadcast"),
		Metrics:  recorders,
	})
	if err != nil {
		for _, r := range relays {
			_ = r.Close()
		}
		return fmt.Errorf("broadcast gateway: %w", err)
	}

	s.Simulator, err = simulation.New(cfg.Simulation, simulation.Deps{
		Vehicles:  st,
		Routes:    st,
		Publisher: s.Gateway,
		Rand:      rnd,
		Clock:     s.Clock,
		Logger:    logger.New("simulation"),
		Metrics:   recorders,
	})
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	var history coreseries.Provider = coreseries.NewSimulated(rnd)
	if cfg.TimeSeries.Backend == "influx" {
		p := timeseries.NewInfluxProvider(timeseries.Config{
			URL:    cfg.TimeSeries.URL,
			Token:  cfg.TimeSeries.Token,
			Org:    cfg.TimeSeries.Org,
			Bucket: cfg.TimeSeries.Bucket,
			Range:  cfg.TimeSeries.Range,
		}, history)
		s.closers = append(s.closers, func() error { p.Close(); return nil })
		history = p
	}
	conditions := factors.NewStaticSource()
	if cfg.Conditions != nil {
		conditions = factors.StaticSource{Conditions: *cfg.Conditions}
	}
	s.Predictions, err = prediction.NewManager(cfg.Prediction, prediction.Deps{
		Vehicles:    st,
		Predictions: st,
		History:     history,
		Conditions:  conditions,
		Forecaster:  forecast.New(rnd),
		Observer:    prediction.SimulatedObserver{Rand: rnd},
		Clock:       s.Clock,
		Logger:      logger.New("prediction"),
		Metrics:     recorders,
	})
	if err != nil {
		return fmt.Errorf("prediction manager: %w", err)
	}

	s.Scheduler = scheduler.New(scheduler.Deps{
		Clock:   s.Clock,
		Logger:  logger.New("scheduler"),
		Metrics: sink,
		Monitor: mon,
	})
	tasks := append([]scheduler.Task{s.Simulator.Task(cfg.Scheduler)}, s.Predictions.Tasks(cfg.Scheduler)...)
	for _, t := range tasks {
		if err := s.Scheduler.Add(t); err != nil {
			return fmt.Errorf("schedule %s: %w", t.Name, err)
		}
	}

	if cfg.Telemetry.Enabled {
		cli, err := mqtt.NewClient(cfg.MQTT.WithClientID("telemetry"), mon)
		if err != nil {
			return fmt.Errorf("telemetry mqtt: %w", err)
		}
		s.Telemetry, err = telemetry.NewManager(cfg.Telemetry, cli, telemetry.Deps{
			Vehicles:  st,
			Routes:    st,
			Publisher: s.Gateway,
			Clock:     s.Clock,
			Logger:    logger.New("telemetry"),
		})
		if err != nil {
			cli.Disconnect()
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	s.Handler = api.NewRouter(cfg.API, api.Deps{
		Store:         st,
		Statistics:    statistics.Service{Vehicles: st, Routes: st, Now: s.Clock.Now},
		Performance:   s.Predictions,
		Feed:          gtfsrt.NewFeed(st, s.Clock, cfg.Broadcast.SnapshotLimit),
		Observers:     s.Hub,
		ObserverCount: s.Gateway.Observers,
		Logger:        logger.New("api"),
		Started:       s.Clock.Now(),
		Now:           s.Clock.Now,
	})
	return nil
}

// Run starts every component and blocks until ctx is cancelled or the API
// server fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Gateway.Run(ctx)
	}()
	s.Scheduler.Start(ctx)
	if s.Telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Telemetry.Start(ctx); err != nil {
				s.log.Errorf("telemetry: %v", err)
			}
		}()
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("fleetcast running with tasks %v", s.Scheduler.Tasks())

	err := api.Serve(ctx, s.cfg.API, s.Handler, logger.New("api"))
	if err != nil {
		s.monitor.CaptureException(err, map[string]string{"module": "api"})
		err = fmt.Errorf("api server: %w", err)
	}
	cancel()
	s.Scheduler.Stop()
	_ = s.Hub.Close()
	wg.Wait()
	return err
}

// Close releases the store, the time-series client and the monitors.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	if s.flushLog != nil {
		errs = append(errs, s.flushLog())
	}
	return errors.Join(errs...)
}
