// Package telemetry ingests vehicle state reported over MQTT. Accepted
// reports update the store and are broadcast like simulation updates.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/simulation"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/infra/logger"
	infmetrics "github.com/kilianp07/fleetcast/infra/metrics"
	infmqtt "github.com/kilianp07/fleetcast/infra/mqtt"
)

// Client is the MQTT surface used by the manager.
type Client interface {
	infmqtt.Publisher
	Subscribe(topic, kind string, handler infmqtt.Handler) error
	Disconnect()
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Vehicles  store.VehicleStore
	Routes    store.RouteStore
	Publisher simulation.Publisher
	Clock     scheduler.Clock
	Logger    logger.Logger
	// Registerer receives the ingestion metrics; nil selects the default one.
	Registerer prometheus.Registerer
}

// Manager collects telemetry from vehicles either via push or polling.
type Manager struct {
	cfg config.TelemetryConfig
	cli Client
	Deps

	respCh chan telemetryMessage

	received    *prometheus.CounterVec
	rejected    prometheus.Counter
	pollReq     prometheus.Counter
	pollResp    prometheus.Counter
	pollTimeout prometheus.Counter
	lastCollect prometheus.Gauge
	latency     prometheus.Histogram
}

type telemetryMessage struct {
	VehicleID string
	Payload   []byte
	Arrived   time.Time
}

// report is the JSON body of a state message. Absent fields keep the stored
// value.
type report struct {
	VehicleID      string   `json:"vehicle_id"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Speed          *float64 `json:"speed"`
	Heading        *float64 `json:"heading"`
	Delay          *float64 `json:"delay"`
	Occupancy      *float64 `json:"occupancy"`
	PassengerCount *int     `json:"passenger_count"`
	CurrentStop    string   `json:"current_stop"`
	NextStop       string   `json:"next_stop"`
	Status         string   `json:"status"`
	TS             *int64   `json:"ts"`
}

// NewManager prepares telemetry collection over cli.
func NewManager(cfg config.TelemetryConfig, cli Client, d Deps) (*Manager, error) {
	if cli == nil || d.Vehicles == nil || d.Routes == nil || d.Publisher == nil {
		return nil, fmt.Errorf("telemetry: client, stores and publisher are required")
	}
	if d.Clock == nil {
		d.Clock = scheduler.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.New("telemetry")
	}
	reg := d.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Manager{cfg: cfg, cli: cli, Deps: d, respCh: make(chan telemetryMessage, 100)}
	var err error
	if m.received, err = infmetrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetcast_telemetry_reports_total", Help: "Vehicle state reports applied, by collection mode",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if m.rejected, err = infmetrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_telemetry_rejected_total", Help: "Vehicle state reports that could not be applied",
	})); err != nil {
		return nil, err
	}
	if m.pollReq, err = infmetrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_telemetry_poll_requests_total", Help: "Number of telemetry poll requests",
	})); err != nil {
		return nil, err
	}
	if m.pollResp, err = infmetrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_telemetry_poll_responses_total", Help: "Number of telemetry poll responses",
	})); err != nil {
		return nil, err
	}
	if m.pollTimeout, err = infmetrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetcast_telemetry_poll_timeout_total", Help: "Vehicles that did not answer a poll in time",
	})); err != nil {
		return nil, err
	}
	if m.lastCollect, err = infmetrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetcast_telemetry_last_collect_timestamp_seconds", Help: "Unix timestamp of last telemetry collection",
	})); err != nil {
		return nil, err
	}
	if m.latency, err = infmetrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "fleetcast_telemetry_collect_latency_seconds", Help: "Latency of telemetry collection", Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// Start runs telemetry collection until context is done.
func (m *Manager) Start(ctx context.Context) error {
	mode := strings.ToLower(m.cfg.Mode)
	if mode == "" {
		mode = "push"
	}
	if mode == "push" || mode == "hybrid" {
		topic := strings.TrimSuffix(m.cfg.StatePrefix, "/") + "/+"
		if err := m.cli.Subscribe(topic, "telemetry", m.onPush(ctx)); err != nil {
			return fmt.Errorf("subscribe state: %w", err)
		}
	}
	if mode == "pull" || mode == "hybrid" {
		topic := strings.TrimSuffix(m.cfg.ResponsePrefix, "/") + "/+"
		if err := m.cli.Subscribe(topic, "telemetry", m.onResponse); err != nil {
			return fmt.Errorf("subscribe response: %w", err)
		}
		go m.pollLoop(ctx)
	}
	<-ctx.Done()
	m.cli.Disconnect()
	return nil
}

func (m *Manager) onPush(ctx context.Context) infmqtt.Handler {
	return func(topic string, payload []byte) {
		if err := m.process(ctx, payload, topic, "push"); err != nil {
			m.rejected.Inc()
			m.Logger.Errorf("push report: %v", err)
		}
	}
}

func (m *Manager) onResponse(topic string, payload []byte) {
	msg := telemetryMessage{VehicleID: extractID(topic), Payload: payload, Arrived: m.Clock.Now()}
	select {
	case m.respCh <- msg:
	default:
		m.Logger.Warnf("telemetry response from %s dropped", msg.VehicleID)
	}
}

func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.Interval()) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.doPoll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) doPoll(ctx context.Context) {
	start := m.Clock.Now()
	expected := make(map[string]struct{})
	vehicles, err := m.Vehicles.FindVehicles(ctx, store.VehicleFilter{Status: model.StatusActive}, 0)
	if err != nil {
		m.Logger.Warnf("poll discovery: %v", err)
	}
	for _, v := range vehicles {
		expected[v.ID] = struct{}{}
	}
	m.pollReq.Inc()
	if err := m.cli.Publish(ctx, m.cfg.RequestTopic, "telemetry", []byte("poll")); err != nil {
		m.Logger.Errorf("poll request: %v", err)
		return
	}
	timeout := time.NewTimer(time.Duration(m.cfg.Timeout()) * time.Second)
	defer timeout.Stop()
	for {
		select {
		case resp := <-m.respCh:
			if err := m.process(ctx, resp.Payload, resp.VehicleID, "poll"); err != nil {
				m.rejected.Inc()
				m.Logger.Errorf("poll report: %v", err)
				continue
			}
			m.pollResp.Inc()
			m.latency.Observe(resp.Arrived.Sub(start).Seconds())
			m.lastCollect.Set(float64(resp.Arrived.Unix()))
			delete(expected, resp.VehicleID)
			if len(expected) == 0 {
				return
			}
		case <-timeout.C:
			for range expected {
				m.pollTimeout.Inc()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// process applies one report. topic is used to recover the vehicle id when
// the body omits it.
func (m *Manager) process(ctx context.Context, payload []byte, topic, mode string) error {
	var r report
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if r.VehicleID == "" {
		r.VehicleID = extractID(topic)
	}
	if r.VehicleID == "" {
		return fmt.Errorf("report without vehicle id")
	}
	v, err := m.Vehicles.GetVehicle(ctx, r.VehicleID)
	if err != nil {
		return fmt.Errorf("vehicle %s: %w", r.VehicleID, err)
	}
	v = apply(v, r, m.Clock.Now())
	if err := m.Vehicles.UpdateVehicle(ctx, v); err != nil {
		return fmt.Errorf("update %s: %w", v.ID, err)
	}
	u, err := store.NewRouteCache(m.Routes).Update(ctx, v)
	if err != nil {
		m.Logger.Warnf("route %s of %s: %v", v.RouteID, v.ID, err)
	}
	m.Publisher.Broadcast(u)
	m.received.WithLabelValues(mode).Inc()
	return nil
}

// apply merges r into v, clamping values to their valid ranges.
func apply(v model.Vehicle, r report, now time.Time) model.Vehicle {
	if r.Latitude != nil && r.Longitude != nil {
		v.Location = model.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if r.Speed != nil {
		v.Speed = math.Max(0, *r.Speed)
	}
	if r.Heading != nil {
		h := math.Mod(*r.Heading, 360)
		if h < 0 {
			h += 360
		}
		v.Heading = h
	}
	if r.Delay != nil {
		v.Delay = *r.Delay
	}
	if r.Occupancy != nil {
		p := math.Min(100, math.Max(0, *r.Occupancy))
		v.Occupancy.Percentage = p
		v.Occupancy.Level = model.LevelForPercentage(p)
	}
	if r.PassengerCount != nil && *r.PassengerCount >= 0 {
		v.Occupancy.PassengerCount = *r.PassengerCount
	}
	if r.CurrentStop != "" {
		v.CurrentStop = r.CurrentStop
	}
	if r.NextStop != "" {
		v.NextStop = r.NextStop
	}
	switch s := model.VehicleStatus(r.Status); s {
	case model.StatusActive, model.StatusInactive, model.StatusMaintenance:
		v.Status = s
	}
	v.LastUpdated = now
	if r.TS != nil {
		v.LastUpdated = time.Unix(*r.TS, 0).UTC()
	}
	return v
}
