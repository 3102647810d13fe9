package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/infra/logger"
)

// InfluxSink writes scheduler and fleet events to InfluxDB using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTick writes one task_tick point.
func (s *InfluxSink) RecordTick(ev coremetrics.TickEvent) error {
	errStr := ""
	if ev.Err != nil {
		errStr = ev.Err.Error()
	}
	p := write.NewPointWithMeasurement("task_tick").
		AddTag("task", ev.Task).
		AddTag("skipped", strconv.FormatBool(ev.Skipped)).
		AddField("duration_ms", round3(float64(ev.Duration.Microseconds())/1000)).
		AddField("error", errStr).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPredictionBatch writes one point per algorithm of the batch.
func (s *InfluxSink) RecordPredictionBatch(ev coremetrics.PredictionBatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for alg, n := range ev.PerAlg {
		p := write.NewPointWithMeasurement("prediction_batch").
			AddTag("algorithm", string(alg)).
			AddField("predictions", n).
			AddField("vehicles", ev.Vehicles).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordValidation writes the outcome of one validated prediction.
func (s *InfluxSink) RecordValidation(ev coremetrics.ValidationEvent) error {
	p := write.NewPointWithMeasurement("prediction_validation").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("algorithm", string(ev.Algorithm)).
		AddTag("horizon", strconv.Itoa(ev.Horizon)).
		AddField("predicted", round3(ev.Predicted)).
		AddField("actual", round3(ev.Actual)).
		AddField("accuracy", round3(ev.Accuracy)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordSimulation writes the summary of one simulation tick.
func (s *InfluxSink) RecordSimulation(ev coremetrics.SimulationEvent) error {
	p := write.NewPointWithMeasurement("simulation_tick").
		AddField("vehicles", ev.Vehicles).
		AddField("updated", ev.Updated).
		AddField("failed", ev.Failed).
		AddField("duration_ms", round3(float64(ev.Duration.Microseconds())/1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordVehicleState writes the position and load of a vehicle. The delay
// field is what infra/timeseries reads back as history.
func (s *InfluxSink) RecordVehicleState(ev coremetrics.VehicleStateEvent) error {
	u := ev.Update
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("vehicle_id", u.BusID)
	if u.LineID != "" {
		p = p.AddTag("line_id", u.LineID)
	}
	if ev.Source != "" {
		p = p.AddTag("source", ev.Source)
	}
	p = p.AddField("latitude", u.Location.Latitude).
		AddField("longitude", u.Location.Longitude).
		AddField("speed", round3(u.Speed)).
		AddField("delay", round3(u.Delay)).
		AddField("occupancy", round3(u.Occupancy.Percentage)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordBroadcast writes gateway counters.
func (s *InfluxSink) RecordBroadcast(ev coremetrics.BroadcastEvent) error {
	p := write.NewPointWithMeasurement("broadcast_stats").
		AddField("observers", ev.Observers).
		AddField("published", ev.Published).
		AddField("dropped", ev.Dropped).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
