// Package timeseries reads vehicle history back from InfluxDB, where the
// influx metrics sink writes vehicle_state points.
package timeseries

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	coreseries "github.com/kilianp07/fleetcast/core/timeseries"
	"github.com/kilianp07/fleetcast/infra/logger"
)

// Config locates the bucket holding vehicle_state points.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Range bounds how far back queries look.
	Range time.Duration
}

// InfluxProvider implements timeseries.Provider with Flux queries.
type InfluxProvider struct {
	client   influxdb2.Client
	query    api.QueryAPI
	bucket   string
	rng      time.Duration
	fallback coreseries.Provider
	log      logger.Logger
}

var _ coreseries.Provider = (*InfluxProvider)(nil)

// NewInfluxProvider returns a provider; fallback answers when a vehicle has
// no stored samples yet and may be nil.
func NewInfluxProvider(cfg Config, fallback coreseries.Provider) *InfluxProvider {
	opts := influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second})
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	if cfg.Range <= 0 {
		cfg.Range = 24 * time.Hour
	}
	return &InfluxProvider{
		client:   client,
		query:    client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		rng:      cfg.Range,
		fallback: fallback,
		log:      logger.New("timeseries"),
	}
}

// Close releases the HTTP resources of the client.
func (p *InfluxProvider) Close() { p.client.Close() }

func fluxString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Flux builds the query returning the last window samples in time order.
func (p *InfluxProvider) Flux(vehicleID string, metric coreseries.Metric, window int) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "vehicle_state" and r.vehicle_id == %s and r._field == %s)
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
  |> sort(columns: ["_time"])`,
		fluxString(p.bucket), p.rng.String(), fluxString(vehicleID), fluxString(string(metric)), window)
}

func (p *InfluxProvider) History(ctx context.Context, vehicleID string, metric coreseries.Metric, window int) ([]float64, error) {
	if window <= 0 {
		return []float64{}, nil
	}
	res, err := p.query.Query(ctx, p.Flux(vehicleID, metric, window))
	if err != nil {
		return nil, fmt.Errorf("query %s history of %s: %w", metric, vehicleID, err)
	}
	defer res.Close()
	out := make([]float64, 0, window)
	for res.Next() {
		switch v := res.Record().Value().(type) {
		case float64:
			out = append(out, v)
		case int64:
			out = append(out, float64(v))
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("read %s history of %s: %w", metric, vehicleID, err)
	}
	if len(out) == 0 && p.fallback != nil {
		p.log.Debugf("no stored %s history for %s, using fallback", metric, vehicleID)
		return p.fallback.History(ctx, vehicleID, metric, window)
	}
	return out, nil
}
