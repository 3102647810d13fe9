package metrics

import "github.com/kilianp07/fleetcast/core/factory"

// Config defines the metrics sinks to build and the Prometheus endpoint.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" validate:"dive"`
	// PrometheusAddr exposes /metrics when set, e.g. ":9102".
	PrometheusAddr string `json:"prometheus_addr"`
}
