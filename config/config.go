package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetcast/core/broadcast"
	"github.com/kilianp07/fleetcast/core/metrics"
	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/prediction"
	"github.com/kilianp07/fleetcast/core/scheduler"
	"github.com/kilianp07/fleetcast/core/simulation"
	"github.com/kilianp07/fleetcast/infra/mqtt"
)

type Config struct {
	Store      StoreConfig       `json:"store"`
	Scheduler  scheduler.Config  `json:"scheduler"`
	Prediction prediction.Config `json:"prediction"`
	Simulation simulation.Config `json:"simulation"`
	Broadcast  broadcast.Config  `json:"broadcast"`
	API        APIConfig         `json:"api"`
	Metrics    metrics.Config    `json:"metrics"`
	Telemetry  TelemetryConfig   `json:"telemetry"`
	MQTT       mqtt.Config       `json:"mqtt"`
	Logging    LoggingConfig     `json:"logging"`
	Sentry     SentryConfig      `json:"sentry"`
	TimeSeries TimeSeriesConfig  `json:"timeseries"`
	// Conditions replaces the default external-condition snapshot.
	Conditions *model.ExternalConditions `json:"conditions"`
	// Seed makes simulation and forecasts reproducible. Zero seeds from the clock.
	Seed int64 `json:"seed"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path, applies K_ prefixed environment overrides, fills defaults
// and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every section defaulted, as used when
// no file is given.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Prediction.SetDefaults()
	c.Simulation.SetDefaults()
	c.Broadcast.SetDefaults()
	c.API.SetDefaults()
	c.Logging.SetDefaults()
	c.TimeSeries.SetDefaults()
	c.Telemetry.SetDefaults()
}

// Validate runs the struct tags first, then the per-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	checks := []struct {
		section string
		fn      func() error
	}{
		{"scheduler", c.Scheduler.Validate},
		{"prediction", c.Prediction.Validate},
		{"simulation", c.Simulation.Validate},
		{"broadcast", c.Broadcast.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.section, err)
		}
	}
	if c.Telemetry.Enabled && c.MQTT.Broker == "" {
		return errors.New("telemetry: mqtt.broker is required")
	}
	return nil
}
