package config

import "time"

// TimeSeriesConfig selects where vehicle history is read from.
type TimeSeriesConfig struct {
	// Backend is "simulated" or "influx".
	Backend string `json:"backend" validate:"oneof=simulated influx"`
	URL     string `json:"url" validate:"required_if=Backend influx"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket" validate:"required_if=Backend influx"`
	// Range is how far back history queries look.
	Range time.Duration `json:"range"`
}

func (c *TimeSeriesConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "simulated"
	}
	if c.Range == 0 {
		c.Range = 24 * time.Hour
	}
}
