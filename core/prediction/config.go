package prediction

import (
	"errors"
	"time"
)

// Config tunes generation, validation and retention.
type Config struct {
	// BatchSize caps the number of active vehicles per generation tick.
	BatchSize int `json:"batch_size"`
	// HistoryWindow is the number of samples fed to the algorithms.
	HistoryWindow int `json:"history_window"`
	// Horizons lists the forecast horizons in minutes.
	Horizons []int `json:"horizons"`
	// MaxValue clamps adjusted delay predictions, in minutes.
	MaxValue float64 `json:"max_value"`
	// ValidationLimit caps the expired predictions handled per tick.
	ValidationLimit int `json:"validation_limit"`
	// Retention keeps validated predictions this long after expiry.
	Retention time.Duration `json:"retention"`
	// StaleRetention keeps never-validated predictions this long after expiry.
	StaleRetention time.Duration `json:"stale_retention"`
	// PerformanceWindow is the default trailing window of performance queries.
	PerformanceWindow time.Duration `json:"performance_window"`
}

func (c *Config) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 30
	}
	if len(c.Horizons) == 0 {
		c.Horizons = []int{15, 30, 60, 120}
	}
	if c.MaxValue == 0 {
		c.MaxValue = 30
	}
	if c.ValidationLimit == 0 {
		c.ValidationLimit = 500
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.StaleRetention == 0 {
		c.StaleRetention = 7 * 24 * time.Hour
	}
	if c.PerformanceWindow == 0 {
		c.PerformanceWindow = 7 * 24 * time.Hour
	}
}

func (c Config) Validate() error {
	if c.BatchSize < 0 || c.HistoryWindow < 0 || c.ValidationLimit < 0 {
		return errors.New("prediction sizes must not be negative")
	}
	for _, h := range c.Horizons {
		if h <= 0 {
			return errors.New("prediction horizons must be positive")
		}
	}
	if c.MaxValue < 0 {
		return errors.New("max_value must not be negative")
	}
	return nil
}
