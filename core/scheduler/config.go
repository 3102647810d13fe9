package scheduler

import (
	"errors"
	"time"
)

// Config holds the cadence of the built-in tasks.
type Config struct {
	SimulationInterval time.Duration `json:"simulation_interval"`
	GenerationInterval time.Duration `json:"generation_interval"`
	ValidationInterval time.Duration `json:"validation_interval"`
	PurgeInterval      time.Duration `json:"purge_interval"`
	// TaskTimeout bounds a single tick. Zero means the task interval.
	TaskTimeout time.Duration `json:"task_timeout"`
	// RunAtStart fires every task once immediately after Start.
	RunAtStart bool `json:"run_at_start"`
}

// SetDefaults fills the default cadences.
func (c *Config) SetDefaults() {
	if c.SimulationInterval == 0 {
		c.SimulationInterval = 5 * time.Second
	}
	if c.GenerationInterval == 0 {
		c.GenerationInterval = 5 * time.Minute
	}
	if c.ValidationInterval == 0 {
		c.ValidationInterval = time.Minute
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = 10 * time.Minute
	}
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	for _, d := range []time.Duration{c.SimulationInterval, c.GenerationInterval, c.ValidationInterval, c.PurgeInterval} {
		if d < 0 {
			return errors.New("scheduler intervals must be positive")
		}
	}
	if c.TaskTimeout < 0 {
		return errors.New("task_timeout must not be negative")
	}
	return nil
}

// TimeoutFor returns the per-tick timeout for a task running every interval.
func (c Config) TimeoutFor(interval time.Duration) time.Duration {
	if c.TaskTimeout > 0 {
		return c.TaskTimeout
	}
	return interval
}
