package config

import (
	"time"

	"github.com/kilianp07/fleetcast/infra/store/postgres"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend        string        `json:"backend" validate:"oneof=memory postgres"`
	DSN            string        `json:"dsn" validate:"required_if=Backend postgres"`
	MaxConns       int32         `json:"max_conns" validate:"gte=0"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Postgres converts the section to the adapter settings.
func (c StoreConfig) Postgres() postgres.Config {
	return postgres.Config{DSN: c.DSN, MaxConns: c.MaxConns, ConnectTimeout: c.ConnectTimeout}
}
