package config

import "time"

// APIConfig configures the HTTP API and the observer websocket.
type APIConfig struct {
	Addr         string        `json:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit float64 `json:"rate_limit" validate:"gte=0"`
	Burst     int     `json:"burst" validate:"gte=0"`
	// AllowedOrigins restricts websocket upgrades and CORS. Empty allows all.
	AllowedOrigins []string `json:"allowed_origins"`
	Compress       bool     `json:"compress"`
}

func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RateLimit > 0 && c.Burst == 0 {
		c.Burst = int(c.RateLimit) * 2
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
}
