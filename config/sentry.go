package config

// SentryConfig enables error reporting to Sentry. An empty DSN disables it.
type SentryConfig struct {
	DSN         string `json:"dsn" validate:"omitempty,url"`
	Environment string `json:"environment"`
	Release     string `json:"release"`
	// SampleRate is the share of error events sent, 1 when unset.
	SampleRate       float64 `json:"sample_rate" validate:"gte=0,lte=1"`
	TracesSampleRate float64 `json:"traces_sample_rate" validate:"gte=0,lte=1"`
	Debug            bool    `json:"debug"`
}

// Enabled reports whether a DSN is configured.
func (c SentryConfig) Enabled() bool { return c.DSN != "" }
