package config

// TelemetryConfig holds configuration for MQTT vehicle state ingestion.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	// Mode is "push", "pull" or "hybrid".
	Mode            string `json:"mode" validate:"omitempty,oneof=push pull hybrid"`
	IntervalSeconds int    `json:"interval_seconds"`
	RequestTopic    string `json:"request_topic"`
	ResponsePrefix  string `json:"response_topic_prefix"`
	StatePrefix     string `json:"state_topic_prefix"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

func (c *TelemetryConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "push"
	}
	if c.StatePrefix == "" {
		c.StatePrefix = "fleet/vehicle/state"
	}
	if c.RequestTopic == "" {
		c.RequestTopic = "fleet/telemetry/request"
	}
	if c.ResponsePrefix == "" {
		c.ResponsePrefix = "fleet/telemetry/response"
	}
}

func (c TelemetryConfig) Interval() int {
	if c.IntervalSeconds <= 0 {
		return 10
	}
	return c.IntervalSeconds
}

func (c TelemetryConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 3
	}
	return c.TimeoutSeconds
}
