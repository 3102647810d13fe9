// Package relay mirrors vehicle updates to external brokers. Each relay is
// registered by type name and built from the broadcast.relays section.
package relay

import (
	"encoding/json"
	"strings"

	"github.com/kilianp07/fleetcast/core/broadcast"
	"github.com/kilianp07/fleetcast/core/factory"
	"github.com/kilianp07/fleetcast/core/model"
)

var registry = factory.NewRegistry[broadcast.Relay]()

// Register adds a relay factory identified by name.
func Register(name string, f factory.Factory[broadcast.Relay]) error {
	return registry.Register(name, f)
}

// Types lists the registered relay types.
func Types() []string { return registry.Names() }

// New builds every configured relay. Relays already built are closed when a
// later one fails.
func New(cfgs []factory.ModuleConfig) ([]broadcast.Relay, error) {
	out := make([]broadcast.Relay, 0, len(cfgs))
	for _, c := range cfgs {
		r, err := registry.Create(c)
		if err != nil {
			for _, built := range out {
				_ = built.Close()
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func init() {
	_ = Register("nats", func(m map[string]any) (broadcast.Relay, error) {
		var cfg NATSConfig
		if err := factory.Decode(m, &cfg); err != nil {
			return nil, err
		}
		return NewNATSRelay(cfg)
	})
	_ = Register("redis", func(m map[string]any) (broadcast.Relay, error) {
		var cfg RedisConfig
		if err := factory.Decode(m, &cfg); err != nil {
			return nil, err
		}
		return NewRedisRelay(cfg)
	})
	_ = Register("mqtt", func(m map[string]any) (broadcast.Relay, error) {
		var cfg MQTTConfig
		if err := factory.Decode(m, &cfg); err != nil {
			return nil, err
		}
		return NewMQTTRelay(cfg)
	})
}

// envelope is the message body every relay publishes.
func envelope(u model.VehicleUpdate) ([]byte, error) {
	return json.Marshal(broadcast.Event{Type: broadcast.EventBusUpdate, Data: u})
}

// token makes s usable as one NATS subject token or MQTT topic level.
func token(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "+", "_", "#", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
