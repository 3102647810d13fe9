package relay

import (
	"context"
	"strings"

	"github.com/kilianp07/fleetcast/core/model"
	infmqtt "github.com/kilianp07/fleetcast/infra/mqtt"
)

// MQTTConfig configures the MQTT relay. Connection settings are those of the
// mqtt section.
type MQTTConfig struct {
	infmqtt.Config `json:",squash"`
	// TopicPrefix is the parent of per-vehicle topics: <prefix>/<bus>.
	TopicPrefix string `json:"topic_prefix"`
}

type mqttClient interface {
	infmqtt.Publisher
	Disconnect()
}

// MQTTRelay publishes each update on the topic of its vehicle.
type MQTTRelay struct {
	cli    mqttClient
	prefix string
}

// NewMQTTRelay connects a dedicated MQTT client.
func NewMQTTRelay(cfg MQTTConfig) (*MQTTRelay, error) {
	cli, err := infmqtt.NewClient(cfg.Config.WithClientID("relay"), nil)
	if err != nil {
		return nil, err
	}
	return newMQTTRelay(cli, cfg.TopicPrefix), nil
}

func newMQTTRelay(cli mqttClient, prefix string) *MQTTRelay {
	if prefix == "" {
		prefix = "fleet/bus"
	}
	return &MQTTRelay{cli: cli, prefix: strings.TrimSuffix(prefix, "/")}
}

func (r *MQTTRelay) Name() string { return "mqtt" }

// Topic returns the topic an update is published on.
func (r *MQTTRelay) Topic(u model.VehicleUpdate) string {
	return r.prefix + "/" + token(u.BusID)
}

func (r *MQTTRelay) Publish(ctx context.Context, u model.VehicleUpdate) error {
	b, err := envelope(u)
	if err != nil {
		return err
	}
	return r.cli.Publish(ctx, r.Topic(u), "update", b)
}

func (r *MQTTRelay) Close() error {
	r.cli.Disconnect()
	return nil
}
