package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/infra/logger"
)

// NATSConfig configures the NATS relay.
type NATSConfig struct {
	URL string `json:"url"`
	// Subject is the prefix of published subjects: <subject>.<line>.<bus>.
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSRelay publishes updates on per-line, per-vehicle subjects.
type NATSRelay struct {
	conn    natsConn
	subject string
	log     logger.Logger
}

// NewNATSRelay connects to the NATS server at cfg.URL.
func NewNATSRelay(cfg NATSConfig) (*NATSRelay, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "fleetcast"
	}
	log := logger.New("relay_nats")
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Infof("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Infof("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return newNATSRelay(nc, cfg.Subject, log), nil
}

func newNATSRelay(conn natsConn, subject string, log logger.Logger) *NATSRelay {
	if subject == "" {
		subject = "fleet.bus"
	}
	return &NATSRelay{conn: conn, subject: subject, log: log}
}

func (r *NATSRelay) Name() string { return "nats" }

// Subject returns the subject an update is published on.
func (r *NATSRelay) Subject(u model.VehicleUpdate) string {
	return fmt.Sprintf("%s.%s.%s", r.subject, token(u.LineID), token(u.BusID))
}

func (r *NATSRelay) Publish(_ context.Context, u model.VehicleUpdate) error {
	b, err := envelope(u)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.Subject(u), b); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains pending messages before closing the connection.
func (r *NATSRelay) Close() error { return r.conn.Drain() }
