package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events to NATS subjects as JSON.
type NATSPublisher struct {
	conn  *nats.Conn
	owned bool
}

// NewNATSPublisher connects to url and publishes on its own connection.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("miyah-events"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, owned: true}, nil
}

// NewNATSPublisherConn publishes on an existing connection, which Close
// leaves open.
func NewNATSPublisherConn(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: nc}
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(topic, data)
}

func (p *NATSPublisher) Close() error {
	if p.owned {
		p.conn.Close()
	}
	return nil
}
