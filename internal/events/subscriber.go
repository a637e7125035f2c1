package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// subscriberBuffer is the number of undelivered events a subscription holds.
// Later events are dropped until the reader catches up.
const subscriberBuffer = 64

// NATSSubscriber subscribes to events on NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

var _ Subscriber = (*NATSSubscriber)(nil)

// NewNATSSubscriber connects to NATS with automatic reconnection. Extra
// nats.Option values (e.g. disconnect/reconnect handlers) are applied after
// the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("miyah-watch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel of raw payloads published on topic, which may
// use NATS wildcards such as TopicReports. The cancel function unsubscribes
// and closes the channel; it may be called more than once.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	sn := &subscription{ch: make(chan []byte, subscriberBuffer)}

	sub, err := s.conn.Subscribe(topic, sn.deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before the caller relies on it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}
	sn.sub = sub
	return sn.ch, sn.cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// subscription bridges a NATS callback to a channel. deliver never blocks the
// NATS client and never sends after cancel.
type subscription struct {
	sub *nats.Subscription
	ch  chan []byte

	mu     sync.Mutex
	closed bool
}

func (sn *subscription) deliver(msg *nats.Msg) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return
	}
	select {
	case sn.ch <- msg.Data:
	default:
	}
}

func (sn *subscription) cancel() {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return
	}
	sn.closed = true
	_ = sn.sub.Unsubscribe()
	close(sn.ch)
}
