package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// DefaultSubject is the NATS subject shared by mesh endpoints.
const DefaultSubject = "miyah.mesh"

// Dial connects to NATS with automatic reconnection support. Extra
// nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func Dial(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("miyah-mesh"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATS is a Transport over a plain NATS subject. Every subscriber on the
// subject receives every frame, including the publisher's own.
type NATS struct {
	endpoint
	conn    *nats.Conn
	subject string

	mu      sync.Mutex
	sub     *nats.Subscription
	running atomic.Bool
}

var _ Transport = (*NATS)(nil)

// NewNATS returns a stopped transport on subject. The connection is owned by
// the caller and is not closed by Stop.
func NewNATS(nc *nats.Conn, subject string, opts ...Option) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{
		endpoint: newEndpoint("nats", buildOptions(opts)),
		conn:     nc,
		subject:  subject,
	}
}

func (n *NATS) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return nil
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		if !n.running.Load() {
			return
		}
		n.dispatch(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", n.subject, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that frames published on other connections are routed.
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	n.sub = sub
	n.running.Store(true)
	return nil
}

func (n *NATS) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub == nil {
		return nil
	}
	n.running.Store(false)
	err := n.sub.Unsubscribe()
	n.sub = nil
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("unsubscribing from %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Publish(_ context.Context, env model.Envelope) error {
	if !n.running.Load() {
		return nil
	}
	data, err := n.encode(env)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.subject, err)
	}
	return nil
}
