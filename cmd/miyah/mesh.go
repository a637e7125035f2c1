package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/miyah/internal/codec"
	"github.com/alfredjeanlab/miyah/internal/config"
	"github.com/alfredjeanlab/miyah/internal/mesh"
	"github.com/alfredjeanlab/miyah/internal/transport"
)

// meshEndpoint is a running mesh service plus the connection it rides on.
type meshEndpoint struct {
	*mesh.Service
	conn *nats.Conn
}

// Close stops the service, flushes pending frames and drops the hub
// connection.
func (e *meshEndpoint) Close() {
	if err := e.Stop(); err != nil {
		slog.Warn("mesh: stop failed", "error", err)
	}
	if e.conn.IsConnected() {
		if err := e.conn.FlushTimeout(2 * time.Second); err != nil {
			slog.Warn("mesh: flush failed", "error", err)
		}
	}
	e.conn.Close()
}

// newTransport builds the configured transport over nc.
func newTransport(c *config.Config, nc *nats.Conn, l *slog.Logger) (transport.Transport, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, err
	}
	opts := []transport.Option{transport.WithCodec(cd), transport.WithLogger(l)}

	switch c.Transport {
	case "", "nats":
		return transport.NewNATS(nc, c.Channel, opts...), nil
	case "kv":
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("creating JetStream context: %w", err)
		}
		return transport.NewKVRelay(js, c.KVBucket, c.Channel, opts...), nil
	}
	return nil, fmt.Errorf("unknown transport %q (must be nats or kv)", c.Transport)
}

// openMesh dials the hub and starts a mesh service in the given role. setup,
// when not nil, runs before the service starts so that handlers registered
// there see the first envelope.
func openMesh(ctx context.Context, c *config.Config, role mesh.Role, metrics *mesh.Metrics, l *slog.Logger, setup func(*mesh.Service)) (*meshEndpoint, error) {
	nc, err := transport.Dial(c.NATSURL,
		nats.Name("miyah-"+string(role)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("mesh: hub disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.Info("mesh: hub reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	t, err := newTransport(c, nc, l)
	if err != nil {
		nc.Close()
		return nil, err
	}
	svc, err := mesh.New(t, mesh.Config{
		Role:       role,
		SeenTTL:    c.SeenTTL.Duration,
		PeerExpiry: c.PeerExpiry.Duration,
		Logger:     l,
		Metrics:    metrics,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	if setup != nil {
		setup(svc)
	}
	if err := svc.Start(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("starting mesh: %w", err)
	}
	l.Debug("mesh: started", "role", role, "id", svc.ID(), "transport", t.Name(), "codec", c.Codec)
	return &meshEndpoint{Service: svc, conn: nc}, nil
}
