// Package transport delivers serialized mesh envelopes to every endpoint that
// shares a named medium.
//
// A Transport makes no ordering, acknowledgement or delivery promise: Publish
// is fire-and-forget and is silently dropped while the transport is stopped.
// Self-echo filtering is not a transport concern; depending on the backing a
// publisher may or may not observe its own frames, and the mesh dedup layer
// drops them either way. Frames that fail to decode are logged and dropped
// without affecting the frames around them.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/alfredjeanlab/miyah/internal/codec"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/observer"
)

// Handler receives one decoded envelope.
type Handler func(env model.Envelope)

// Transport is the peer transport adapter shared by every mesh service.
type Transport interface {
	// Name identifies the backing in logs ("channel", "nats", "kv").
	Name() string
	// Start establishes the subscription. Calling it again is a no-op.
	Start(ctx context.Context) error
	// Stop tears the subscription down. Safe to call when not started.
	Stop() error
	// Publish sends env to every endpoint on the medium. No-op when not started.
	Publish(ctx context.Context, env model.Envelope) error
	// Subscribe registers h for every received envelope and returns a detach function.
	Subscribe(h Handler) (unsubscribe func())
}

const defaultQueueSize = 256

type options struct {
	codec     codec.Codec
	logger    *slog.Logger
	queueSize int
}

// Option configures a transport.
type Option func(*options)

// WithCodec sets the envelope codec. Default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger used for dropped frames. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithQueueSize bounds the per-endpoint delivery queue of the in-process medium.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

func buildOptions(opts []Option) options {
	o := options{
		codec:     codec.JSON{},
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.queueSize <= 0 {
		o.queueSize = defaultQueueSize
	}
	return o
}

// endpoint holds what every backing shares: the codec, the handler registry
// and the decode-then-fan-out step.
type endpoint struct {
	name     string
	codec    codec.Codec
	logger   *slog.Logger
	handlers *observer.Registry[model.Envelope]
}

func newEndpoint(name string, o options) endpoint {
	return endpoint{
		name:     name,
		codec:    o.codec,
		logger:   o.logger,
		handlers: observer.New[model.Envelope](),
	}
}

func (e *endpoint) Name() string { return e.name }

func (e *endpoint) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	return e.handlers.Detach(e.handlers.Add(h))
}

func (e *endpoint) encode(env model.Envelope) ([]byte, error) {
	data, err := e.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding envelope %s: %w", e.name, env.ID, err)
	}
	return data, nil
}

// dispatch decodes one frame and hands it to every handler. A malformed frame
// or a panicking handler is logged and isolated to that frame.
func (e *endpoint) dispatch(data []byte) {
	env, err := e.codec.Decode(data)
	if err != nil {
		e.logger.Warn("transport: dropping malformed frame",
			"transport", e.name, "bytes", len(data), "error", err)
		return
	}
	for _, h := range e.handlers.Snapshot() {
		e.call(h, env)
	}
}

func (e *endpoint) call(h func(model.Envelope), env model.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("transport: panic recovered in handler",
				"transport", e.name,
				"envelope_id", env.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(env)
}
