package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// Medium is an in-process broadcast medium: every port joined to a named
// channel receives every frame posted to it by another port. Each port drains
// its own bounded queue on its own goroutine, so a slow or blocked receiver
// never holds up the sender or the other receivers.
type Medium struct {
	mu       sync.RWMutex
	channels map[string]map[*port]struct{}
}

// NewMedium returns an empty medium.
func NewMedium() *Medium {
	return &Medium{channels: make(map[string]map[*port]struct{})}
}

type port struct {
	channel string
	logger  *slog.Logger
	ch      chan []byte
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (m *Medium) join(name string, fn func([]byte), queueSize int, logger *slog.Logger) *port {
	p := &port{
		channel: name,
		logger:  logger,
		ch:      make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.done:
				return
			case data := <-p.ch:
				select {
				case <-p.done:
					return
				default:
				}
				fn(data)
			}
		}
	}()

	m.mu.Lock()
	ports, ok := m.channels[name]
	if !ok {
		ports = make(map[*port]struct{})
		m.channels[name] = ports
	}
	ports[p] = struct{}{}
	m.mu.Unlock()
	return p
}

// leave detaches p and waits for its delivery goroutine to exit, so nothing
// is dispatched from p once leave returns.
func (m *Medium) leave(p *port) {
	m.mu.Lock()
	if ports, ok := m.channels[p.channel]; ok {
		delete(ports, p)
		if len(ports) == 0 {
			delete(m.channels, p.channel)
		}
	}
	m.mu.Unlock()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// post enqueues data on every port of the channel except from.
func (m *Medium) post(name string, from *port, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.channels[name] {
		if p == from {
			continue
		}
		p.enqueue(data)
	}
}

// Inject delivers a raw frame to every port on the channel, as if a foreign
// sender had posted it.
func (m *Medium) Inject(name string, data []byte) {
	m.post(name, nil, data)
}

// Subscribers returns the number of ports joined to the channel.
func (m *Medium) Subscribers(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[name])
}

func (p *port) enqueue(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- data:
	default:
		p.logger.Warn("transport: channel queue full, dropping frame",
			"channel", p.channel, "bytes", len(data))
	}
}

// Channel is a Transport over a named channel of an in-process Medium. Like a
// browser BroadcastChannel, a frame reaches every other endpoint on the same
// channel but not the endpoint that posted it.
type Channel struct {
	endpoint
	medium    *Medium
	channel   string
	queueSize int

	mu   sync.Mutex
	port *port
}

var _ Transport = (*Channel)(nil)

// NewChannel returns a stopped transport on the named channel of m.
func NewChannel(m *Medium, channel string, opts ...Option) *Channel {
	o := buildOptions(opts)
	return &Channel{
		endpoint:  newEndpoint("channel", o),
		medium:    m,
		channel:   channel,
		queueSize: o.queueSize,
	}
}

func (c *Channel) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}
	c.port = c.medium.join(c.channel, c.dispatch, c.queueSize, c.logger)
	return nil
}

func (c *Channel) Stop() error {
	c.mu.Lock()
	p := c.port
	c.port = nil
	c.mu.Unlock()
	if p != nil {
		c.medium.leave(p)
	}
	return nil
}

func (c *Channel) Publish(_ context.Context, env model.Envelope) error {
	c.mu.Lock()
	p := c.port
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	data, err := c.encode(env)
	if err != nil {
		return err
	}
	c.medium.post(c.channel, p, data)
	return nil
}
