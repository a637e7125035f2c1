// Package mesh is the facade a requester or receiver process uses to talk to
// its peers: it stamps and deduplicates envelopes, tracks who has been heard
// from, and fans accepted envelopes out to registered handlers.
//
// Deliveries are serialized per service. Handlers run one at a time on the
// transport's delivery goroutine and must not call Stop.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/miyah/internal/idgen"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/observer"
	"github.com/alfredjeanlab/miyah/internal/presence"
	"github.com/alfredjeanlab/miyah/internal/transport"
)

// Role selects the start-up behaviour of a service.
type Role string

const (
	// RoleRequester announces itself with a PRESENCE envelope on Start.
	RoleRequester Role = "requester"
	// RoleReceiver only listens.
	RoleReceiver Role = "receiver"
)

// Config configures a Service.
type Config struct {
	Role Role

	// SenderID overrides the generated sender id.
	SenderID string

	// SeenTTL bounds how long envelope ids are remembered. Zero remembers
	// them until Stop.
	SeenTTL time.Duration

	// PeerExpiry removes peers silent for longer than this. Zero keeps them
	// until Stop.
	PeerExpiry time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// PresencePayload is the body of a PRESENCE envelope.
type PresencePayload struct {
	Role Role `json:"role"`
}

// Service is one mesh endpoint. Create it with New and share the pointer
// with every consumer in the process.
type Service struct {
	role      Role
	transport transport.Transport
	dedup     *Dedup
	peers     *presence.Registry
	handlers  *observer.Registry[model.Envelope]
	logger    *slog.Logger
	metrics   *Metrics
	expiry    time.Duration

	running atomic.Bool

	// mu serializes Start and Stop.
	mu     sync.Mutex
	detach func()

	// deliverMu is held for the whole of one delivery. Stop takes it after
	// detaching so that no handler runs once Stop has returned.
	deliverMu sync.Mutex
	active    bool
}

// New creates a stopped service on t.
func New(t transport.Transport, cfg Config) (*Service, error) {
	if t == nil {
		return nil, fmt.Errorf("mesh: transport is required")
	}
	if cfg.Role == "" {
		cfg.Role = RoleReceiver
	}
	if cfg.Role != RoleRequester && cfg.Role != RoleReceiver {
		return nil, fmt.Errorf("mesh: unknown role %q", cfg.Role)
	}
	senderID := cfg.SenderID
	if senderID == "" {
		id, err := idgen.SenderID()
		if err != nil {
			return nil, fmt.Errorf("mesh: generating sender id: %w", err)
		}
		senderID = id
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		role:      cfg.Role,
		transport: t,
		dedup:     NewDedup(senderID, cfg.SeenTTL),
		peers:     presence.New(),
		handlers:  observer.New[model.Envelope](),
		logger:    logger.With("sender", senderID, "role", string(cfg.Role)),
		metrics:   cfg.Metrics,
		expiry:    cfg.PeerExpiry,
	}, nil
}

// ID returns the sender id of this instance. It does not change across
// restarts.
func (s *Service) ID() string { return s.dedup.SenderID() }

// Role returns the configured role.
func (s *Service) Role() Role { return s.role }

// Running reports whether the service is started.
func (s *Service) Running() bool { return s.running.Load() }

// Start subscribes to the transport and, for a requester, announces presence.
// Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return nil
	}

	s.deliverMu.Lock()
	s.active = true
	s.deliverMu.Unlock()

	detach := s.transport.Subscribe(s.deliver)
	if err := s.transport.Start(ctx); err != nil {
		detach()
		s.deliverMu.Lock()
		s.active = false
		s.deliverMu.Unlock()
		s.mu.Unlock()
		return fmt.Errorf("mesh: starting %s transport: %w", s.transport.Name(), err)
	}
	s.detach = detach
	s.running.Store(true)
	s.peers.StartReaper(presence.ReaperConfig{
		ExpireAfter: s.expiry,
		OnExpired: func(string) {
			s.metrics.setPeers(s.role, s.peers.Len())
		},
	})
	s.mu.Unlock()

	s.logger.Info("mesh: started", "transport", s.transport.Name())

	if s.role == RoleRequester {
		if _, err := s.Broadcast(ctx, model.KindPresence, PresencePayload{Role: s.role}, ""); err != nil {
			s.logger.Warn("mesh: presence announce failed", "error", err)
		}
	}
	return nil
}

// Stop detaches from the transport and waits for an in-flight delivery to
// finish. Once Stop returns no handler is invoked until the next Start. The
// seen-set and peer table are cleared. Stop on a stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	err := s.transport.Stop()

	s.deliverMu.Lock()
	s.active = false
	s.dedup.Reset()
	s.peers.Reset()
	s.deliverMu.Unlock()

	s.peers.Stop()
	s.metrics.setPeers(s.role, 0)
	s.logger.Info("mesh: stopped")

	if err != nil {
		return fmt.Errorf("mesh: stopping %s transport: %w", s.transport.Name(), err)
	}
	return nil
}

// Broadcast wraps payload in an envelope of the given kind, marks its id as
// seen and publishes it. An empty id gets a fresh one; callers that also
// submit the same event elsewhere pass their own id so both paths converge.
// Broadcast on a stopped service does nothing and returns (nil, nil).
func (s *Service) Broadcast(ctx context.Context, kind model.Kind, payload any, id string) (*model.Envelope, error) {
	if !s.running.Load() {
		return nil, nil
	}
	env, err := s.dedup.Wrap(kind, payload, id)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}
	s.dedup.MarkSeen(env.ID)

	if err := s.transport.Publish(ctx, env); err != nil {
		return &env, fmt.Errorf("mesh: publishing %s: %w", env.ID, err)
	}
	s.metrics.recordBroadcast(s.role, kind.String())
	s.logger.Debug("mesh: broadcast", "id", env.ID, "kind", kind)
	return &env, nil
}

// OnMessage registers h for every accepted envelope and returns a function
// that removes only h. Handlers survive Stop and Start.
func (s *Service) OnMessage(h func(model.Envelope)) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	return s.handlers.Detach(s.handlers.Add(h))
}

// ListPeers returns a snapshot of the peers heard from since Start.
func (s *Service) ListPeers() []model.Peer {
	return s.peers.List()
}

func (s *Service) deliver(env model.Envelope) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.active {
		s.metrics.recordEnvelope(s.role, "stopped")
		return
	}

	outcome := s.dedup.Check(env)
	s.metrics.recordEnvelope(s.role, string(outcome))
	if outcome != OutcomeAccepted {
		return
	}

	if s.peers.RecordSighting(env.SenderID, time.Now()) {
		s.logger.Debug("mesh: new peer", "peer", env.SenderID)
		s.metrics.setPeers(s.role, s.peers.Len())
	}

	for _, h := range s.handlers.Snapshot() {
		s.call(h, env)
	}
}

func (s *Service) call(h func(model.Envelope), env model.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mesh: panic recovered in handler",
				"envelope_id", env.ID,
				"kind", env.Kind,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(env)
}
