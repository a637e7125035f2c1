// Package presence tracks the peers a mesh service has heard from.
//
// The Registry is derived entirely from observed envelopes: there is no join
// or leave message. A peer is created on its first sighting and its LastSeen
// only ever moves forward afterwards. Peers never expire unless a reaper is
// started explicitly with StartReaper.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// ReaperConfig configures the optional background peer reaper.
type ReaperConfig struct {
	// ExpireAfter is how long a peer may stay silent before it is removed.
	// Zero disables the reaper.
	ExpireAfter time.Duration

	// SweepInterval is how often the reaper scans for silent peers.
	// Default: ExpireAfter/2, at least one second.
	SweepInterval time.Duration

	// OnExpired is called for each removed peer, outside the lock.
	OnExpired func(peerID string)
}

// Registry is the in-memory peer table of one mesh service instance.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*peerState

	reaperMu   sync.Mutex
	reaperStop chan struct{}
	reaperDone chan struct{}
}

type peerState struct {
	firstSeen time.Time
	lastSeen  time.Time
	envelopes int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]*peerState)}
}

// RecordSighting upserts the peer id as seen at now and reports whether the
// peer was new. A sighting older than the recorded LastSeen still counts as
// an envelope but does not move LastSeen backwards.
func (r *Registry) RecordSighting(id string, now time.Time) bool {
	if id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.peers[id]
	if !ok {
		r.peers[id] = &peerState{firstSeen: now, lastSeen: now, envelopes: 1}
		return true
	}
	if now.After(state.lastSeen) {
		state.lastSeen = now
	}
	if now.Before(state.firstSeen) {
		state.firstSeen = now
	}
	state.envelopes++
	return false
}

// List returns a snapshot of all peers, most recently seen first.
func (r *Registry) List() []model.Peer {
	r.mu.RLock()
	peers := make([]model.Peer, 0, len(r.peers))
	for id, state := range r.peers {
		peers = append(peers, model.Peer{
			ID:        id,
			FirstSeen: state.firstSeen,
			LastSeen:  state.lastSeen,
			Envelopes: state.envelopes,
		})
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		if !peers[i].LastSeen.Equal(peers[j].LastSeen) {
			return peers[i].LastSeen.After(peers[j].LastSeen)
		}
		return peers[i].ID < peers[j].ID
	})
	return peers
}

// Get returns the peer with the given id.
func (r *Registry) Get(id string) (model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.peers[id]
	if !ok {
		return model.Peer{}, false
	}
	return model.Peer{
		ID:        id,
		FirstSeen: state.firstSeen,
		LastSeen:  state.lastSeen,
		Envelopes: state.envelopes,
	}, true
}

// Len returns the number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Reset forgets every peer.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.peers = make(map[string]*peerState)
	r.mu.Unlock()
}

// StartReaper launches a background goroutine that removes peers silent for
// longer than cfg.ExpireAfter. It is a no-op when ExpireAfter is zero or a
// reaper is already running. Call Stop to shut it down.
func (r *Registry) StartReaper(cfg ReaperConfig) {
	if cfg.ExpireAfter <= 0 {
		return
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.ExpireAfter / 2
		if cfg.SweepInterval < time.Second {
			cfg.SweepInterval = time.Second
		}
	}

	r.reaperMu.Lock()
	defer r.reaperMu.Unlock()
	if r.reaperStop != nil {
		return
	}
	r.reaperStop = make(chan struct{})
	r.reaperDone = make(chan struct{})

	go r.reapLoop(cfg, r.reaperStop, r.reaperDone)
	slog.Debug("presence: reaper started",
		"expire_after", cfg.ExpireAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine, if any.
func (r *Registry) Stop() {
	r.reaperMu.Lock()
	defer r.reaperMu.Unlock()
	if r.reaperStop != nil {
		close(r.reaperStop)
		<-r.reaperDone
		r.reaperStop = nil
		r.reaperDone = nil
	}
}

func (r *Registry) reapLoop(cfg ReaperConfig, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.sweep(cfg, now)
		}
	}
}

// sweep removes peers whose LastSeen is older than ExpireAfter at now.
func (r *Registry) sweep(cfg ReaperConfig, now time.Time) []string {
	var expired []string

	r.mu.Lock()
	for id, state := range r.peers {
		if now.Sub(state.lastSeen) > cfg.ExpireAfter {
			delete(r.peers, id)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		slog.Info("presence: peer expired", "peer", id, "expire_after", cfg.ExpireAfter)
		if cfg.OnExpired != nil {
			cfg.OnExpired(id)
		}
	}
	return expired
}
