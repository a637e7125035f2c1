package mesh

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alfredjeanlab/miyah/internal/idgen"
	"github.com/alfredjeanlab/miyah/internal/model"
)

// Outcome is the dedup verdict for one inbound envelope.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeSelf      Outcome = "self"
	OutcomeDuplicate Outcome = "duplicate"
)

// Dedup owns the sender identity of one service instance and its seen-set
// of envelope ids. The id is the only identity: a replayed envelope with a
// known id is a duplicate even if every other field differs.
type Dedup struct {
	senderID string
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
}

// NewDedup returns a dedup store for senderID. With a positive ttl, ids
// older than ttl are forgotten; zero keeps every id for the lifetime of the
// store.
func NewDedup(senderID string, ttl time.Duration) *Dedup {
	return &Dedup{
		senderID: senderID,
		ttl:      ttl,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// SenderID returns the sender id stamped on every wrapped envelope.
func (d *Dedup) SenderID() string { return d.senderID }

// Wrap builds an envelope of the given kind. A non-empty id is used as is so
// callers can reuse it across delivery paths; otherwise a fresh id is
// generated. A nil payload produces an envelope without payload.
func (d *Dedup) Wrap(kind model.Kind, payload any, id string) (model.Envelope, error) {
	if id == "" {
		id = idgen.MessageID()
	}
	env := model.Envelope{
		ID:        id,
		SenderID:  d.senderID,
		Kind:      kind,
		CreatedAt: d.now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Check classifies env and, when it is accepted, records its id as seen.
// Self-echoes are rejected without touching the seen-set.
func (d *Dedup) Check(env model.Envelope) Outcome {
	if env.SenderID == d.senderID {
		return OutcomeSelf
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if d.seenLocked(env.ID, now) {
		return OutcomeDuplicate
	}
	d.recordLocked(env.ID, now)
	return OutcomeAccepted
}

// ShouldProcess reports whether env is neither a self-echo nor a replay,
// recording its id when it is not.
func (d *Dedup) ShouldProcess(env model.Envelope) bool {
	return d.Check(env) == OutcomeAccepted
}

// MarkSeen records id without an envelope, for the instance's own broadcasts.
func (d *Dedup) MarkSeen(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordLocked(id, d.now())
}

// Seen reports whether id is in the seen-set.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(id, d.now())
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset clears the seen-set. The sender id is kept.
func (d *Dedup) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.lastPrune = time.Time{}
	d.mu.Unlock()
}

func (d *Dedup) seenLocked(id string, now time.Time) bool {
	at, ok := d.seen[id]
	if !ok {
		return false
	}
	if d.ttl > 0 && now.Sub(at) > d.ttl {
		delete(d.seen, id)
		return false
	}
	return true
}

func (d *Dedup) recordLocked(id string, now time.Time) {
	d.seen[id] = now
	if d.ttl <= 0 || now.Sub(d.lastPrune) < d.ttl {
		return
	}
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	d.lastPrune = now
}
