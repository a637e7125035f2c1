package model

import (
	"encoding/json"
	"time"
)

// Kind identifies what an envelope carries. The set is open: transports and
// the dedup layer treat unknown kinds like any other.
type Kind string

const (
	KindPresence        Kind = "PRESENCE"
	KindReportSubmitted Kind = "REPORT_SUBMITTED"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsKnown reports whether the kind is one of the built-in kinds.
func (k Kind) IsKnown() bool {
	switch k {
	case KindPresence, KindReportSubmitted:
		return true
	}
	return false
}

// Envelope is the wire unit of the mesh. ID is the only identity used for
// deduplication: two envelopes with the same ID are the same logical event
// even when every other field differs.
type Envelope struct {
	ID        string          `json:"id"`
	SenderID  string          `json:"senderId"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"createdAt"` // epoch milliseconds, ordering hint only
}

// Created returns CreatedAt as a time.Time.
func (e Envelope) Created() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}
