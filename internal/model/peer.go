package model

import "time"

// Peer is a sender observed on the mesh. It is display-only; delivery never
// depends on it.
type Peer struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Envelopes int64     `json:"envelopes"`
}
