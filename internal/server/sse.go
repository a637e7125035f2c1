package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseRingBufferSize is the number of recent events kept for
	// Last-Event-ID replay.
	sseRingBufferSize = 512

	// sseClientBuffer is the per-client queue; a slow client loses events
	// past this point and must reconnect with Last-Event-ID.
	sseClientBuffer = 64

	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is a single event stored in the ring buffer and sent to SSE clients.
type sseEvent struct {
	ID    uint64 // monotonically increasing sequence number
	Topic string
	Data  []byte // JSON-encoded payload
}

// sseHub fans out report events to connected SSE clients and keeps a ring of
// recent events for reconnection.
type sseHub struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	lastID  uint64
	ring    []sseEvent
	ringPos int // next write position
	ringLen int
}

// sseClient represents a single connected SSE consumer.
type sseClient struct {
	topics []string // topic patterns to match (empty = all)
	ch     chan *sseEvent
}

func newSSEHub() *sseHub {
	return newSSEHubSize(sseRingBufferSize)
}

func newSSEHubSize(size int) *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		ring:    make([]sseEvent, size),
	}
}

// broadcast assigns the next id to an event, stores it and sends it to every
// matching client. Slow clients are skipped rather than waited on.
func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, Data: payload}
	h.ring[h.ringPos] = evt
	h.ringPos = (h.ringPos + 1) % len(h.ring)
	if h.ringLen < len(h.ring) {
		h.ringLen++
	}

	for c := range h.clients {
		if !c.matchesTopic(topic) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
		}
	}
}

// subscribe registers a client and returns the events it missed since
// lastID, so replay and live delivery share one consistent cut.
func (h *sseHub) subscribe(topics []string, lastID uint64, replay bool) (*sseClient, []*sseEvent) {
	c := &sseClient{topics: topics, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if !replay {
		return c, nil
	}
	return c, h.eventsSinceLocked(lastID)
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns buffered events with ID > lastID, oldest first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventsSinceLocked(lastID)
}

func (h *sseHub) eventsSinceLocked(lastID uint64) []*sseEvent {
	var result []*sseEvent
	start := (h.ringPos - h.ringLen + len(h.ring)) % len(h.ring)
	for i := range h.ringLen {
		evt := h.ring[(start+i)%len(h.ring)]
		if evt.ID > lastID {
			result = append(result, &evt)
		}
	}
	return result
}

func (h *sseHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// matchesTopic checks whether the client's topic filters match the given topic.
func (c *sseClient) matchesTopic(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// "*" matches one segment and a trailing ">" matches one or more (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

// handleEventStream handles GET /api/events/stream.
func (s *ReportsServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	var lastID uint64
	replay := false
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastID, replay = n, true
		}
	}

	client, missed := s.sseHub.subscribe(topics, lastID, replay)
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, evt := range missed {
		if client.matchesTopic(evt.Topic) {
			writeSSEEvent(w, evt)
		}
	}
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
