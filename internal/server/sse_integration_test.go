package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/miyah/internal/events"
	"github.com/alfredjeanlab/miyah/internal/store/memory"
)

// sseEventParsed represents a single parsed SSE event from the stream.
type sseEventParsed struct {
	ID    string
	Event string
	Data  string
}

// sseReader parses SSE events from resp until the body is closed.
func sseReader(ctx context.Context, resp *http.Response) <-chan sseEventParsed {
	ch := make(chan sseEventParsed, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEventParsed
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id:"):
				current.ID = strings.TrimPrefix(line, "id:")
			case strings.HasPrefix(line, "event:"):
				current.Event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				current.Data = strings.TrimPrefix(line, "data:")
			case line == "":
				if current.Event != "" || current.Data != "" {
					ch <- current
					current = sseEventParsed{}
				}
			}
		}
	}()
	return ch
}

// waitForEvent reads until an event with the given topic arrives.
func waitForEvent(t *testing.T, ch <-chan sseEventParsed, topic string, timeout time.Duration) sseEventParsed {
	t.Helper()
	timer := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("SSE channel closed before receiving event %q", topic)
			}
			if evt.Event == topic {
				return evt
			}
		case <-timer:
			t.Fatalf("timed out waiting for SSE event %q", topic)
		}
	}
}

// startSSEClient opens an SSE connection and returns the parsed events plus a
// cleanup function.
func startSSEClient(t *testing.T, serverURL, query, lastEventID string) (<-chan sseEventParsed, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	url := serverURL + "/api/events/stream"
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("failed to create SSE request: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("failed to connect to SSE stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		cancel()
		t.Fatalf("expected Content-Type=text/event-stream, got %q", ct)
	}

	ch := sseReader(ctx, resp)
	return ch, func() {
		cancel()
		resp.Body.Close()
	}
}

// startIntegrationServer serves a memory-backed ReportsServer on a real listener.
func startIntegrationServer(t *testing.T) (*ReportsServer, string) {
	t.Helper()
	srv := NewReportsServer(memory.New(), nil)
	ts := httptest.NewServer(srv.NewHTTPHandler("", nil))
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

// waitForClients blocks until the hub has n subscribers.
func waitForClients(t *testing.T, srv *ReportsServer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.sseHub.clientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d SSE clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func postReport(t *testing.T, url string, body map[string]any) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url+"/api/reports", "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
}

func deleteReport(t *testing.T, url, id string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, url+"/api/reports/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
}

func TestSSEIntegration_CreateAndDeleteEvents(t *testing.T) {
	srv, url := startIntegrationServer(t)
	stream, cleanup := startSSEClient(t, url, "", "")
	defer cleanup()
	waitForClients(t, srv, 1)

	postReport(t, url, map[string]any{"id": "r-1", "message": "Leak", "location": "Well 3"})
	evt := waitForEvent(t, stream, events.TopicReportCreated, 2*time.Second)

	var created events.ReportCreated
	if err := json.Unmarshal([]byte(evt.Data), &created); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if created.Report == nil || created.Report.ID != "r-1" {
		t.Fatalf("created event = %+v", created)
	}

	deleteReport(t, url, "r-1")
	evt = waitForEvent(t, stream, events.TopicReportDeleted, 2*time.Second)
	var deleted events.ReportDeleted
	if err := json.Unmarshal([]byte(evt.Data), &deleted); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if deleted.ReportID != "r-1" {
		t.Errorf("ReportID = %q", deleted.ReportID)
	}
}

func TestSSEIntegration_TopicFilter(t *testing.T) {
	srv, url := startIntegrationServer(t)
	stream, cleanup := startSSEClient(t, url, "topics=miyah.report.deleted", "")
	defer cleanup()
	waitForClients(t, srv, 1)

	postReport(t, url, map[string]any{"id": "r-1", "message": "m", "location": "l"})
	deleteReport(t, url, "r-1")

	// The first event received must be the delete; the create was filtered.
	select {
	case evt := <-stream:
		if evt.Event != events.TopicReportDeleted {
			t.Fatalf("first event = %q, want %q", evt.Event, events.TopicReportDeleted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

func TestSSEIntegration_LastEventIDReplay(t *testing.T) {
	_, url := startIntegrationServer(t)

	postReport(t, url, map[string]any{"id": "r-1", "message": "m", "location": "l"})
	postReport(t, url, map[string]any{"id": "r-2", "message": "m", "location": "l"})
	postReport(t, url, map[string]any{"id": "r-3", "message": "m", "location": "l"})

	stream, cleanup := startSSEClient(t, url, "", "1")
	defer cleanup()

	for _, wantID := range []string{"2", "3"} {
		evt := waitForEvent(t, stream, events.TopicReportCreated, 2*time.Second)
		if evt.ID != wantID {
			t.Fatalf("replayed ID = %q, want %q", evt.ID, wantID)
		}
	}
}

func TestSSEIntegration_MultipleClients(t *testing.T) {
	srv, url := startIntegrationServer(t)
	a, cleanA := startSSEClient(t, url, "", "")
	defer cleanA()
	b, cleanB := startSSEClient(t, url, "", "")
	defer cleanB()
	waitForClients(t, srv, 2)

	postReport(t, url, map[string]any{"id": "r-1", "message": "m", "location": "l"})

	waitForEvent(t, a, events.TopicReportCreated, 2*time.Second)
	waitForEvent(t, b, events.TopicReportCreated, 2*time.Second)
}
