package transport

import (
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// startTestNATS starts an embedded NATS server with JetStream and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// collector buffers envelopes delivered to a handler.
type collector struct {
	ch chan model.Envelope
}

func newCollector() *collector {
	return &collector{ch: make(chan model.Envelope, 128)}
}

func (c *collector) handle(env model.Envelope) {
	c.ch <- env
}

func (c *collector) next(t *testing.T) model.Envelope {
	t.Helper()
	select {
	case env := <-c.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return model.Envelope{}
	}
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case env := <-c.ch:
		t.Fatalf("unexpected envelope %+v", env)
	case <-time.After(wait):
	}
}

func testEnvelope(id, sender string) model.Envelope {
	return model.Envelope{
		ID:        id,
		SenderID:  sender,
		Kind:      model.KindPresence,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func seqID(i int) string {
	return fmt.Sprintf("m-%03d", i)
}
