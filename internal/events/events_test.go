package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/miyah/internal/model"
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicReportCreated, ReportCreated{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestIsReportTopic(t *testing.T) {
	for topic, want := range map[string]bool{
		TopicReportCreated: true,
		TopicReportDeleted: true,
		"miyah.mesh":       false,
		"other.report.x":   false,
	} {
		if got := IsReportTopic(topic); got != want {
			t.Errorf("IsReportTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(TopicReports, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	created := ReportCreated{Report: &model.Report{ID: "abc-1", Message: "No water"}}
	if err := pub.Publish(context.Background(), TopicReportCreated, created); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicReportDeleted, ReportDeleted{ReportID: "abc-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.conn.Flush()

	select {
	case msg := <-ch:
		if msg.Subject != TopicReportCreated {
			t.Errorf("subject = %s", msg.Subject)
		}
		var got ReportCreated
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Report.ID != "abc-1" {
			t.Errorf("report id = %q", got.Report.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for created event")
	}

	select {
	case msg := <-ch:
		if string(msg.Data) != `{"reportId":"abc-1"}` {
			t.Errorf("deleted payload = %s", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deleted event")
	}
}

func TestNATSPublisher_CloseOwnedConnection(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicReportCreated, ReportCreated{}); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestNATSPublisher_SharedConnectionLeftOpen(t *testing.T) {
	url := startTestNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	pub := NewNATSPublisherConn(nc)
	pub.Close()
	if nc.IsClosed() {
		t.Fatal("Close closed a connection it does not own")
	}
	if err := pub.Publish(context.Background(), TopicReportDeleted, ReportDeleted{ReportID: "x"}); err != nil {
		t.Fatalf("Publish on shared connection: %v", err)
	}
}
