package requester

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alfredjeanlab/miyah/internal/client"
	"github.com/alfredjeanlab/miyah/internal/mesh"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingTransport starts fine but every publish fails, like a NATS
// connection that has gone away.
type failingTransport struct{}

func (failingTransport) Name() string                      { return "failing" }
func (failingTransport) Start(context.Context) error        { return nil }
func (failingTransport) Stop() error                        { return nil }
func (failingTransport) Subscribe(transport.Handler) func() { return func() {} }
func (failingTransport) Publish(context.Context, model.Envelope) error {
	return errors.New("nats: connection closed")
}

type fakeMesh struct {
	running bool
	err     error
	sent    []model.Envelope
}

func (m *fakeMesh) Broadcast(_ context.Context, kind model.Kind, payload any, id string) (*model.Envelope, error) {
	if !m.running {
		return nil, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	env := model.Envelope{ID: id, SenderID: "me", Kind: kind}
	m.sent = append(m.sent, env)
	return &env, nil
}

type fakeStore struct {
	err  error
	reqs []*client.CreateReportRequest
	seen map[string]bool
}

func (s *fakeStore) CreateReport(_ context.Context, req *client.CreateReportRequest) (*client.CreateReportResponse, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	created := !s.seen[req.ID]
	s.seen[req.ID] = true
	return &client.CreateReportResponse{Success: true, Created: created}, nil
}

var validPayload = model.ReportPayload{Category: "water", Message: "No water 3 days", Location: "Block 5"}

func TestSubmit_SameIDOnBothPaths(t *testing.T) {
	m := &fakeMesh{running: true}
	st := &fakeStore{}
	s := NewSubmitter(m, st, nil)

	res, err := s.Submit(context.Background(), validPayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(m.sent) != 1 || len(st.reqs) != 1 {
		t.Fatalf("mesh sent %d, store got %d", len(m.sent), len(st.reqs))
	}
	if m.sent[0].ID != res.ID || st.reqs[0].ID != res.ID {
		t.Errorf("ids differ: result %s, mesh %s, store %s", res.ID, m.sent[0].ID, st.reqs[0].ID)
	}
	if m.sent[0].Kind != model.KindReportSubmitted {
		t.Errorf("kind = %s", m.sent[0].Kind)
	}
	if !res.Stored || !res.Created || res.StoreErr != nil {
		t.Errorf("result = %+v", res)
	}
	if st.reqs[0].Timestamp == "" {
		t.Error("timestamp not filled in")
	}
}

func TestSubmit_StoreFailureIsSwallowed(t *testing.T) {
	m := &fakeMesh{running: true}
	st := &fakeStore{err: errors.New("connection refused")}
	s := NewSubmitter(m, st, nil)

	res, err := s.Submit(context.Background(), validPayload)
	if err != nil {
		t.Fatalf("Submit returned %v; store failures must not surface", err)
	}
	if len(m.sent) != 1 {
		t.Fatal("report not broadcast")
	}
	if res.Stored || res.StoreErr == nil {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmit_BroadcastsEvenWithoutStore(t *testing.T) {
	m := &fakeMesh{running: true}
	s := NewSubmitter(m, nil, nil)
	res, err := s.Submit(context.Background(), validPayload)
	if err != nil || res.Envelope == nil {
		t.Fatalf("Submit = (%+v, %v)", res, err)
	}
}

func TestSubmit_MeshStoppedStillStores(t *testing.T) {
	m := &fakeMesh{}
	st := &fakeStore{}
	s := NewSubmitter(m, st, nil)

	res, err := s.Submit(context.Background(), validPayload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Envelope != nil {
		t.Error("envelope returned while mesh stopped")
	}
	if !res.Stored {
		t.Error("report not stored")
	}
}

func TestSubmit_BroadcastErrorStillStores(t *testing.T) {
	m := &fakeMesh{running: true, err: errors.New("nats: connection closed")}
	st := &fakeStore{}
	s := NewSubmitter(m, st, nil)

	res, err := s.Submit(context.Background(), validPayload)
	if err != nil {
		t.Fatalf("Submit returned %v; broadcast failures must not surface", err)
	}
	if res.MeshErr == nil || res.Envelope != nil {
		t.Errorf("result = %+v, want MeshErr and no envelope", res)
	}
	if len(st.reqs) != 1 || st.reqs[0].ID != res.ID || !res.Stored {
		t.Fatalf("store got %d requests, result %+v", len(st.reqs), res)
	}
}

func TestSubmit_FailingTransportStillStores(t *testing.T) {
	svc, err := mesh.New(failingTransport{}, mesh.Config{Role: mesh.RoleRequester, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("mesh.New: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	st := &fakeStore{}
	res, err := NewSubmitter(svc, st, discardLogger()).SubmitWithID(context.Background(), "abc-1", validPayload)
	if err != nil {
		t.Fatalf("SubmitWithID: %v", err)
	}
	if len(st.reqs) != 1 || st.reqs[0].ID != "abc-1" {
		t.Fatalf("store requests = %d, want 1 for abc-1", len(st.reqs))
	}
	if res.MeshErr == nil {
		t.Error("publish failure not reported in MeshErr")
	}
}

func TestSubmit_StoreOnly(t *testing.T) {
	st := &fakeStore{}
	res, err := NewSubmitter(nil, st, nil).SubmitWithID(context.Background(), "abc-1", validPayload)
	if err != nil {
		t.Fatalf("SubmitWithID: %v", err)
	}
	if res.Envelope != nil || res.MeshErr != nil {
		t.Errorf("result = %+v", res)
	}
	if !res.Stored || len(st.reqs) != 1 {
		t.Errorf("stored = %v, requests = %d", res.Stored, len(st.reqs))
	}
}

func TestSubmitWithID_RejectsPaddedID(t *testing.T) {
	m := &fakeMesh{running: true}
	st := &fakeStore{}
	_, err := NewSubmitter(m, st, nil).SubmitWithID(context.Background(), " abc-1", validPayload)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(m.sent) != 0 || len(st.reqs) != 0 {
		t.Error("report with padded id was sent")
	}
}

func TestSubmit_ValidationError(t *testing.T) {
	m := &fakeMesh{running: true}
	st := &fakeStore{}
	s := NewSubmitter(m, st, nil)

	_, err := s.Submit(context.Background(), model.ReportPayload{Category: "water"})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(m.sent) != 0 || len(st.reqs) != 0 {
		t.Error("invalid report was sent")
	}
}

func TestSubmitWithID_ResubmissionIsIdempotent(t *testing.T) {
	m := &fakeMesh{running: true}
	st := &fakeStore{}
	s := NewSubmitter(m, st, nil)

	first, _ := s.SubmitWithID(context.Background(), "abc-1", validPayload)
	second, _ := s.SubmitWithID(context.Background(), "abc-1", validPayload)

	if !first.Created || second.Created {
		t.Errorf("created = %v then %v, want true then false", first.Created, second.Created)
	}
	if m.sent[0].ID != "abc-1" || m.sent[1].ID != "abc-1" {
		t.Errorf("mesh ids = %s, %s", m.sent[0].ID, m.sent[1].ID)
	}
}
