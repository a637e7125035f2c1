// Package requester submits reports from the requesting side: every report
// goes out on the mesh and, best effort, to the report store under the same
// id, so that the two paths converge on one record.
package requester

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/miyah/internal/client"
	"github.com/alfredjeanlab/miyah/internal/idgen"
	"github.com/alfredjeanlab/miyah/internal/model"
)

// Broadcaster publishes envelopes on the mesh. *mesh.Service satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind model.Kind, payload any, id string) (*model.Envelope, error)
}

// ReportCreator stores a report remotely. *client.HTTPClient satisfies it.
type ReportCreator interface {
	CreateReport(ctx context.Context, req *client.CreateReportRequest) (*client.CreateReportResponse, error)
}

// Result describes one submission.
type Result struct {
	ID string
	// Envelope is nil when the mesh service was not running or the
	// broadcast failed.
	Envelope *model.Envelope
	// MeshErr is the swallowed broadcast failure, if any.
	MeshErr error
	// Stored is true when the store accepted the report, new or existing.
	Stored bool
	// Created is true when the store did not already hold the id.
	Created bool
	// StoreErr is the swallowed remote failure, if any.
	StoreErr error
}

// Submitter sends reports on the mesh and to the store.
type Submitter struct {
	mesh   Broadcaster
	store  ReportCreator
	logger *slog.Logger

	// StoreTimeout bounds the remote submission. Default: 10s.
	StoreTimeout time.Duration
}

// NewSubmitter returns a submitter. store may be nil for mesh-only operation
// and mesh may be nil for store-only operation.
func NewSubmitter(mesh Broadcaster, store ReportCreator, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		mesh:         mesh,
		store:        store,
		logger:       logger,
		StoreTimeout: 10 * time.Second,
	}
}

// Submit validates p, draws one id for it, broadcasts it and then posts it to
// the store. Only validation errors are returned. A broadcast failure is
// logged and reported in Result.MeshErr, a store failure in Result.StoreErr.
func (s *Submitter) Submit(ctx context.Context, p model.ReportPayload) (*Result, error) {
	return s.SubmitWithID(ctx, idgen.MessageID(), p)
}

// SubmitWithID is Submit with a caller-chosen id, for resubmitting a report
// whose first attempt may or may not have landed.
func (s *Submitter) SubmitWithID(ctx context.Context, id string, p model.ReportPayload) (*Result, error) {
	if err := model.ValidateReportID(id); err != nil {
		return nil, err
	}
	if id == "" {
		id = idgen.MessageID()
	}
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if err := model.ValidateReportPayload(&p); err != nil {
		return nil, err
	}

	res := &Result{ID: id}

	if s.mesh != nil {
		env, err := s.mesh.Broadcast(ctx, model.KindReportSubmitted, p, id)
		switch {
		case err != nil:
			res.MeshErr = fmt.Errorf("broadcasting report %s: %w", id, err)
			s.logger.Warn("requester: broadcast failed", "id", id, "error", err)
		case env == nil:
			s.logger.Warn("requester: mesh not running, report not broadcast", "id", id)
		default:
			res.Envelope = env
		}
	}

	if s.store == nil {
		return res, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	resp, err := s.store.CreateReport(storeCtx, client.RequestFromPayload(id, p))
	if err != nil {
		res.StoreErr = err
		s.logger.Warn("requester: store unreachable, report sent on mesh only", "id", id, "error", err)
		return res, nil
	}
	res.Stored = true
	res.Created = resp.Created
	s.logger.Debug("requester: report stored", "id", id, "created", resp.Created)
	return res, nil
}
