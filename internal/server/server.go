// Package server implements the report store service: an HTTP/JSON API under
// /api, a server-sent event stream of report changes, and an optional gRPC
// health listener.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/miyah/internal/events"
	"github.com/alfredjeanlab/miyah/internal/idgen"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

// ReportsServer serves the report store.
type ReportsServer struct {
	store     store.Store
	publisher events.Publisher
	sseHub    *sseHub
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a ReportsServer.
type Option func(*ReportsServer)

// WithMetrics records request and report counters. Nil disables them.
func WithMetrics(m *Metrics) Option {
	return func(s *ReportsServer) { s.metrics = m }
}

// WithLogger sets the server logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *ReportsServer) { s.logger = l }
}

// NewReportsServer returns a ReportsServer backed by the given store and
// publisher. A nil publisher is treated as a NoopPublisher.
func NewReportsServer(s store.Store, p events.Publisher, opts ...Option) *ReportsServer {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	srv := &ReportsServer{
		store:     s,
		publisher: p,
		sseHub:    newSSEHub(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(srv)
	}
	return srv
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// createReportInput is the body of POST /api/reports.
type createReportInput struct {
	ID        string         `json:"id"`
	Category  model.Category `json:"category"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Location  string         `json:"location"`
	Timestamp string         `json:"timestamp"`
	PhotoRef  string         `json:"photoRef"`
	AudioRef  string         `json:"audioRef"`
	Urgency   model.Urgency  `json:"urgency"`
}

// createReport validates in and stores it. A report whose id already exists
// is returned unchanged with created=false.
func (s *ReportsServer) createReport(ctx context.Context, in createReportInput) (*model.Report, bool, error) {
	payload := model.ReportPayload{
		Category:  in.Category,
		Message:   in.Message,
		Location:  in.Location,
		Timestamp: in.Timestamp,
		PhotoRef:  in.PhotoRef,
		AudioRef:  in.AudioRef,
	}
	if err := model.ValidateReportPayload(&payload); err != nil {
		return nil, false, inputError(err.Error())
	}
	if in.Urgency != "" && !in.Urgency.IsValid() {
		return nil, false, inputError(fmt.Sprintf("invalid urgency %q", in.Urgency))
	}
	reportType := model.ReportType(strings.ToUpper(in.Type))
	if in.Type != "" && !reportType.IsValid() {
		return nil, false, inputError(fmt.Sprintf("invalid type %q", in.Type))
	}
	if err := model.ValidateReportID(in.ID); err != nil {
		return nil, false, inputError(err.Error())
	}

	id := in.ID
	if id == "" {
		generated, err := idgen.ReportID()
		if err != nil {
			return nil, false, err
		}
		id = generated
	}

	r := model.ReportFromPayload(id, payload, s.now())
	if in.Type != "" {
		r.Type = reportType
	}
	if in.Urgency != "" {
		r.Urgency = in.Urgency
	}

	stored, created, err := s.store.CreateReport(ctx, &r)
	if err != nil {
		return nil, false, fmt.Errorf("create report: %w", err)
	}
	s.metrics.recordCreate(created)
	if created {
		s.logger.Info("report created", "id", stored.ID, "type", stored.Type)
		s.recordAndPublish(ctx, events.TopicReportCreated, stored.ID, events.ReportCreated{Report: stored})
	} else {
		s.logger.Info("duplicate report ignored", "id", stored.ID)
	}
	return stored, created, nil
}

// deleteReport removes a report. It returns store.ErrNotFound when absent.
func (s *ReportsServer) deleteReport(ctx context.Context, id string) error {
	if err := s.store.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.metrics.recordDelete()
	s.logger.Info("report deleted", "id", id)
	s.recordAndPublish(ctx, events.TopicReportDeleted, id, events.ReportDeleted{ReportID: id})
	return nil
}

// recordAndPublish publishes an event to NATS and fans it out to SSE clients.
// Both are best-effort; failures are logged but do not block the caller.
func (s *ReportsServer) recordAndPublish(ctx context.Context, topic, reportID string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "report_id", reportID, "error", err)
	}
	s.broadcastEvent(topic, event)
}

// broadcastEvent fans out an event to SSE clients.
func (s *ReportsServer) broadcastEvent(topic string, event any) {
	if s.sseHub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}
