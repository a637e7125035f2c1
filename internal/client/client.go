// Package client provides a transport-agnostic interface for the report
// store and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// ReportsClient is the interface the CLI and the reconciler use to reach the
// report store. It is implemented by HTTPClient.
type ReportsClient interface {
	CreateReport(ctx context.Context, req *CreateReportRequest) (*CreateReportResponse, error)
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context) ([]model.Report, error)
	DeleteReport(ctx context.Context, id string) error

	// Health
	Health(ctx context.Context) (*HealthResponse, error)

	// Lifecycle
	Close() error
}

// CreateReportRequest holds parameters for submitting a report. A client
// that also broadcast the report on the mesh sets ID to the envelope id.
type CreateReportRequest struct {
	ID        string         `json:"id,omitempty"`
	Category  model.Category `json:"category,omitempty"`
	Type      string         `json:"type,omitempty"`
	Message   string         `json:"message"`
	Location  string         `json:"location"`
	Timestamp string         `json:"timestamp,omitempty"`
	PhotoRef  string         `json:"photoRef,omitempty"`
	AudioRef  string         `json:"audioRef,omitempty"`
	Urgency   model.Urgency  `json:"urgency,omitempty"`
}

// CreateReportResponse is the response from CreateReport. Created is false
// when the store already held a report with the same id.
type CreateReportResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Report  *model.Report `json:"report"`
	Created bool          `json:"-"`
}

// HealthResponse is the response from Health.
type HealthResponse struct {
	Status      string `json:"status"`
	ReportCount int    `json:"reportCount"`
}

// RequestFromPayload builds a create request for a mesh payload.
func RequestFromPayload(id string, p model.ReportPayload) *CreateReportRequest {
	return &CreateReportRequest{
		ID:        id,
		Category:  p.Category,
		Message:   p.Message,
		Location:  p.Location,
		Timestamp: p.Timestamp,
		PhotoRef:  p.PhotoRef,
		AudioRef:  p.AudioRef,
	}
}
