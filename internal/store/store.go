// Package store defines the persistence interface for reports.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// ErrNotFound is returned when a report id does not exist.
var ErrNotFound = errors.New("report not found")

// Store defines the persistence interface for reports.
type Store interface {
	// CreateReport inserts r unless a report with the same id exists, in which
	// case the existing record is returned with created=false.
	CreateReport(ctx context.Context, r *model.Report) (stored *model.Report, created bool, err error)
	GetReport(ctx context.Context, id string) (*model.Report, error)
	// ListReports returns every report, most recently created first.
	ListReports(ctx context.Context) ([]model.Report, error)
	DeleteReport(ctx context.Context, id string) error
	CountReports(ctx context.Context) (int, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
