package postgres

import (
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanReport scans a single row into a model.Report.
// The row must contain columns in the order defined by reportColumns.
func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	var (
		category, photoRef, audioRef sql.NullString
		typ, urgency                 string
	)
	if err := row.Scan(
		&r.ID,
		&r.Location,
		&category,
		&typ,
		&r.Message,
		&photoRef,
		&audioRef,
		&r.Timestamp,
		&r.Verified,
		&urgency,
	); err != nil {
		return nil, err
	}
	r.Category = model.Category(category.String)
	r.Type = model.ReportType(typ)
	r.PhotoRef = photoRef.String
	r.AudioRef = audioRef.String
	r.Urgency = model.Urgency(urgency)
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

// scanReports drains rows into a slice and closes them.
func scanReports(rows *sql.Rows) ([]model.Report, error) {
	defer rows.Close()
	reports := []model.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
