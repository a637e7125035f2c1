package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

// exportVersion is bumped when the record layout changes.
const exportVersion = "1"

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ReportCount int       `json:"report_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Lister is the part of store.Store an export needs.
type Lister interface {
	ListReports(ctx context.Context) ([]model.Report, error)
}

// ExportJSONL writes every report as JSONL to w: a header line, then one
// record per report ordered by timestamp and id so unchanged data exports
// byte-identically apart from the header.
func ExportJSONL(ctx context.Context, s Lister, w io.Writer) error {
	reports, err := s.ListReports(ctx)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].Timestamp.Equal(reports[j].Timestamp) {
			return reports[i].Timestamp.Before(reports[j].Timestamp)
		}
		return reports[i].ID < reports[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     exportVersion,
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		ReportCount: len(reports),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range reports {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal report %s: %w", r.ID, err)
		}
		if err := enc.Encode(record{Type: "report", Data: data}); err != nil {
			return fmt.Errorf("encode report %s: %w", r.ID, err)
		}
	}
	return nil
}

// ImportJSONL reads an export produced by ExportJSONL and creates every
// report in s inside a single transaction. Reports whose id already exists
// are left untouched. When s supports rollback a failed import leaves it
// unchanged. It returns the number of reports created.
func ImportJSONL(ctx context.Context, s store.Store, r io.Reader) (int, error) {
	created := 0
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		n, err := importRecords(ctx, tx, r)
		created = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func importRecords(ctx context.Context, s store.Store, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	created := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return created, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case "header":
			var h header
			if err := json.Unmarshal(raw, &h); err != nil {
				return created, fmt.Errorf("line %d: header: %w", line, err)
			}
			if h.Version != exportVersion {
				return created, fmt.Errorf("unsupported export version %q", h.Version)
			}
		case "report":
			var rep model.Report
			if err := json.Unmarshal(rec.Data, &rep); err != nil {
				return created, fmt.Errorf("line %d: report: %w", line, err)
			}
			if rep.ID == "" {
				return created, fmt.Errorf("line %d: report without id", line)
			}
			_, ok, err := s.CreateReport(ctx, &rep)
			if err != nil {
				return created, fmt.Errorf("create report %s: %w", rep.ID, err)
			}
			if ok {
				created++
			}
		default:
			// Unknown record types from newer exports are skipped.
		}
	}
	if err := scanner.Err(); err != nil {
		return created, fmt.Errorf("read export: %w", err)
	}
	return created, nil
}
