package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

// reportColumns is the column list used for SELECT statements on the reports table.
const reportColumns = `id, location, category, type, message, photo_ref, audio_ref,
	reported_at, verified, urgency`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryCreateReport inserts r, leaving an existing row with the same id
// untouched. On conflict the existing row is read back.
func queryCreateReport(ctx context.Context, db executor, r *model.Report) (*model.Report, bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO reports (
			id, location, category, type, message, photo_ref, audio_ref,
			reported_at, verified, urgency
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10
		)
		ON CONFLICT (id) DO NOTHING`,
		r.ID,
		r.Location,
		nullString(string(r.Category)),
		string(r.Type),
		r.Message,
		nullString(r.PhotoRef),
		nullString(r.AudioRef),
		r.Timestamp,
		r.Verified,
		string(r.Urgency),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		existing, err := queryGetReport(ctx, db, r.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	stored := *r
	return &stored, true, nil
}

func queryGetReport(ctx context.Context, db executor, id string) (*model.Report, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

func queryListReports(ctx context.Context, db executor) ([]model.Report, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return scanReports(rows)
}

func queryDeleteReport(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryCountReports(ctx context.Context, db executor) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}
