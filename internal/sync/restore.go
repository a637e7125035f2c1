package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/miyah/internal/store"
)

// ErrNoExport is returned by a Source that holds no export yet.
var ErrNoExport = errors.New("no export found")

// Source is a destination that can also return its last export.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// Restore imports the last export from src into s when s is empty. It
// returns the number of reports created; a source without an export is not
// an error.
func Restore(ctx context.Context, s store.Store, src Source) (int, error) {
	n, err := s.CountReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	data, err := src.Read(ctx)
	if errors.Is(err, ErrNoExport) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src.Name(), err)
	}
	return ImportJSONL(ctx, s, bytes.NewReader(data))
}
