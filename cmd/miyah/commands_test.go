package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alfredjeanlab/miyah/internal/feed"
	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
	"github.com/alfredjeanlab/miyah/internal/store/memory"
)

func newTestDashboard(t *testing.T) (*feed.Reconciler, *memory.Store) {
	t.Helper()
	st := memory.New()
	for _, id := range []string{"r-1", "r-2"} {
		if _, _, err := st.CreateReport(context.Background(), &model.Report{ID: id, Message: "m", Location: "l"}); err != nil {
			t.Fatal(err)
		}
	}
	rec := feed.NewReconciler(feed.New(), st, feed.Config{Logger: discardLogger()})
	if _, err := rec.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	return rec, st
}

func TestHandleCommand_Verify(t *testing.T) {
	rec, _ := newTestDashboard(t)
	var out bytes.Buffer

	handleCommand(rec, "v r-1", &out)
	if got := out.String(); got != "r-1 verified=true\n" {
		t.Errorf("output = %q", got)
	}
	if item, _ := rec.Feed().Get("r-1"); !item.Verified {
		t.Error("r-1 not verified")
	}

	out.Reset()
	handleCommand(rec, "verify r-1", &out)
	if got := out.String(); got != "r-1 verified=false\n" {
		t.Errorf("output = %q", got)
	}

	out.Reset()
	handleCommand(rec, "v missing", &out)
	if got := out.String(); got != "missing: not in feed\n" {
		t.Errorf("output = %q", got)
	}
}

func TestHandleCommand_Delete(t *testing.T) {
	rec, st := newTestDashboard(t)
	var out bytes.Buffer

	handleCommand(rec, "d r-1", &out)
	rec.Wait()

	if got := out.String(); got != "r-1 deleted\n" {
		t.Errorf("output = %q", got)
	}
	if _, ok := rec.Feed().Get("r-1"); ok {
		t.Error("r-1 still in feed")
	}
	if _, err := st.GetReport(context.Background(), "r-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store GetReport err = %v, want ErrNotFound", err)
	}
	if rec.PendingDeletes() != 0 {
		t.Errorf("pending deletes = %d", rec.PendingDeletes())
	}
}

func TestHandleCommand_ListAndErrors(t *testing.T) {
	rec, _ := newTestDashboard(t)
	for _, tc := range []struct {
		line string
		want string
	}{
		{"l", "r-2"},
		{"d", "usage: d <id>"},
		{"v a b", "usage: v <id>"},
		{"x", `unknown command "x"`},
	} {
		var out bytes.Buffer
		handleCommand(rec, tc.line, &out)
		if !strings.Contains(out.String(), tc.want) {
			t.Errorf("%q: output %q does not contain %q", tc.line, out.String(), tc.want)
		}
	}

	var out bytes.Buffer
	handleCommand(rec, "   ", &out)
	if out.Len() != 0 {
		t.Errorf("blank line produced output %q", out.String())
	}
}

func TestRunCommands(t *testing.T) {
	rec, _ := newTestDashboard(t)
	var out bytes.Buffer
	runCommands(context.Background(), strings.NewReader("v r-1\nv r-2\n"), rec, &out)

	for _, id := range []string{"r-1", "r-2"} {
		if item, _ := rec.Feed().Get(id); !item.Verified {
			t.Errorf("%s not verified", id)
		}
	}
}
