package sync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// newTestClone creates a bare origin with one commit on main and returns a
// clone of it plus the origin path.
func newTestClone(t *testing.T) (clone, origin string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}

	origin = t.TempDir()
	gitRun(t, origin, "init", "--quiet", "--bare")

	work := t.TempDir()
	gitRun(t, work, "clone", "--quiet", origin, "repo")
	clone = filepath.Join(work, "repo")

	gitRun(t, clone, "config", "user.email", "sync@example.com")
	gitRun(t, clone, "config", "user.name", "Sync")
	gitRun(t, clone, "symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(clone, ".gitkeep"), nil, 0o644); err != nil {
		t.Fatalf("write .gitkeep: %v", err)
	}
	gitRun(t, clone, "add", ".")
	gitRun(t, clone, "commit", "--quiet", "-m", "init")
	gitRun(t, clone, "push", "--quiet", "origin", "main")
	return clone, origin
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func commitCount(t *testing.T, origin string) int {
	t.Helper()
	n, err := strconv.Atoi(strings.TrimSpace(gitRun(t, origin, "rev-list", "--count", "main")))
	if err != nil {
		t.Fatalf("rev-list: %v", err)
	}
	return n
}

func TestGitDestination_Write(t *testing.T) {
	clone, origin := newTestClone(t)
	dest := NewGitDestination(clone, "reports.jsonl", "main")
	ctx := context.Background()

	v1 := []byte(`{"version":"1","type":"header"}` + "\n")
	if err := dest.Write(ctx, v1); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if got := commitCount(t, origin); got != 2 {
		t.Fatalf("origin commits = %d, want 2", got)
	}
	if msg := strings.TrimSpace(gitRun(t, origin, "log", "-1", "--format=%s", "main")); msg != CommitMessage {
		t.Errorf("commit message = %q", msg)
	}

	// Same content: nothing to commit.
	if err := dest.Write(ctx, v1); err != nil {
		t.Fatalf("unchanged write: %v", err)
	}
	if got := commitCount(t, origin); got != 2 {
		t.Fatalf("origin commits after unchanged write = %d, want 2", got)
	}

	v2 := []byte(`{"version":"1","type":"header","report_count":1}` + "\n")
	if err := dest.Write(ctx, v2); err != nil {
		t.Fatalf("changed write: %v", err)
	}
	if got := commitCount(t, origin); got != 3 {
		t.Fatalf("origin commits after change = %d, want 3", got)
	}
	if got := gitRun(t, origin, "show", "main:reports.jsonl"); got != string(v2) {
		t.Fatalf("origin content = %q", got)
	}
}

func TestGitDestination_SubDirectory(t *testing.T) {
	clone, _ := newTestClone(t)
	dest := NewGitDestination(clone, "data/reports.jsonl", "main")

	data := []byte(`{"type":"header"}` + "\n")
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(clone, "data", "reports.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("content = %q", got)
	}
}

func TestGitDestination_Read(t *testing.T) {
	clone, _ := newTestClone(t)
	dest := NewGitDestination(clone, "reports.jsonl", "main")
	ctx := context.Background()

	if _, err := dest.Read(ctx); !errors.Is(err, ErrNoExport) {
		t.Fatalf("Read before write = %v, want ErrNoExport", err)
	}

	data := []byte(`{"version":"1","type":"header"}` + "\n")
	if err := dest.Write(ctx, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := dest.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("Read = %q", got)
	}
}

func TestGitDestination_BadBranch(t *testing.T) {
	clone, _ := newTestClone(t)
	dest := NewGitDestination(clone, "reports.jsonl", "no-such-branch")

	err := dest.Write(context.Background(), []byte("x\n"))
	if err == nil || !strings.Contains(err.Error(), "git checkout") {
		t.Fatalf("err = %v, want git checkout failure", err)
	}
}
