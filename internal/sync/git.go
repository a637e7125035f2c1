package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommitMessage is the message of every export commit.
const CommitMessage = "sync: update reports export"

// GitDestination keeps the export as a file in a local clone and pushes each
// change to origin. It doubles as a restore Source.
type GitDestination struct {
	repo   string
	file   string
	branch string
}

// NewGitDestination returns a destination writing file (relative to the
// clone) on branch. repo must be an existing clone with origin configured.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) Name() string { return "git:" + d.repo + "/" + d.file }

// Write replaces the export file and pushes a commit when its content
// changed. An unchanged export creates no commit.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote may not have the branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := d.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}
	changed, err := d.staged(ctx)
	if err != nil || !changed {
		return err
	}
	if _, err := d.git(ctx, "commit", "--quiet", "-m", CommitMessage); err != nil {
		return err
	}
	_, err = d.git(ctx, "push", "--quiet", "origin", d.branch)
	return err
}

// Read pulls and returns the export file, or ErrNoExport when the clone
// does not have one.
func (d *GitDestination) Read(ctx context.Context) ([]byte, error) {
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)
	data, err := os.ReadFile(d.path())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNoExport
	case err != nil:
		return nil, fmt.Errorf("read export: %w", err)
	}
	return data, nil
}

func (d *GitDestination) path() string {
	return filepath.Join(d.repo, filepath.FromSlash(d.file))
}

// staged reports whether the index differs from HEAD for the export file.
func (d *GitDestination) staged(ctx context.Context) (bool, error) {
	out, err := d.git(ctx, "diff", "--cached", "--name-only", "--", d.file)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// git runs a git subcommand in the clone. A failure carries git's stderr.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}
