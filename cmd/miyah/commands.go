package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alfredjeanlab/miyah/internal/feed"
)

// dashboard is the part of a reconciler the stdin commands drive.
type dashboard interface {
	Feed() *feed.Feed
	ToggleVerified(id string) (verified, ok bool)
	Delete(id string) bool
	Nudge()
}

// runCommands reads operator commands from r until ctx is done or r is
// exhausted.
func runCommands(ctx context.Context, r io.Reader, d dashboard, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		handleCommand(d, scanner.Text(), w)
	}
}

func handleCommand(d dashboard, line string, w io.Writer) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	needID := func() (string, bool) {
		if len(args) != 1 {
			fmt.Fprintf(w, "usage: %s <id>\n", cmd)
			return "", false
		}
		return args[0], true
	}

	switch cmd {
	case "v", "verify":
		id, ok := needID()
		if !ok {
			return
		}
		verified, found := d.ToggleVerified(id)
		if !found {
			fmt.Fprintf(w, "%s: not in feed\n", id)
			return
		}
		fmt.Fprintf(w, "%s verified=%t\n", renderID(id), verified)
	case "d", "delete":
		id, ok := needID()
		if !ok {
			return
		}
		if d.Delete(id) {
			fmt.Fprintf(w, "%s deleted\n", renderID(id))
		} else {
			fmt.Fprintf(w, "%s not in feed, deleting from store\n", renderID(id))
		}
	case "l", "list":
		printReportTable(w, d.Feed().Items())
	case "p", "poll":
		d.Nudge()
	default:
		fmt.Fprintf(w, "unknown command %q (v <id>, d <id>, l, p)\n", cmd)
	}
}
