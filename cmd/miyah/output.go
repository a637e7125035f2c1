package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

func renderID(id string) string { return ui.RenderAccent(id) }
func okText(s string) string    { return ui.RenderOK(s) }
func mutedText(s string) string { return ui.RenderMuted(s) }

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// messageWidth is the room left for the message column on the current
// terminal.
func messageWidth() int {
	const fixed = 70 // id, type, urgency, location, time and padding
	w := ui.TerminalWidth(120) - fixed
	if w < 20 {
		w = 20
	}
	return w
}

func printReportTable(w io.Writer, reports []model.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tV\tTYPE\tURGENCY\tLOCATION\tTIME\tMESSAGE")
	width := messageWidth()
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			ui.RenderVerified(r.Verified),
			r.Type,
			ui.RenderUrgency(r.Urgency),
			truncate(r.Location, 24),
			formatTime(r.Timestamp),
			truncate(r.Message, width),
		)
	}
	tw.Flush()
}

// printReportLine prints one feed item as it arrives.
func printReportLine(w io.Writer, r model.Report) {
	fmt.Fprintf(w, "%s %s %s %s @ %s: %s\n",
		mutedText(formatTime(r.Timestamp)),
		renderID(r.ID),
		r.Type,
		ui.RenderUrgency(r.Urgency),
		r.Location,
		r.Message,
	)
}

func printReportDetail(w io.Writer, r *model.Report) {
	fmt.Fprintf(w, "ID:        %s\n", r.ID)
	fmt.Fprintf(w, "Type:      %s\n", r.Type)
	if r.Category != "" {
		fmt.Fprintf(w, "Category:  %s\n", r.Category)
	}
	if r.Urgency != "" {
		fmt.Fprintf(w, "Urgency:   %s\n", ui.RenderUrgency(r.Urgency))
	}
	fmt.Fprintf(w, "Location:  %s\n", r.Location)
	fmt.Fprintf(w, "Message:   %s\n", r.Message)
	fmt.Fprintf(w, "Time:      %s\n", formatTime(r.Timestamp))
	fmt.Fprintf(w, "Verified:  %t\n", r.Verified)
	if r.PhotoRef != "" {
		fmt.Fprintf(w, "Photo:     %s\n", r.PhotoRef)
	}
	if r.AudioRef != "" {
		fmt.Fprintf(w, "Audio:     %s\n", r.AudioRef)
	}
}

func printPeerTable(w io.Writer, peers []model.Peer, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tENVELOPES\tFIRST SEEN\tLAST SEEN")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s ago\n",
			p.ID,
			p.Envelopes,
			formatTime(p.FirstSeen),
			now.Sub(p.LastSeen).Round(time.Second),
		)
	}
	tw.Flush()
}

func printEnvelopeLine(w io.Writer, env model.Envelope) {
	fmt.Fprintf(w, "%s %s from %s id=%s\n",
		mutedText(formatTime(env.Created())),
		env.Kind,
		renderID(env.SenderID),
		env.ID,
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout
