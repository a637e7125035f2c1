package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
)

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"pompe à eau cassée", 8, "pompe..."},
	} {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestPrintReportTable(t *testing.T) {
	reports := []model.Report{
		{ID: "r-2", Type: model.TypePowerIssue, Urgency: model.UrgencyHigh, Location: "Market", Message: "Outage"},
		{ID: "r-1", Type: model.TypeWaterIssue, Urgency: model.UrgencyLow, Location: "Well 3", Message: "Leak", Verified: true},
	}
	var buf bytes.Buffer
	printReportTable(&buf, reports)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "r-2") || !strings.Contains(lines[1], "POWER_ISSUE") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "r-1") || !strings.Contains(lines[2], "Well 3") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestPrintPeerTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	peers := []model.Peer{{ID: "abc123", FirstSeen: now.Add(-time.Minute), LastSeen: now.Add(-5 * time.Second), Envelopes: 3}}

	var buf bytes.Buffer
	printPeerTable(&buf, peers, now)
	out := buf.String()
	if !strings.Contains(out, "abc123") || !strings.Contains(out, "5s ago") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRequestFromReport(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := requestFromReport(model.Report{
		ID:        "r-1",
		Category:  model.CategoryWater,
		Type:      model.TypeWaterIssue,
		Message:   "Leak",
		Location:  "Well 3",
		Timestamp: ts,
		Urgency:   model.UrgencyHigh,
		Verified:  true,
	})
	if req.ID != "r-1" || req.Type != "WATER_ISSUE" || req.Urgency != model.UrgencyHigh {
		t.Errorf("request = %+v", req)
	}
	if req.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", req.Timestamp)
	}

	if got := requestFromReport(model.Report{ID: "r-2"}).Timestamp; got != "" {
		t.Errorf("zero timestamp rendered as %q", got)
	}
}
