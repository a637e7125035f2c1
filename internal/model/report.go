package model

import (
	"strings"
	"time"
)

// Category is the requester-facing service category ("water", "power", "aid", ...).
// Categories are extensible; any non-empty value is accepted.
type Category string

const (
	CategoryWater Category = "water"
	CategoryPower Category = "power"
	CategoryAid   Category = "aid"
)

// ReportType is the dashboard classification of a report.
type ReportType string

const (
	TypeWaterIssue      ReportType = "WATER_ISSUE"
	TypePowerIssue      ReportType = "POWER_ISSUE"
	TypeNewInstallation ReportType = "NEW_INSTALLATION"
	TypeGeneral         ReportType = "GENERAL"
)

// IsValid checks whether the type is a known value.
func (t ReportType) IsValid() bool {
	switch t {
	case TypeWaterIssue, TypePowerIssue, TypeNewInstallation, TypeGeneral:
		return true
	}
	return false
}

// TypeForCategory maps a requester category onto a dashboard report type.
func TypeForCategory(c Category) ReportType {
	switch Category(strings.ToLower(string(c))) {
	case CategoryWater:
		return TypeWaterIssue
	case CategoryPower:
		return TypePowerIssue
	}
	return TypeGeneral
}

// Urgency is set when a report is created and never changed by mesh events.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// IsValid checks whether the urgency is a known value.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// ReportPayload is the payload of a REPORT_SUBMITTED envelope.
type ReportPayload struct {
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Location  string   `json:"location"`
	Timestamp string   `json:"timestamp,omitempty"` // RFC 3339
	PhotoRef  string   `json:"photoRef,omitempty"`
	AudioRef  string   `json:"audioRef,omitempty"`
}

// Report is a single feed item, and the record kept by the report store.
// Verified is the only field that changes after creation.
type Report struct {
	ID        string     `json:"id"`
	Location  string     `json:"location"`
	Category  Category   `json:"category,omitempty"`
	Type      ReportType `json:"type"`
	Message   string     `json:"message"`
	PhotoRef  string     `json:"photoRef,omitempty"`
	AudioRef  string     `json:"audioRef,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Verified  bool       `json:"verified"`
	Urgency   Urgency    `json:"urgency,omitempty"`
}

// ReportFromPayload normalizes a mesh payload into a feed item. The id comes
// from the envelope so that mesh and store deliveries converge on one record.
// A missing or unparseable timestamp falls back to now.
func ReportFromPayload(id string, p ReportPayload, now time.Time) Report {
	ts := now.UTC()
	if p.Timestamp != "" {
		if t, err := parseTimestamp(p.Timestamp); err == nil {
			ts = t.UTC()
		}
	}
	return Report{
		ID:        id,
		Location:  p.Location,
		Category:  p.Category,
		Type:      TypeForCategory(p.Category),
		Message:   p.Message,
		PhotoRef:  p.PhotoRef,
		AudioRef:  p.AudioRef,
		Timestamp: ts,
		Verified:  false,
		Urgency:   UrgencyMedium,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
