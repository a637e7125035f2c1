package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestKind_IsKnown(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		want bool
	}{
		{KindPresence, true},
		{KindReportSubmitted, true},
		{Kind(""), false},
		{Kind("NEIGHBORHOOD_UPDATE"), false},
	} {
		if got := tc.kind.IsKnown(); got != tc.want {
			t.Errorf("Kind(%q).IsKnown() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestTypeForCategory(t *testing.T) {
	for _, tc := range []struct {
		cat  Category
		want ReportType
	}{
		{CategoryWater, TypeWaterIssue},
		{"WATER", TypeWaterIssue},
		{CategoryPower, TypePowerIssue},
		{CategoryAid, TypeGeneral},
		{"", TypeGeneral},
	} {
		if got := TypeForCategory(tc.cat); got != tc.want {
			t.Errorf("TypeForCategory(%q) = %q, want %q", tc.cat, got, tc.want)
		}
	}
}

func TestEnvelope_JSONFieldNames(t *testing.T) {
	env := Envelope{
		ID:        "abc-1",
		SenderID:  "s1",
		Kind:      KindReportSubmitted,
		Payload:   json.RawMessage(`{"message":"hi"}`),
		CreatedAt: 1700000000000,
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "senderId", "kind", "payload", "createdAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing wire field %q in %s", key, data)
		}
	}
	if got := env.Created(); got.UnixMilli() != env.CreatedAt {
		t.Errorf("Created() = %v, want %d ms", got, env.CreatedAt)
	}
}

func TestEnvelope_DecodePayload(t *testing.T) {
	env := Envelope{Payload: json.RawMessage(`{"category":"water","message":"No water 3 days","location":"Block 5"}`)}
	var p ReportPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Category != CategoryWater || p.Location != "Block 5" {
		t.Errorf("got %+v", p)
	}

	var empty *ReportPayload
	if err := (Envelope{}).DecodePayload(&empty); err != nil {
		t.Fatalf("DecodePayload(empty): %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil payload, got %+v", empty)
	}
}

func TestReportFromPayload(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r := ReportFromPayload("abc-1", ReportPayload{
		Category:  CategoryWater,
		Message:   "No water 3 days",
		Location:  "Block 5",
		Timestamp: "2026-01-01T10:00:00Z",
	}, now)
	if r.ID != "abc-1" || r.Type != TypeWaterIssue || r.Verified {
		t.Errorf("unexpected report %+v", r)
	}
	if r.Urgency != UrgencyMedium {
		t.Errorf("urgency = %q, want Medium", r.Urgency)
	}
	if want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC); !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}

	r = ReportFromPayload("abc-2", ReportPayload{Message: "x", Location: "y", Timestamp: "yesterday"}, now)
	if !r.Timestamp.Equal(now) {
		t.Errorf("bad timestamp should fall back to now, got %v", r.Timestamp)
	}
}

func TestValidateReportPayload(t *testing.T) {
	for _, tc := range []struct {
		name   string
		p      ReportPayload
		fields []string
	}{
		{"valid", ReportPayload{Message: "No water", Location: "Block 5"}, nil},
		{"missing message", ReportPayload{Location: "Block 5"}, []string{"message"}},
		{"blank location", ReportPayload{Message: "x", Location: "  "}, []string{"location"}},
		{"bad timestamp", ReportPayload{Message: "x", Location: "y", Timestamp: "now"}, []string{"timestamp"}},
		{"everything wrong", ReportPayload{Timestamp: "now"}, []string{"message", "location", "timestamp"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateReportPayload(&tc.p)
			if len(tc.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if len(ve.Errors) != len(tc.fields) {
				t.Fatalf("got %d errors (%v), want %d", len(ve.Errors), err, len(tc.fields))
			}
			for i, f := range tc.fields {
				if ve.Errors[i].Field != f {
					t.Errorf("error %d field = %q, want %q", i, ve.Errors[i].Field, f)
				}
			}
		})
	}
}

func TestValidateEnvelope(t *testing.T) {
	if err := ValidateEnvelope(&Envelope{ID: "a", SenderID: "b", Kind: KindPresence}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateEnvelope(&Envelope{})
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 3 {
		t.Fatalf("expected 3 field errors, got %v", err)
	}
}

func TestUrgency_IsValid(t *testing.T) {
	if !UrgencyCritical.IsValid() {
		t.Error("Critical should be valid")
	}
	if Urgency("Urgent").IsValid() {
		t.Error("Urgent should be invalid")
	}
}

func TestReportType_IsValid(t *testing.T) {
	for _, rt := range []ReportType{TypeWaterIssue, TypePowerIssue, TypeNewInstallation, TypeGeneral} {
		if !rt.IsValid() {
			t.Errorf("%s should be valid", rt)
		}
	}
	if ReportType("FOO").IsValid() {
		t.Error("FOO should be invalid")
	}
}

func TestValidateReportID(t *testing.T) {
	for _, tc := range []struct {
		id      string
		wantErr bool
	}{
		{"abc-1", false},
		{"", false},
		{" abc-1", true},
		{"abc-1\n", true},
	} {
		if err := ValidateReportID(tc.id); (err != nil) != tc.wantErr {
			t.Errorf("ValidateReportID(%q) = %v, wantErr %v", tc.id, err, tc.wantErr)
		}
	}
}
