package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateReportPayload checks a submitted report before it is broadcast or stored.
func ValidateReportPayload(p *ReportPayload) error {
	var ve ValidationError

	if strings.TrimSpace(p.Message) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "message", Message: "is required"})
	} else if len([]rune(p.Message)) > 2000 {
		ve.Errors = append(ve.Errors, FieldError{Field: "message", Message: "must be 2000 characters or fewer"})
	}

	if strings.TrimSpace(p.Location) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "location", Message: "is required"})
	}

	if p.Timestamp != "" {
		if _, err := parseTimestamp(p.Timestamp); err != nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "timestamp",
				Message: fmt.Sprintf("invalid RFC 3339 value %q", p.Timestamp),
			})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateReportID checks a caller-chosen report id. Ids are compared
// byte for byte on the mesh and in the store, so surrounding whitespace is
// rejected rather than trimmed.
func ValidateReportID(id string) error {
	if id != strings.TrimSpace(id) {
		return &ValidationError{Errors: []FieldError{{Field: "id", Message: "must not have leading or trailing whitespace"}}}
	}
	return nil
}

// ValidateEnvelope checks the fields every envelope must carry.
func ValidateEnvelope(e *Envelope) error {
	var ve ValidationError
	if e.ID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if e.SenderID == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "senderId", Message: "is required"})
	}
	if e.Kind == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "kind", Message: "is required"})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
