// Package idgen provides the identifiers used on the mesh and in the report
// store: short nanoid-backed sender and report ids, and UUID message ids.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// ReportPrefix is prepended to report ids generated by the store when the
// client did not supply one.
var ReportPrefix = "report-"

// Alphabet defines the character set used for the random portion of short ids.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// SenderLength is the length of a sender id.
var SenderLength = 8

// ReportLength is the number of random characters in a generated report id
// (excluding the prefix).
var ReportLength = 10

// SenderID returns a new short sender id. A mesh service draws one at
// construction and keeps it for its lifetime.
func SenderID() (string, error) {
	id, err := nanoid.Generate(Alphabet, SenderLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}

// ReportID returns a new store-assigned report id.
func ReportID() (string, error) {
	return GenerateWithPrefix(ReportPrefix, ReportLength)
}

// GenerateWithPrefix returns a new unique id of n random characters with the given prefix.
func GenerateWithPrefix(prefix string, n int) (string, error) {
	id, err := nanoid.Generate(Alphabet, n)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MessageID returns a new globally unique envelope id. Callers that submit
// the same logical event on several paths draw it once and reuse it.
func MessageID() string {
	return uuid.NewString()
}
