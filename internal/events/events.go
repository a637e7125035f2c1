// Package events carries report store change notifications. The server
// publishes one event per change; watchers use them to poll early instead of
// waiting for the next interval.
package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/miyah/internal/model"
)

// Event topic constants
const (
	TopicReportCreated = "miyah.report.created"
	TopicReportDeleted = "miyah.report.deleted"

	// TopicReports matches every report topic.
	TopicReports = "miyah.report.>"
)

// Event types

type ReportCreated struct {
	Report *model.Report `json:"report"`
}

type ReportDeleted struct {
	ReportID string `json:"reportId"`
}

// IsReportTopic reports whether topic is one of the report topics.
func IsReportTopic(topic string) bool {
	return strings.HasPrefix(topic, "miyah.report.")
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
