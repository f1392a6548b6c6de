// Package publish forwards decoded device values to external sinks.
package publish

import "time"

// Report is the decoded state of one device after a successful poll.
type Report struct {
	Device        string         `json:"device"`
	DataTimestamp time.Time      `json:"data_timestamp"`
	Values        map[string]any `json:"values"`
}

// Publisher delivers reports. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(report Report) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(Report) error { return nil }
func (nopPublisher) Close() error         { return nil }

// Nop returns a publisher that drops every report.
func Nop() Publisher {
	return nopPublisher{}
}
