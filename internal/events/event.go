// Package events provides the per-job progress event stream: ordered
// publish/subscribe with a bounded replay backlog for late subscribers.
package events

import "time"

// Kind classifies a stage event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindRetrying  Kind = "retrying"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindSkipped   Kind = "skipped"
)

// Event is one immutable progress record. ItemID is empty for job-level
// events. Seq is assigned by the bus, strictly increasing and gapless
// within one job.
type Event struct {
	JobID     string         `json:"job_id"`
	ItemID    string         `json:"item_id,omitempty"`
	Stage     string         `json:"stage"`
	Kind      Kind           `json:"kind"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
