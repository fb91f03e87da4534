// Package events implements the in-process event bus used to broadcast
// batch lifecycle and progress notifications to subscribers such as the
// websocket streaming endpoint.
package events

import "time"

// EventType identifies the kind of event on the bus.
type EventType string

const (
	// Batch lifecycle events
	EventBatchStarted   EventType = "batch.started"
	EventBatchProgress  EventType = "batch.progress"
	EventBatchPaused    EventType = "batch.paused"
	EventBatchResumed   EventType = "batch.resumed"
	EventBatchCompleted EventType = "batch.completed"
	EventBatchFailed    EventType = "batch.failed"
	EventBatchDeleted   EventType = "batch.deleted"

	// Per-image events
	EventImageIngested   EventType = "image.ingested"
	EventImageDuplicate  EventType = "image.duplicate"
	EventImageFailed     EventType = "image.failed"
	EventAnalysisStarted EventType = "analysis.started"
	EventAnalysisDone    EventType = "analysis.completed"
	EventAnalysisRetry   EventType = "analysis.retry"
	EventAnalysisFailed  EventType = "analysis.failed"

	// Watch folder events
	EventWatcherTriggered EventType = "watcher.triggered"
)

// Event is a single notification published on the bus.
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler receives published events. Handlers must not block; long work
// should be dispatched to another goroutine.
type Handler func(Event)
