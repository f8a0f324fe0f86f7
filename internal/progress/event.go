package progress

import (
	"errors"
	"fmt"
	"time"
)

// GlobalTopic is the pseudo-topic whose subscribers receive every event.
const GlobalTopic = "global"

// Name identifies the kind of an Event on the wire.
type Name string

// Event names delivered to subscribers.
const (
	EventSourceStatus      Name = "source_status_update"
	EventArticleScraped    Name = "article_scraped"
	EventArticleAnalyzed   Name = "article_analyzed"
	EventProgress          Name = "progress_update"
	EventScanComplete      Name = "scan_complete"
	EventWorkflowCompleted Name = "workflow_completed"
	EventError             Name = "error_occurred"

	EventNodeStarted   Name = "node_started"
	EventNodeCompleted Name = "node_completed"
	EventNodeFailed    Name = "node_failed"
	EventNodeSkipped   Name = "node_skipped"

	EventRunStarted  Name = "run_started"
	EventRunFinished Name = "run_finished"

	EventTopicCreated  Name = "topic_created"
	EventTopicUpdated  Name = "topic_updated"
	EventTopicPaused   Name = "topic_paused"
	EventTopicResumed  Name = "topic_resumed"
	EventTopicArchived Name = "topic_archived"
)

var knownNames = map[Name]struct{}{
	EventSourceStatus: {}, EventArticleScraped: {}, EventArticleAnalyzed: {},
	EventProgress: {}, EventScanComplete: {}, EventWorkflowCompleted: {}, EventError: {},
	EventNodeStarted: {}, EventNodeCompleted: {}, EventNodeFailed: {}, EventNodeSkipped: {},
	EventRunStarted: {}, EventRunFinished: {},
	EventTopicCreated: {}, EventTopicUpdated: {}, EventTopicPaused: {},
	EventTopicResumed: {}, EventTopicArchived: {},
}

// Event is one progress notification.
type Event struct {
	// TopicID scopes the event; GlobalTopic reaches every subscriber.
	TopicID string
	// RunID links the event to a workflow run when there is one.
	RunID string
	// Name is the wire event name.
	Name Name
	// Data is the event payload, usually one of the payload types in this package.
	Data any
	// TS is the UTC emission time.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TopicID == "" {
		return errors.New("topic id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := knownNames[e.Name]; !ok {
		return fmt.Errorf("unknown event %q", e.Name)
	}
	return nil
}
