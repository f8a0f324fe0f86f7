package progress

import "time"

// SourceState is the per-source lifecycle reported while scraping.
type SourceState string

// Source states.
const (
	SourceActive   SourceState = "active"
	SourceComplete SourceState = "complete"
	SourceFailed   SourceState = "failed"
)

// SourceStatus is the payload of EventSourceStatus.
type SourceStatus struct {
	SourceID   string      `json:"sourceId"`
	SourceName string      `json:"sourceName"`
	URL        string      `json:"url"`
	State      SourceState `json:"status"`
	// Result is success, partial or failed once the source finishes.
	Result     string `json:"result,omitempty"`
	ItemsFound int    `json:"articlesFound"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ScanProgress is the payload of EventProgress.
type ScanProgress struct {
	TotalSources     int `json:"totalSources"`
	CompletedSources int `json:"completedSources"`
	FailedSources    int `json:"failedSources"`
	TotalArticles    int `json:"totalArticles"`
}

// NodeTransition is the payload of the node_* events.
type NodeTransition struct {
	NodeID   string         `json:"nodeId"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Duration time.Duration  `json:"durationMs,omitempty"`
}

// ErrorNotice is the payload of EventError.
type ErrorNotice struct {
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
	Cadence string `json:"cadence,omitempty"`
}

// RunInfo is the payload of EventRunStarted and EventRunFinished.
type RunInfo struct {
	RunID      string         `json:"runId"`
	JobID      string         `json:"jobId,omitempty"`
	TopicID    string         `json:"topicId"`
	TopicName  string         `json:"topicName,omitempty"`
	Cadence    string         `json:"cadence"`
	Trigger    string         `json:"trigger"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	// Nodes holds the run's step records; sinks persist it as JSON.
	Nodes any `json:"nodes,omitempty"`
}

// Duration reports the run's wall time, or zero while it is running.
func (r RunInfo) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
