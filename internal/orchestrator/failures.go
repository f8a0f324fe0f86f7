package orchestrator

import (
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// FailureLogEntry records one failed run.
type FailureLogEntry struct {
	JobID   string        `json:"jobId,omitempty"`
	RunID   string        `json:"runId"`
	TopicID string        `json:"topicId"`
	Cadence topic.Cadence `json:"cadence"`
	At      time.Time     `json:"timestamp"`
	Message string        `json:"message"`
}

const maxFailureEntries = 1000

// failureLog keeps failures for a trailing window.
type failureLog struct {
	mu      sync.Mutex
	window  time.Duration
	entries []FailureLogEntry
}

func newFailureLog(window time.Duration) *failureLog {
	return &failureLog{window: window}
}

func (l *failureLog) record(e FailureLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(e.At)
	l.entries = append(l.entries, e)
	if over := len(l.entries) - maxFailureEntries; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
}

// recent returns the entries inside the window ending at now, oldest first.
func (l *failureLog) recent(now time.Time) []FailureLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	return slices.Clone(l.entries)
}

func (l *failureLog) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.entries) && l.entries[keep].At.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		l.entries = slices.Delete(l.entries, 0, keep)
	}
}
