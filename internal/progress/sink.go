package progress

import (
	"context"
	"time"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// producers stay agnostic about how events are buffered or delivered.
type Emitter interface {
	Emit(evt Event)
}

// Scope stamps events with a topic, a run and the emission time.
type Scope struct {
	emitter Emitter
	topicID string
	runID   string
	now     func() time.Time
}

// NewScope binds an emitter to one topic and run. A nil emitter discards events.
func NewScope(emitter Emitter, topicID, runID string, now func() time.Time) Scope {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return Scope{emitter: emitter, topicID: topicID, runID: runID, now: now}
}

// Emit sends one event.
func (s Scope) Emit(name Name, data any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(Event{
		TopicID: s.topicID,
		RunID:   s.runID,
		Name:    name,
		Data:    data,
		TS:      s.now(),
	})
}

// TopicID returns the scoped topic.
func (s Scope) TopicID() string { return s.topicID }

// RunID returns the scoped run.
func (s Scope) RunID() string { return s.runID }
