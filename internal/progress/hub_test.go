package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(EventSourceStatus))
	hub.Emit(sampleEvent(EventProgress))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(EventScanComplete))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubPreservesOrder ensures sinks observe events in emission order.
func TestHubPreservesOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 3, MaxBatchWait: 10 * time.Millisecond}, sink)

	names := []Name{EventNodeStarted, EventSourceStatus, EventSourceStatus, EventProgress, EventNodeCompleted}
	for _, n := range names {
		hub.Emit(sampleEvent(n))
	}
	require.NoError(t, hub.Close(context.Background()))

	var got []Name
	for _, b := range sink.Batches() {
		for _, evt := range b {
			got = append(got, evt.Name)
		}
	}
	require.Equal(t, names, got)
}

// TestHubDropsInvalidEvents verifies unknown names and missing topics never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	bad := sampleEvent("made_up")
	hub.Emit(bad)
	noTopic := sampleEvent(EventProgress)
	noTopic.TopicID = ""
	hub.Emit(noTopic)
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(EventProgress))
	hub.Emit(sampleEvent(EventProgress))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(EventWorkflowCompleted))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed())

	hub.Emit(sampleEvent(EventProgress))
	require.Len(t, sink.Batches(), 1)
}

// TestScopeStampsEvents verifies scoped emission fills topic, run and time.
func TestScopeStampsEvents(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	scope := NewScope(rec, "topic-1", "run-1", func() time.Time { return at })
	scope.Emit(EventProgress, ScanProgress{TotalSources: 3})

	events := rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, "topic-1", events[0].TopicID)
	require.Equal(t, "run-1", events[0].RunID)
	require.Equal(t, at, events[0].TS)
	require.Equal(t, ScanProgress{TotalSources: 3}, events[0].Data)
	require.NoError(t, events[0].Validate())

	NewScope(nil, "t", "r", nil).Emit(EventProgress, nil)
}

type stubSink struct {
	mu       sync.Mutex
	batches  [][]Event
	isClosed bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isClosed = true
	return nil
}

func (s *stubSink) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(name Name) Event {
	return Event{
		TopicID: "topic-1",
		RunID:   "run-1",
		Name:    name,
		TS:      time.Now().UTC(),
	}
}
