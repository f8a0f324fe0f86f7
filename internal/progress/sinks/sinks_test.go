package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/topicwatch/internal/broadcast"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/publisher/memory"
	"github.com/JakeFAU/topicwatch/internal/store"
	storemem "github.com/JakeFAU/topicwatch/internal/storage/memory"
)

// TestBroadcastSinkPreservesTimestamps verifies events reach subscribers with their emission time.
func TestBroadcastSinkPreservesTimestamps(t *testing.T) {
	t.Parallel()

	b := broadcast.New(broadcast.Config{})
	defer b.Close()
	sub := b.Subscribe("t1")
	global := b.Subscribe(progress.GlobalTopic)

	ts := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	sink := NewBroadcastSink(b)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", Name: progress.EventScanComplete, TS: ts, Data: map[string]int{"articles": 4}},
		{TopicID: progress.GlobalTopic, Name: progress.EventTopicCreated, TS: ts},
	}))

	msg := <-sub.C()
	require.Equal(t, "scan_complete", msg.Event)
	require.Equal(t, ts, msg.Timestamp)
	require.Equal(t, "topic_created", (<-sub.C()).Event)
	require.Len(t, global.C(), 2)
}

// TestRunStoreSinkPersistsRuns verifies run_started and run_finished become run records.
func TestRunStoreSinkPersistsRuns(t *testing.T) {
	t.Parallel()

	repo := storemem.NewRepository()
	sink := NewRunStoreSink(repo, nil)
	start := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute)
	info := progress.RunInfo{RunID: "r1", TopicID: "t1", Cadence: "daily", Trigger: "schedule", StartedAt: start}
	done := info
	done.Status = "failed"
	done.FinishedAt = &end
	done.Error = "Multi-Source Scraper: boom"
	done.Nodes = []map[string]string{{"id": "1.4", "status": "failed"}}

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", RunID: "r1", Name: progress.EventRunStarted, TS: start, Data: info},
		{TopicID: "t1", RunID: "r1", Name: progress.EventProgress, TS: start},
	}))
	run, err := repo.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", RunID: "r1", Name: progress.EventRunFinished, TS: end, Data: &done},
	}))
	run, err = repo.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status)
	require.Equal(t, "Multi-Source Scraper: boom", run.Error)
	require.JSONEq(t, `[{"id":"1.4","status":"failed"}]`, string(run.Nodes))
}

// TestRunStoreSinkJoinsErrors verifies repository failures are reported without stopping the batch.
func TestRunStoreSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	repo := &failingRunRepo{err: errors.New("db down")}
	sink := NewRunStoreSink(repo, nil)
	info := progress.RunInfo{RunID: "r1", TopicID: "t1"}
	err := sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", Name: progress.EventRunStarted, TS: time.Now(), Data: info},
		{TopicID: "t1", Name: progress.EventRunFinished, TS: time.Now(), Data: info},
		{TopicID: "t1", Name: progress.EventRunFinished, TS: time.Now(), Data: "not a run"},
	})
	require.ErrorContains(t, err, "start run r1")
	require.ErrorContains(t, err, "complete run r1")
	require.Equal(t, 2, repo.Calls())
}

// TestPublishSinkPublishesFinishedRuns verifies only run_finished is announced.
func TestPublishSinkPublishesFinishedRuns(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "topicwatch-runs")
	end := time.Now().UTC()
	info := progress.RunInfo{RunID: "r1", TopicID: "t1", Cadence: "weekly", Status: "success", FinishedAt: &end}

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", Name: progress.EventRunStarted, TS: end, Data: info},
		{TopicID: "t1", Name: progress.EventRunFinished, TS: end, Data: info},
	}))
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "topicwatch-runs", msgs[0].Topic)
	require.Equal(t, "weekly", msgs[0].Attributes["cadence"])
	require.Contains(t, string(msgs[0].Data), `"runId":"r1"`)

	pub.FailWith(errors.New("unavailable"))
	require.Error(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", Name: progress.EventRunFinished, TS: end, Data: info},
	}))
}

// TestLogSinkLevels verifies errors log at info and routine events at debug.
func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TopicID: "t1", Name: progress.EventProgress, TS: time.Now()},
		{TopicID: "t1", Name: progress.EventError, TS: time.Now(), Data: progress.ErrorNotice{Message: "boom"}},
	}))
	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, zap.InfoLevel, entries[1].Level)
	require.Equal(t, "error_occurred", entries[1].ContextMap()["event"])
	require.NoError(t, sink.Close(context.Background()))
}

type failingRunRepo struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingRunRepo) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *failingRunRepo) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *failingRunRepo) StartRun(context.Context, store.RunRecord) error    { return f.record() }
func (f *failingRunRepo) CompleteRun(context.Context, store.RunRecord) error { return f.record() }
func (f *failingRunRepo) GetRun(context.Context, string) (store.RunRecord, error) {
	return store.RunRecord{}, store.ErrNotFound
}
func (f *failingRunRepo) ListRuns(context.Context, string, int) ([]store.RunRecord, error) {
	return nil, nil
}
