package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// RunStoreSink persists run boundaries carried by run_started and
// run_finished events into a store.RunRepository.
type RunStoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewRunStoreSink constructs a RunStoreSink for the provided repository.
func NewRunStoreSink(repo store.RunRepository, logger *zap.Logger) *RunStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStoreSink{repo: repo, logger: logger.Named("run_store_sink")}
}

// Consume writes run records in order. Failures are collected so one bad
// record does not block the rest of the batch.
func (s *RunStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Name != progress.EventRunStarted && evt.Name != progress.EventRunFinished {
			continue
		}
		info, ok := runInfo(evt.Data)
		if !ok {
			s.logger.Warn("run event without run info", zap.String("event", string(evt.Name)))
			continue
		}
		rec, err := recordFromInfo(info)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if evt.Name == progress.EventRunStarted {
			rec.Status = store.RunRunning
			if err := s.repo.StartRun(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("start run %s: %w", rec.ID, err))
			}
			continue
		}
		if err := s.repo.CompleteRun(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("complete run %s: %w", rec.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *RunStoreSink) Close(context.Context) error {
	return nil
}

func runInfo(data any) (progress.RunInfo, bool) {
	switch v := data.(type) {
	case progress.RunInfo:
		return v, true
	case *progress.RunInfo:
		if v == nil {
			return progress.RunInfo{}, false
		}
		return *v, true
	default:
		return progress.RunInfo{}, false
	}
}

func recordFromInfo(info progress.RunInfo) (store.RunRecord, error) {
	rec := store.RunRecord{
		ID:         info.RunID,
		JobID:      info.JobID,
		TopicID:    info.TopicID,
		Cadence:    topic.Cadence(info.Cadence),
		Trigger:    info.Trigger,
		Status:     store.RunStatus(info.Status),
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
		Error:      info.Error,
		Summary:    info.Summary,
	}
	if info.Nodes != nil {
		nodes, err := json.Marshal(info.Nodes)
		if err != nil {
			return store.RunRecord{}, fmt.Errorf("marshal run %s nodes: %w", info.RunID, err)
		}
		rec.Nodes = nodes
	}
	return rec, nil
}
