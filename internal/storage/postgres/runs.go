package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

const runsTable = "runs"

var runColumns = []string{
	"id",
	"job_id",
	"topic_id",
	"cadence",
	"trigger",
	"status",
	"started_at",
	"finished_at",
	"error",
	"summary",
	"nodes",
}

// StartRun inserts a running record; a repeated start is ignored.
func (s *Store) StartRun(ctx context.Context, run store.RunRecord) error {
	status := run.Status
	if status == "" {
		status = store.RunRunning
	}
	b := s.psql.Insert(runsTable).
		Columns("id", "job_id", "topic_id", "cadence", "trigger", "status", "started_at").
		Values(run.ID, run.JobID, run.TopicID, string(run.Cadence), run.Trigger, string(status), run.StartedAt).
		Suffix("ON CONFLICT (id) DO NOTHING")
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun stores the terminal state of a run.
func (s *Store) CompleteRun(ctx context.Context, run store.RunRecord) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	nodes := run.Nodes
	if len(nodes) == 0 {
		nodes = []byte("[]")
	}
	b := s.psql.Update(runsTable).
		Set("status", string(run.Status)).
		Set("finished_at", run.FinishedAt).
		Set("error", run.Error).
		Set("summary", summary).
		Set("nodes", nodes).
		Where(sq.Eq{"id": run.ID})
	tag, err := s.exec(ctx, b)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (store.RunRecord, error) {
	row, err := s.queryRow(ctx, s.psql.Select(runColumns...).From(runsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return store.RunRecord{}, err
	}
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns a topic's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, topicID string, limit int) ([]store.RunRecord, error) {
	b := s.psql.Select(runColumns...).
		From(runsTable).
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var (
		run             store.RunRecord
		cadence, status string
		errText         *string
		summary         []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&run.TopicID,
		&cadence,
		&run.Trigger,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&errText,
		&summary,
		&run.Nodes,
	); err != nil {
		return store.RunRecord{}, err
	}
	run.Cadence = topic.Cadence(cadence)
	run.Status = store.RunStatus(status)
	if errText != nil {
		run.Error = *errText
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return store.RunRecord{}, fmt.Errorf("decode run %s summary: %w", run.ID, err)
		}
	}
	return run, nil
}
