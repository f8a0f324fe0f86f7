package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

const topicsTable = "topics"

var topicColumns = []string{
	"id",
	"name",
	"status",
	"keywords",
	"sources",
	"schedule",
	"daily_last_run",
	"daily_next_run",
	"weekly_last_run",
	"weekly_next_run",
	"created_at",
	"updated_at",
}

type topicDocs struct {
	keywords []byte
	sources  []byte
	schedule []byte
}

func encodeTopic(t topic.Topic) (topicDocs, error) {
	var docs topicDocs
	var err error
	keywords := t.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	if docs.keywords, err = json.Marshal(keywords); err != nil {
		return docs, fmt.Errorf("marshal keywords: %w", err)
	}
	sources := t.Sources
	if sources == nil {
		sources = []topic.Source{}
	}
	if docs.sources, err = json.Marshal(sources); err != nil {
		return docs, fmt.Errorf("marshal sources: %w", err)
	}
	if docs.schedule, err = json.Marshal(t.Schedule); err != nil {
		return docs, fmt.Errorf("marshal schedule: %w", err)
	}
	return docs, nil
}

// SaveTopic inserts a topic row.
func (s *Store) SaveTopic(ctx context.Context, t topic.Topic) error {
	docs, err := encodeTopic(t)
	if err != nil {
		return err
	}
	b := s.psql.Insert(topicsTable).Columns(topicColumns...).Values(
		t.ID,
		t.Name,
		string(t.Status),
		docs.keywords,
		docs.sources,
		docs.schedule,
		t.Daily.Last,
		t.Daily.Next,
		t.Weekly.Last,
		t.Weekly.Next,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// UpdateTopic overwrites a topic row.
func (s *Store) UpdateTopic(ctx context.Context, t topic.Topic) error {
	docs, err := encodeTopic(t)
	if err != nil {
		return err
	}
	b := s.psql.Update(topicsTable).
		Set("name", t.Name).
		Set("status", string(t.Status)).
		Set("keywords", docs.keywords).
		Set("sources", docs.sources).
		Set("schedule", docs.schedule).
		Set("daily_last_run", t.Daily.Last).
		Set("daily_next_run", t.Daily.Next).
		Set("weekly_last_run", t.Weekly.Last).
		Set("weekly_next_run", t.Weekly.Next).
		Set("updated_at", t.UpdatedAt).
		Where(sq.Eq{"id": t.ID})
	tag, err := s.exec(ctx, b)
	if err != nil {
		return fmt.Errorf("update topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic %s: %w", t.ID, store.ErrNotFound)
	}
	return nil
}

// DeleteTopic removes a topic row; articles cascade.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	tag, err := s.exec(ctx, s.psql.Delete(topicsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetTopic loads one topic.
func (s *Store) GetTopic(ctx context.Context, id string) (topic.Topic, error) {
	row, err := s.queryRow(ctx, s.psql.Select(topicColumns...).From(topicsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return topic.Topic{}, err
	}
	t, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return topic.Topic{}, fmt.Errorf("topic %s: %w", id, store.ErrNotFound)
		}
		return topic.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

// ListTopics returns all topics ordered by creation.
func (s *Store) ListTopics(ctx context.Context) ([]topic.Topic, error) {
	rows, err := s.query(ctx, s.psql.Select(topicColumns...).From(topicsTable).OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []topic.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// GetSources returns a topic's sources.
func (s *Store) GetSources(ctx context.Context, topicID string) ([]topic.Source, error) {
	row, err := s.queryRow(ctx, s.psql.Select("sources").From(topicsTable).Where(sq.Eq{"id": topicID}))
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("topic %s: %w", topicID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get sources: %w", err)
	}
	var sources []topic.Source
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
	}
	return sources, nil
}

func scanTopic(row pgx.Row) (topic.Topic, error) {
	var (
		t                        topic.Topic
		status                   string
		keywords, sources, sched []byte
		dailyLast, dailyNext     *time.Time
		weeklyLast, weeklyNext   *time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.Name,
		&status,
		&keywords,
		&sources,
		&sched,
		&dailyLast,
		&dailyNext,
		&weeklyLast,
		&weeklyNext,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return topic.Topic{}, err
	}
	t.Status = topic.Status(status)
	t.Daily = topic.RunTimes{Last: dailyLast, Next: dailyNext}
	t.Weekly = topic.RunTimes{Last: weeklyLast, Next: weeklyNext}
	for _, doc := range []struct {
		raw []byte
		dst any
	}{{keywords, &t.Keywords}, {sources, &t.Sources}, {sched, &t.Schedule}} {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return topic.Topic{}, fmt.Errorf("decode topic %s: %w", t.ID, err)
		}
	}
	return t, nil
}
