package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

const articlesTable = "articles"

var articleColumns = []string{
	"id",
	"topic_id",
	"source_id",
	"source_name",
	"url",
	"title",
	"excerpt",
	"published_at",
	"author",
	"tags",
	"content_hash",
	"scraped_at",
	"importance",
	"scores",
	"summary",
	"insights",
	"actions",
	"analysis_model",
	"analyzed_at",
}

// SaveArticle inserts an article unless the topic already holds its content hash.
func (s *Store) SaveArticle(ctx context.Context, topicID string, a topic.Article) (bool, error) {
	tags, err := marshalList(a.Tags)
	if err != nil {
		return false, err
	}
	insights, err := marshalList(a.Insights)
	if err != nil {
		return false, err
	}
	actions, err := marshalList(a.Actions)
	if err != nil {
		return false, err
	}
	scores, err := json.Marshal(a.Scores)
	if err != nil {
		return false, fmt.Errorf("marshal scores: %w", err)
	}
	b := s.psql.Insert(articlesTable).Columns(articleColumns...).Values(
		a.ID,
		topicID,
		a.SourceID,
		a.SourceName,
		a.URL,
		a.Title,
		a.Excerpt,
		a.PublishedAt,
		a.Author,
		tags,
		a.ContentHash,
		a.ScrapedAt,
		a.Scores.Importance,
		scores,
		a.Summary,
		insights,
		actions,
		a.AnalysisModel,
		a.AnalyzedAt,
	).Suffix("ON CONFLICT (topic_id, content_hash) DO NOTHING")
	tag, err := s.exec(ctx, b)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetArticles returns articles scraped at or after since, most important first.
func (s *Store) GetArticles(ctx context.Context, topicID string, since time.Time) ([]topic.Article, error) {
	b := s.psql.Select(articleColumns...).
		From(articlesTable).
		Where(sq.Eq{"topic_id": topicID}).
		Where(sq.GtOrEq{"scraped_at": since}).
		OrderBy("importance DESC", "scraped_at DESC")
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []topic.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

func scanArticle(row pgx.Row) (topic.Article, error) {
	var (
		a                       topic.Article
		importance              int
		tags, insights, actions []byte
		scores                  []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.TopicID,
		&a.SourceID,
		&a.SourceName,
		&a.URL,
		&a.Title,
		&a.Excerpt,
		&a.PublishedAt,
		&a.Author,
		&tags,
		&a.ContentHash,
		&a.ScrapedAt,
		&importance,
		&scores,
		&a.Summary,
		&insights,
		&actions,
		&a.AnalysisModel,
		&a.AnalyzedAt,
	); err != nil {
		return topic.Article{}, err
	}
	for _, doc := range []struct {
		raw []byte
		dst any
	}{{tags, &a.Tags}, {insights, &a.Insights}, {actions, &a.Actions}, {scores, &a.Scores}} {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return topic.Article{}, fmt.Errorf("decode article %s: %w", a.ID, err)
		}
	}
	a.Scores.Importance = importance
	return a, nil
}

func marshalList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal list: %w", err)
	}
	return b, nil
}
