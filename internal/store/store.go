package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable signals that the backing store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// TopicRepository persists topics, including archived ones.
type TopicRepository interface {
	// GetTopic loads one topic or returns ErrNotFound.
	GetTopic(ctx context.Context, id string) (topic.Topic, error)
	// SaveTopic inserts a new topic.
	SaveTopic(ctx context.Context, t topic.Topic) error
	// UpdateTopic overwrites an existing topic or returns ErrNotFound.
	UpdateTopic(ctx context.Context, t topic.Topic) error
	// DeleteTopic removes a topic permanently.
	DeleteTopic(ctx context.Context, id string) error
	// ListTopics returns every stored topic, archived included.
	ListTopics(ctx context.Context) ([]topic.Topic, error)
}

// SourceRepository resolves the sources a topic watches.
type SourceRepository interface {
	GetSources(ctx context.Context, topicID string) ([]topic.Source, error)
}

// ArticleRepository persists analyzed articles.
type ArticleRepository interface {
	// SaveArticle stores an article. Saving the same content hash twice for a
	// topic keeps the first copy and reports created=false.
	SaveArticle(ctx context.Context, topicID string, a topic.Article) (created bool, err error)
	// GetArticles returns a topic's articles scraped at or after since,
	// most important first.
	GetArticles(ctx context.Context, topicID string, since time.Time) ([]topic.Article, error)
}

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunRecord is one workflow execution.
type RunRecord struct {
	ID         string         `json:"id"`
	JobID      string         `json:"jobId,omitempty"`
	TopicID    string         `json:"topicId"`
	Cadence    topic.Cadence  `json:"cadence"`
	Trigger    string         `json:"trigger"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	// Nodes is the JSON encoded list of step records.
	Nodes []byte `json:"-"`
}

// RunRepository records workflow runs.
type RunRepository interface {
	// StartRun inserts a running record; repeating it for the same id is a no-op.
	StartRun(ctx context.Context, run RunRecord) error
	// CompleteRun sets the terminal status, finish time, error, summary and nodes.
	CompleteRun(ctx context.Context, run RunRecord) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (RunRecord, error)
	// ListRuns returns a topic's runs, newest first.
	ListRuns(ctx context.Context, topicID string, limit int) ([]RunRecord, error)
}

// Repository bundles every repository a backend provides.
type Repository interface {
	TopicRepository
	SourceRepository
	ArticleRepository
	RunRepository
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// BlobStore writes opaque artifacts such as archived digests.
type BlobStore interface {
	// PutObject stores r under path and returns a URI for it.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
