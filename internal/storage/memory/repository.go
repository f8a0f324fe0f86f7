package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// Repository keeps topics, articles and runs in process memory. It satisfies
// store.Repository and is safe for concurrent use.
type Repository struct {
	mu       sync.RWMutex
	topics   map[string]topic.Topic
	articles map[string][]topic.Article
	hashes   map[string]map[string]struct{}
	runs     map[string]store.RunRecord
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		topics:   make(map[string]topic.Topic),
		articles: make(map[string][]topic.Article),
		hashes:   make(map[string]map[string]struct{}),
		runs:     make(map[string]store.RunRecord),
	}
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error {
	return nil
}

// GetTopic returns a copy of the stored topic.
func (r *Repository) GetTopic(_ context.Context, id string) (topic.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[id]
	if !ok {
		return topic.Topic{}, fmt.Errorf("topic %s: %w", id, store.ErrNotFound)
	}
	return t.Clone(), nil
}

// SaveTopic inserts a topic.
func (r *Repository) SaveTopic(_ context.Context, t topic.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t.ID]; ok {
		return fmt.Errorf("topic %s already exists", t.ID)
	}
	r.topics[t.ID] = t.Clone()
	return nil
}

// UpdateTopic overwrites a stored topic.
func (r *Repository) UpdateTopic(_ context.Context, t topic.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t.ID]; !ok {
		return fmt.Errorf("topic %s: %w", t.ID, store.ErrNotFound)
	}
	r.topics[t.ID] = t.Clone()
	return nil
}

// DeleteTopic removes a topic together with its articles and runs.
func (r *Repository) DeleteTopic(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[id]; !ok {
		return fmt.Errorf("topic %s: %w", id, store.ErrNotFound)
	}
	delete(r.topics, id)
	delete(r.articles, id)
	delete(r.hashes, id)
	maps.DeleteFunc(r.runs, func(_ string, run store.RunRecord) bool {
		return run.TopicID == id
	})
	return nil
}

// ListTopics returns every topic ordered by creation time.
func (r *Repository) ListTopics(context.Context) ([]topic.Topic, error) {
	r.mu.RLock()
	out := make([]topic.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b topic.Topic) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// GetSources returns the topic's sources in order.
func (r *Repository) GetSources(ctx context.Context, topicID string) ([]topic.Source, error) {
	t, err := r.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	return t.Sources, nil
}

// SaveArticle stores a deduplicated article.
func (r *Repository) SaveArticle(_ context.Context, topicID string, a topic.Article) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen, ok := r.hashes[topicID]
	if !ok {
		seen = make(map[string]struct{})
		r.hashes[topicID] = seen
	}
	if a.ContentHash != "" {
		if _, dup := seen[a.ContentHash]; dup {
			return false, nil
		}
		seen[a.ContentHash] = struct{}{}
	}
	a.TopicID = topicID
	a.Tags = slices.Clone(a.Tags)
	a.Insights = slices.Clone(a.Insights)
	a.Actions = slices.Clone(a.Actions)
	r.articles[topicID] = append(r.articles[topicID], a)
	return true, nil
}

// GetArticles returns articles scraped at or after since, most important first.
func (r *Repository) GetArticles(_ context.Context, topicID string, since time.Time) ([]topic.Article, error) {
	r.mu.RLock()
	var out []topic.Article
	for _, a := range r.articles[topicID] {
		if a.ScrapedAt.Before(since) {
			continue
		}
		out = append(out, a)
	}
	r.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b topic.Article) int {
		return cmp.Compare(b.Scores.Importance, a.Scores.Importance)
	})
	return out, nil
}

// StartRun inserts a running record.
func (r *Repository) StartRun(_ context.Context, run store.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return nil
	}
	if run.Status == "" {
		run.Status = store.RunRunning
	}
	r.runs[run.ID] = run
	return nil
}

// CompleteRun records the terminal state of a run. Unknown runs are inserted.
func (r *Repository) CompleteRun(_ context.Context, run store.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.runs[run.ID]
	if ok && run.StartedAt.IsZero() {
		run.StartedAt = existing.StartedAt
	}
	r.runs[run.ID] = run
	return nil
}

// GetRun loads one run.
func (r *Repository) GetRun(_ context.Context, id string) (store.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return store.RunRecord{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns up to limit runs of a topic, newest first. A limit of
// zero or less returns every run.
func (r *Repository) ListRuns(_ context.Context, topicID string, limit int) ([]store.RunRecord, error) {
	r.mu.RLock()
	var out []store.RunRecord
	for _, run := range r.runs {
		if run.TopicID == topicID {
			out = append(out, run)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b store.RunRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
