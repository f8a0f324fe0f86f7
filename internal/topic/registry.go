package topic

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists topics on behalf of the Registry.
type Store interface {
	SaveTopic(ctx context.Context, t Topic) error
	UpdateTopic(ctx context.Context, t Topic) error
	ListTopics(ctx context.Context) ([]Topic, error)
}

// Registry is the authoritative catalogue of live topics. Archived topics
// leave the catalogue but remain in the store.
type Registry struct {
	mu       sync.RWMutex
	topics   map[string]Topic
	archived map[string]struct{}
	store    Store
	now      func() time.Time
	logger   *zap.Logger
}

// NewRegistry builds a Registry. A nil store keeps topics in memory only.
func NewRegistry(store Store, now func() time.Time, logger *zap.Logger) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		topics:   make(map[string]Topic),
		archived: make(map[string]struct{}),
		store:    store,
		now:      now,
		logger:   logger.Named("registry"),
	}
}

// Load replaces the in-memory catalogue with the store's contents.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	topics, err := r.store.ListTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("load topics: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = make(map[string]Topic, len(topics))
	r.archived = make(map[string]struct{})
	for _, t := range topics {
		if t.Status == StatusArchived {
			r.archived[t.ID] = struct{}{}
			continue
		}
		r.topics[t.ID] = t.Clone()
	}
	return len(r.topics), nil
}

// Create adds a new topic and persists it.
func (r *Registry) Create(ctx context.Context, t Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	if _, ok := r.archived[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	if r.store != nil {
		if err := r.store.SaveTopic(ctx, t); err != nil {
			return fmt.Errorf("save topic: %w", err)
		}
	}
	r.topics[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of the topic.
func (r *Registry) Get(id string) (Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id string) (Topic, error) {
	t, ok := r.topics[id]
	if ok {
		return t.Clone(), nil
	}
	if _, gone := r.archived[id]; gone {
		return Topic{}, fmt.Errorf("%w: %s", ErrArchived, id)
	}
	return Topic{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// FindByName returns the live topic with the given name, ignoring case.
func (r *Registry) FindByName(name string) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.topics {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return t.Clone(), true
		}
	}
	return Topic{}, false
}

// List returns copies of all live topics ordered by creation.
func (r *Registry) List() []Topic {
	r.mu.RLock()
	out := make([]Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Topic) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len reports the number of live topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Update applies fn to a copy of the topic, persists the result, and only
// then commits it. fn errors abort the update untouched.
func (r *Registry) Update(ctx context.Context, id string, fn func(*Topic) error) (Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.getLocked(id)
	if err != nil {
		return Topic{}, err
	}
	if err := fn(&current); err != nil {
		return Topic{}, err
	}
	current.UpdatedAt = r.now()
	if r.store != nil {
		if err := r.store.UpdateTopic(ctx, current); err != nil {
			return Topic{}, fmt.Errorf("update topic: %w", err)
		}
	}
	r.topics[id] = current.Clone()
	return current, nil
}

// RecordRuns sets the last and/or next run time of a cadence. The change is
// committed in memory even when persisting it fails.
func (r *Registry) RecordRuns(ctx context.Context, id string, cadence Cadence, last, next *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.topics[id]
	if !ok {
		return
	}
	current = current.Clone()
	runs := current.Runs(cadence)
	if last != nil {
		l := *last
		runs.Last = &l
	}
	if next != nil {
		n := *next
		runs.Next = &n
	}
	r.topics[id] = current
	if r.store == nil {
		return
	}
	if err := r.store.UpdateTopic(ctx, current); err != nil {
		r.logger.Warn("persist run times failed",
			zap.String("topic_id", id),
			zap.String("cadence", string(cadence)),
			zap.Error(err),
		)
	}
}

// ClearNext forgets the next run time of a cadence, e.g. after pausing.
func (r *Registry) ClearNext(id string, cadence Cadence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.topics[id]
	if !ok {
		return
	}
	current = current.Clone()
	current.Runs(cadence).Next = nil
	r.topics[id] = current
}

// Archive marks the topic archived in the store and drops it from the
// live catalogue.
func (r *Registry) Archive(ctx context.Context, id string) (Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.getLocked(id)
	if err != nil {
		return Topic{}, err
	}
	current.Status = StatusArchived
	current.UpdatedAt = r.now()
	current.Daily.Next = nil
	current.Weekly.Next = nil
	if r.store != nil {
		if err := r.store.UpdateTopic(ctx, current); err != nil {
			return Topic{}, fmt.Errorf("archive topic: %w", err)
		}
	}
	delete(r.topics, id)
	r.archived[id] = struct{}{}
	return current, nil
}
