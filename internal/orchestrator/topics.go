package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// SetupRequest describes a new topic. A nil Schedule enables both cadences
// with the configured defaults.
type SetupRequest struct {
	Name     string          `json:"name"`
	Keywords []string        `json:"keywords"`
	Sources  []topic.Source  `json:"sources"`
	Schedule *topic.Schedule `json:"schedule,omitempty"`
	Paused   bool            `json:"paused,omitempty"`
}

// TopicPatch changes a topic's content. Nil fields are left alone.
type TopicPatch struct {
	Name     *string         `json:"name,omitempty"`
	Keywords *[]string       `json:"keywords,omitempty"`
	Sources  *[]topic.Source `json:"sources,omitempty"`
}

// SetupTopic validates req, fills schedule defaults, persists the topic and
// arms its fires when it is active.
func (o *Orchestrator) SetupTopic(ctx context.Context, req SetupRequest) (topic.Topic, error) {
	name, err := topic.NormalizeName(req.Name)
	if err != nil {
		return topic.Topic{}, err
	}
	sources, err := o.prepareSources(req.Sources)
	if err != nil {
		return topic.Topic{}, err
	}
	sched := topic.Schedule{
		Daily:  topic.DailyConfig{Enabled: true},
		Weekly: topic.WeeklyConfig{Enabled: true},
	}
	if req.Schedule != nil {
		sched = *req.Schedule
	}
	sched = o.cfg.Defaults.Apply(sched)
	if err := schedule.Validate(sched); err != nil {
		return topic.Topic{}, err
	}
	id, err := o.ids.NewID()
	if err != nil {
		return topic.Topic{}, fmt.Errorf("allocate topic id: %w", err)
	}

	now := o.now()
	t := topic.Topic{
		ID:        id,
		Name:      name,
		Status:    topic.StatusActive,
		Keywords:  topic.NormalizeKeywords(req.Keywords),
		Sources:   sources,
		Schedule:  sched,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Paused {
		t.Status = topic.StatusPaused
	}
	o.armMu.Lock()
	err = o.registry.Create(ctx, t)
	if err == nil && t.Status == topic.StatusActive {
		o.armAll(t)
	}
	o.armMu.Unlock()
	if err != nil {
		return topic.Topic{}, err
	}
	t, _ = o.registry.Get(id)
	o.logger.Info("topic created",
		zap.String("topic_id", t.ID),
		zap.String("name", t.Name),
		zap.Int("sources", len(t.Sources)))
	o.emitTopic(progress.EventTopicCreated, t)
	return t, nil
}

// Topic returns a live topic.
func (o *Orchestrator) Topic(id string) (topic.Topic, error) {
	return o.registry.Get(id)
}

// Topics lists live topics.
func (o *Orchestrator) Topics() []topic.Topic {
	return o.registry.List()
}

// Pause stops a topic's schedules. Pausing a paused topic is a no-op.
func (o *Orchestrator) Pause(ctx context.Context, id string) (topic.Topic, error) {
	current, err := o.registry.Get(id)
	if err != nil {
		return topic.Topic{}, err
	}
	if current.Status == topic.StatusPaused {
		return current, nil
	}
	o.armMu.Lock()
	t, err := o.registry.Update(ctx, id, func(t *topic.Topic) error {
		t.Status = topic.StatusPaused
		t.Daily.Next = nil
		t.Weekly.Next = nil
		return nil
	})
	if err == nil {
		o.disarm(id)
	}
	o.armMu.Unlock()
	if err != nil {
		return topic.Topic{}, err
	}
	o.logger.Info("topic paused", zap.String("topic_id", id))
	o.emitTopic(progress.EventTopicPaused, t)
	return t, nil
}

// Resume reactivates a paused topic and re-arms its schedules. Resuming an
// active topic is a no-op; archived topics cannot be resumed.
func (o *Orchestrator) Resume(ctx context.Context, id string) (topic.Topic, error) {
	current, err := o.registry.Get(id)
	if err != nil {
		return topic.Topic{}, err
	}
	if current.Status == topic.StatusActive {
		return current, nil
	}
	o.armMu.Lock()
	t, err := o.registry.Update(ctx, id, func(t *topic.Topic) error {
		t.Status = topic.StatusActive
		return nil
	})
	if err == nil {
		o.armAll(t)
	}
	o.armMu.Unlock()
	if err != nil {
		return topic.Topic{}, err
	}
	t, _ = o.registry.Get(id)
	o.logger.Info("topic resumed", zap.String("topic_id", id))
	o.emitTopic(progress.EventTopicResumed, t)
	return t, nil
}

// Archive cancels a topic's schedules and removes it from the live
// registry. The stored record is kept with status archived.
func (o *Orchestrator) Archive(ctx context.Context, id string) (topic.Topic, error) {
	if _, err := o.registry.Get(id); err != nil {
		return topic.Topic{}, err
	}
	o.armMu.Lock()
	t, err := o.registry.Archive(ctx, id)
	if err == nil {
		o.disarm(id)
	}
	o.armMu.Unlock()
	if err != nil {
		return topic.Topic{}, err
	}
	o.logger.Info("topic archived", zap.String("topic_id", id))
	o.emitTopic(progress.EventTopicArchived, t)
	return t, nil
}

// UpdateSchedule replaces a topic's schedule. Old fires are cancelled
// before new ones are armed.
func (o *Orchestrator) UpdateSchedule(ctx context.Context, id string, sched topic.Schedule) (topic.Topic, error) {
	sched = o.cfg.Defaults.Apply(sched)
	if err := schedule.Validate(sched); err != nil {
		return topic.Topic{}, err
	}
	o.armMu.Lock()
	t, err := o.registry.Update(ctx, id, func(t *topic.Topic) error {
		t.Schedule = sched
		return nil
	})
	if err == nil {
		o.disarm(id)
		o.armAll(t)
	}
	o.armMu.Unlock()
	if err != nil {
		return topic.Topic{}, err
	}
	t, _ = o.registry.Get(id)
	o.logger.Info("topic schedule updated", zap.String("topic_id", id))
	o.emitTopic(progress.EventTopicUpdated, t)
	return t, nil
}

// UpdateTopic changes a topic's name, keywords or sources.
func (o *Orchestrator) UpdateTopic(ctx context.Context, id string, patch TopicPatch) (topic.Topic, error) {
	var (
		name    string
		sources []topic.Source
		err     error
	)
	if patch.Name != nil {
		if name, err = topic.NormalizeName(*patch.Name); err != nil {
			return topic.Topic{}, err
		}
	}
	if patch.Sources != nil {
		if sources, err = o.prepareSources(*patch.Sources); err != nil {
			return topic.Topic{}, err
		}
	}
	t, err := o.registry.Update(ctx, id, func(t *topic.Topic) error {
		if patch.Name != nil {
			t.Name = name
		}
		if patch.Keywords != nil {
			t.Keywords = topic.NormalizeKeywords(*patch.Keywords)
		}
		if patch.Sources != nil {
			t.Sources = sources
		}
		return nil
	})
	if err != nil {
		return topic.Topic{}, err
	}
	o.emitTopic(progress.EventTopicUpdated, t)
	return t, nil
}

// prepareSources validates sources and assigns ids to the ones without.
func (o *Orchestrator) prepareSources(in []topic.Source) ([]topic.Source, error) {
	sources, err := topic.NormalizeSources(in)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		if strings.TrimSpace(sources[i].ID) != "" {
			continue
		}
		id, err := o.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("allocate source id: %w", err)
		}
		sources[i].ID = id
	}
	return sources, nil
}

// Seed sets up every seed topic whose name is not already live.
func (o *Orchestrator) Seed(ctx context.Context, seeds []topic.SeedTopic) (int, error) {
	created := 0
	for _, s := range seeds {
		if _, exists := o.registry.FindByName(s.Name); exists {
			continue
		}
		sched := topic.Schedule{
			Daily:  topic.DailyConfig{Enabled: true, Time: s.DailyTime, Timezone: s.Timezone},
			Weekly: topic.WeeklyConfig{Enabled: true, Day: s.WeeklyDay, Time: s.WeeklyTime, Timezone: s.Timezone, Recipients: s.Recipients},
		}
		if _, err := o.SetupTopic(ctx, SetupRequest{
			Name:     s.Name,
			Keywords: s.Keywords,
			Sources:  s.Sources,
			Schedule: &sched,
			Paused:   s.Paused,
		}); err != nil {
			return created, fmt.Errorf("seed topic %q: %w", s.Name, err)
		}
		created++
	}
	return created, nil
}
