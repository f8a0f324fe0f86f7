package orchestrator

import (
	"context"
	"time"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// HealthStatus summarises the service state.
type HealthStatus string

// Health statuses.
const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusDown     HealthStatus = "down"
)

// TopicHealth is the per-topic part of a Health report.
type TopicHealth struct {
	TopicID     string         `json:"topicId"`
	Name        string         `json:"name"`
	Status      HealthStatus   `json:"status"`
	Paused      bool           `json:"paused"`
	Daily       topic.RunTimes `json:"daily"`
	Weekly      topic.RunTimes `json:"weekly"`
	Failures24h int            `json:"failures24h"`
}

// Health is the aggregated service state.
type Health struct {
	Status        HealthStatus    `json:"status"`
	ActiveTopics  int             `json:"activeTopics"`
	PausedTopics  int             `json:"pausedTopics"`
	InFlightJobs  int             `json:"inFlightJobs"`
	FailedJobs24h int             `json:"failedJobs24h"`
	ArmedFires    int             `json:"armedFires"`
	PerTopic      []TopicHealth   `json:"perTopicHealth"`
	Collaborators map[string]bool `json:"collaborators,omitempty"`
	CheckedAt     time.Time       `json:"checkedAt"`
}

// Health reports the service state. Zero live topics with nothing in
// flight is down; more failures in the window than DegradedAfter is
// degraded.
func (o *Orchestrator) Health(ctx context.Context) Health {
	now := o.now()
	failures := o.failures.recent(now)
	perTopicFailures := make(map[string]int, len(failures))
	for _, f := range failures {
		perTopicFailures[f.TopicID]++
	}

	topics := o.registry.List()
	h := Health{
		InFlightJobs:  o.InFlight(),
		FailedJobs24h: len(failures),
		ArmedFires:    o.queue.Len(),
		PerTopic:      make([]TopicHealth, 0, len(topics)),
		CheckedAt:     now,
	}
	for _, t := range topics {
		th := TopicHealth{
			TopicID:     t.ID,
			Name:        t.Name,
			Status:      StatusHealthy,
			Daily:       t.Daily,
			Weekly:      t.Weekly,
			Failures24h: perTopicFailures[t.ID],
		}
		switch t.Status {
		case topic.StatusActive:
			h.ActiveTopics++
		case topic.StatusPaused:
			h.PausedTopics++
			th.Paused = true
		}
		if th.Failures24h > 0 {
			th.Status = StatusDegraded
		}
		h.PerTopic = append(h.PerTopic, th)
	}

	switch {
	case len(topics) == 0 && h.InFlightJobs == 0:
		h.Status = StatusDown
	case h.FailedJobs24h > o.cfg.DegradedAfter:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}

	if len(o.probes) > 0 {
		h.Collaborators = make(map[string]bool, len(o.probes))
		for name, probe := range o.probes {
			h.Collaborators[name] = probe(ctx)
		}
	}
	return h
}
