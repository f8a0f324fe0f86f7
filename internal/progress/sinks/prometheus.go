package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/topicwatch/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// the collectors for runs started/completed/in flight, per-source outcomes,
// analyzed articles and raw event counts.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsInFlight  prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	sourceResults    *prometheus.CounterVec
	articlesAnalyzed prometheus.Counter
	events           *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicwatch_runs_started_total",
			Help: "Workflow runs started, partitioned by cadence.",
		}, []string{"cadence"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicwatch_runs_completed_total",
			Help: "Workflow runs completed, partitioned by cadence and result.",
		}, []string{"cadence", "result"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topicwatch_runs_in_flight",
			Help: "Current number of running workflow runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "topicwatch_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"cadence", "result"}),
		sourceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicwatch_source_results_total",
			Help: "Finished source scrapes partitioned by result.",
		}, []string{"result"}),
		articlesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topicwatch_articles_analyzed_total",
			Help: "Articles that completed analysis.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topicwatch_progress_events_total",
			Help: "Progress events observed, partitioned by event name.",
		}, []string{"event"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsInFlight,
		s.runDuration,
		s.sourceResults,
		s.articlesAnalyzed,
		s.events,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Name)).Inc()
	switch evt.Name {
	case progress.EventRunStarted, progress.EventRunFinished:
		s.handleRunEvent(evt)
	case progress.EventSourceStatus:
		s.handleSourceEvent(evt)
	case progress.EventArticleAnalyzed:
		s.articlesAnalyzed.Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	info, ok := runInfo(evt.Data)
	if !ok {
		return
	}
	cadence := info.Cadence
	if cadence == "" {
		cadence = "unknown"
	}
	if evt.Name == progress.EventRunStarted {
		s.runsStarted.WithLabelValues(cadence).Inc()
		if s.tracker.start(info.RunID) {
			s.runsInFlight.Inc()
		}
		return
	}
	result := info.Status
	if result == "" {
		result = "unknown"
	}
	s.runsCompleted.WithLabelValues(cadence, result).Inc()
	if d := info.Duration(); d > 0 {
		s.runDuration.WithLabelValues(cadence, result).Observe(d.Seconds())
	}
	if s.tracker.complete(info.RunID) {
		s.runsInFlight.Dec()
	}
}

func (s *PrometheusSink) handleSourceEvent(evt progress.Event) {
	status, ok := evt.Data.(progress.SourceStatus)
	if !ok || status.State == progress.SourceActive {
		return
	}
	result := status.Result
	if result == "" {
		result = string(status.State)
	}
	s.sourceResults.WithLabelValues(result).Inc()
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
