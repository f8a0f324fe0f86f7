package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
	"github.com/JakeFAU/topicwatch/internal/workflow"
)

var (
	// ErrRunInProgress is returned when a topic cadence is already running.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrInvalidCadence signals an unknown cadence name.
	ErrInvalidCadence = errors.New("invalid cadence")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator shutting down")
	// ErrNoRunStore is returned by run queries when no run store is wired.
	ErrNoRunStore = errors.New("run history not configured")
)

// Triggers recorded on runs.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// DailyRunner runs the daily scan.
type DailyRunner interface {
	Run(ctx context.Context, scope progress.Scope, t topic.Topic) workflow.DailyResult
	Nodes() []workflow.NodeStatus
}

// WeeklyRunner runs the weekly digest.
type WeeklyRunner interface {
	Run(ctx context.Context, scope progress.Scope, t topic.Topic) workflow.WeeklyResult
	Nodes() []workflow.NodeStatus
}

// IDGenerator produces topic, source, job and run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Probe reports whether a collaborator is usable.
type Probe func(ctx context.Context) bool

// Config tunes the orchestrator.
type Config struct {
	Defaults schedule.Defaults
	// FailureWindow is the trailing window health counts failures in.
	FailureWindow time.Duration
	// DegradedAfter is the failure count above which health is degraded.
	DegradedAfter int
}

// Dependencies are the orchestrator's collaborators. Registry, Daily,
// Weekly and IDs are required.
type Dependencies struct {
	Registry *topic.Registry
	Daily    DailyRunner
	Weekly   WeeklyRunner
	Emitter  progress.Emitter
	IDs      IDGenerator
	Runs     store.RunRepository
	Probes   map[string]Probe
	Now      func() time.Time
	Logger   *zap.Logger
}

// Orchestrator owns topic lifecycles, the armed fires of every topic
// cadence and the runs they start.
type Orchestrator struct {
	cfg      Config
	registry *topic.Registry
	queue    *schedule.Queue
	daily    DailyRunner
	weekly   WeeklyRunner
	emitter  progress.Emitter
	ids      IDGenerator
	runs     store.RunRepository
	probes   map[string]Probe
	failures *failureLog
	now      func() time.Time
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// armMu orders arming against lifecycle changes so a finishing run
	// cannot re-arm a topic that was just paused or archived.
	armMu sync.Mutex

	mu       sync.Mutex
	inflight map[schedule.Key]Job
	started  bool
	closed   bool
}

// New builds an Orchestrator. Call Start to begin firing schedules.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Daily == nil || deps.Weekly == nil || deps.IDs == nil {
		return nil, errors.New("orchestrator: registry, workflows and id generator are required")
	}
	if cfg.Defaults.DailyTime == "" {
		cfg.Defaults.DailyTime = "06:00"
	}
	if cfg.Defaults.WeeklyDay == "" {
		cfg.Defaults.WeeklyDay = "monday"
	}
	if cfg.Defaults.WeeklyTime == "" {
		cfg.Defaults.WeeklyTime = "08:00"
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 24 * time.Hour
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 5
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		registry: deps.Registry,
		queue:    schedule.NewQueue(deps.Now),
		daily:    deps.Daily,
		weekly:   deps.Weekly,
		emitter:  deps.Emitter,
		ids:      deps.IDs,
		runs:     deps.Runs,
		probes:   deps.Probes,
		failures: newFailureLog(cfg.FailureWindow),
		now:      deps.Now,
		logger:   deps.Logger.Named("orchestrator"),
		baseCtx:  ctx,
		cancel:   cancel,
		inflight: make(map[schedule.Key]Job),
	}, nil
}

// Start arms every active topic and starts the wakeup loop. It returns
// immediately; Shutdown stops the loop.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.wg.Add(1)
	o.mu.Unlock()

	armed := 0
	o.armMu.Lock()
	for _, t := range o.registry.List() {
		if t.Status == topic.StatusActive {
			armed += o.armAll(t)
		}
	}
	o.armMu.Unlock()
	o.logger.Info("orchestrator started", zap.Int("topics", o.registry.Len()), zap.Int("armed", armed))

	go func() {
		defer o.wg.Done()
		o.queue.Run(o.baseCtx, o.fire)
	}()
	return nil
}

// Shutdown stops firing schedules, cancels in-flight runs and waits for
// them to return or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// fire hands a due fire to its own goroutine; the queue loop must not block.
func (o *Orchestrator) fire(f schedule.Fire) {
	metrics.SetArmedFires(o.queue.Len())
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		o.runScheduled(f)
	}()
}

func (o *Orchestrator) runScheduled(f schedule.Fire) {
	t, err := o.registry.Get(f.TopicID)
	if err != nil {
		o.logger.Info("fire for missing topic dropped", zap.String("topic_id", f.TopicID), zap.Error(err))
		return
	}
	if t.Status != topic.StatusActive || !t.Schedule.Enabled(f.Cadence) {
		return
	}

	_, err = o.execute(o.baseCtx, t, f.Cadence, TriggerSchedule, f.JobID)
	switch {
	case errors.Is(err, ErrRunInProgress):
		o.logger.Warn("scheduled run skipped; previous run still in flight",
			zap.String("topic_id", t.ID),
			zap.String("cadence", string(f.Cadence)),
			zap.String("job_id", f.JobID))
	case err != nil:
		o.logger.Error("scheduled run not started", zap.String("topic_id", t.ID), zap.Error(err))
	}
	if o.baseCtx.Err() != nil {
		return
	}
	o.rearm(t.ID, f.Cadence)
}

// rearm arms the next fire of a cadence from the topic's current state.
func (o *Orchestrator) rearm(topicID string, cadence topic.Cadence) {
	o.armMu.Lock()
	defer o.armMu.Unlock()
	t, err := o.registry.Get(topicID)
	if err != nil {
		return
	}
	o.arm(t, cadence)
}

func (o *Orchestrator) armAll(t topic.Topic) int {
	armed := 0
	for _, c := range topic.Cadences {
		if o.arm(t, c) {
			armed++
		}
	}
	return armed
}

// arm replaces the fire of t's cadence. Inactive topics and disabled
// cadences only have their fire cancelled.
func (o *Orchestrator) arm(t topic.Topic, cadence topic.Cadence) bool {
	key := schedule.Key{TopicID: t.ID, Cadence: cadence}
	defer func() { metrics.SetArmedFires(o.queue.Len()) }()
	if t.Status != topic.StatusActive || !t.Schedule.Enabled(cadence) {
		o.queue.Cancel(key)
		o.registry.ClearNext(t.ID, cadence)
		return false
	}
	next, err := schedule.Next(o.now(), cadence, t.Schedule)
	if err != nil {
		o.logger.Error("cannot compute next run",
			zap.String("topic_id", t.ID),
			zap.String("cadence", string(cadence)),
			zap.Error(err))
		o.queue.Cancel(key)
		return false
	}
	jobID, err := o.ids.NewID()
	if err != nil {
		o.logger.Error("cannot allocate job id", zap.Error(err))
		return false
	}
	o.queue.Arm(schedule.Fire{JobID: jobID, TopicID: t.ID, Cadence: cadence, At: next})
	o.registry.RecordRuns(o.baseCtx, t.ID, cadence, nil, &next)
	o.logger.Debug("armed",
		zap.String("topic_id", t.ID),
		zap.String("cadence", string(cadence)),
		zap.Time("at", next))
	return true
}

func (o *Orchestrator) disarm(topicID string) {
	for _, c := range topic.Cadences {
		o.queue.Cancel(schedule.Key{TopicID: topicID, Cadence: c})
	}
	metrics.SetArmedFires(o.queue.Len())
}

// ParseCadence resolves a cadence name.
func ParseCadence(s string) (topic.Cadence, error) {
	c := topic.Cadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCadence, s)
	}
	return c, nil
}

func (o *Orchestrator) emitTopic(name progress.Name, t topic.Topic) {
	progress.NewScope(o.emitter, progress.GlobalTopic, "", o.now).Emit(name, t)
}
