package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
	"github.com/JakeFAU/topicwatch/internal/workflow"
)

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

// Job statuses.
const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one armed or running cycle of a topic cadence.
type Job struct {
	ID      string        `json:"id"`
	TopicID string        `json:"topicId"`
	Cadence topic.Cadence `json:"cadence"`
	FireAt  time.Time     `json:"fireAt"`
	Status  JobStatus     `json:"status"`
	Trigger string        `json:"trigger,omitempty"`
	RunID   string        `json:"runId,omitempty"`
}

// Outcome is the result of one executed run. Exactly one of Daily and
// Weekly is set.
type Outcome struct {
	Cadence topic.Cadence          `json:"cadence"`
	RunID   string                 `json:"runId"`
	JobID   string                 `json:"jobId"`
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Daily   *workflow.DailyResult  `json:"daily,omitempty"`
	Weekly  *workflow.WeeklyResult `json:"weekly,omitempty"`
}

// TriggerNow runs a topic cadence immediately. The armed fire time is left
// untouched; a run already in flight for the cadence yields ErrRunInProgress.
func (o *Orchestrator) TriggerNow(ctx context.Context, id string, cadence topic.Cadence) (Outcome, error) {
	if !cadence.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidCadence, cadence)
	}
	t, err := o.registry.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	jobID, err := o.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("allocate job id: %w", err)
	}

	// Manual runs end with the request or with Shutdown, whichever is first.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.baseCtx, cancel)
	defer stop()

	return o.execute(runCtx, t, cadence, TriggerManual, jobID)
}

// TriggerDailyScan runs the daily scan of a topic now.
func (o *Orchestrator) TriggerDailyScan(ctx context.Context, id string) (workflow.DailyResult, error) {
	out, err := o.TriggerNow(ctx, id, topic.CadenceDaily)
	if err != nil {
		return workflow.DailyResult{}, err
	}
	return *out.Daily, nil
}

// TriggerWeeklyDigest builds and sends the weekly digest of a topic now.
func (o *Orchestrator) TriggerWeeklyDigest(ctx context.Context, id string) (workflow.WeeklyResult, error) {
	out, err := o.TriggerNow(ctx, id, topic.CadenceWeekly)
	if err != nil {
		return workflow.WeeklyResult{}, err
	}
	return *out.Weekly, nil
}

// execute runs one cycle of a topic cadence. Workflow failures are recorded
// in the failure log and reported in the Outcome, never as an error.
func (o *Orchestrator) execute(ctx context.Context, t topic.Topic, cadence topic.Cadence, trigger, jobID string) (Outcome, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("allocate run id: %w", err)
	}
	key := schedule.Key{TopicID: t.ID, Cadence: cadence}
	started := o.now()
	if err := o.begin(key, Job{
		ID:      jobID,
		TopicID: t.ID,
		Cadence: cadence,
		FireAt:  started,
		Status:  JobRunning,
		Trigger: trigger,
		RunID:   runID,
	}); err != nil {
		return Outcome{}, err
	}
	defer o.end(key)

	logger := o.logger.With(
		zap.String("topic_id", t.ID),
		zap.String("cadence", string(cadence)),
		zap.String("run_id", runID),
		zap.String("trigger", trigger))
	scope := progress.NewScope(o.emitter, t.ID, runID, o.now)

	info := progress.RunInfo{
		RunID:     runID,
		JobID:     jobID,
		TopicID:   t.ID,
		TopicName: t.Name,
		Cadence:   string(cadence),
		Trigger:   trigger,
		Status:    string(store.RunRunning),
		StartedAt: started,
	}
	if cadence == topic.CadenceDaily {
		info.Nodes = o.daily.Nodes()
	} else {
		info.Nodes = o.weekly.Nodes()
	}
	scope.Emit(progress.EventRunStarted, info)
	logger.Info("run started")

	out := Outcome{Cadence: cadence, RunID: runID, JobID: jobID}
	switch cadence {
	case topic.CadenceDaily:
		res := o.daily.Run(ctx, scope, t)
		out.Success, out.Error, out.Daily = res.Success, res.Error, &res
		info.Summary, info.Nodes = res.Summary(), res.Nodes
	default:
		res := o.weekly.Run(ctx, scope, t)
		out.Success, out.Error, out.Weekly = res.Success, res.Error, &res
		info.Summary, info.Nodes = res.Summary(), res.Nodes
	}

	finished := o.now()
	info.FinishedAt = &finished
	info.Error = out.Error
	info.Status = string(store.RunSuccess)
	if !out.Success {
		info.Status = string(store.RunFailed)
		o.failures.record(FailureLogEntry{
			JobID:   jobID,
			RunID:   runID,
			TopicID: t.ID,
			Cadence: cadence,
			At:      finished,
			Message: out.Error,
		})
		logger.Warn("run failed", zap.String("error", out.Error), zap.Duration("elapsed", finished.Sub(started)))
	} else {
		logger.Info("run finished", zap.Duration("elapsed", finished.Sub(started)))
	}
	o.registry.RecordRuns(o.baseCtx, t.ID, cadence, &finished, nil)
	scope.Emit(progress.EventRunFinished, info)
	return out, nil
}

// begin marks key in flight. The WaitGroup covers the run so Shutdown waits
// for manual runs as well as scheduled ones.
func (o *Orchestrator) begin(key schedule.Key, job Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	if _, busy := o.inflight[key]; busy {
		return ErrRunInProgress
	}
	o.inflight[key] = job
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) end(key schedule.Key) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
	o.wg.Done()
}

// InFlight reports how many runs are executing.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Jobs lists armed fires and running jobs, soonest first.
func (o *Orchestrator) Jobs() []Job {
	pending := o.queue.Pending()
	jobs := make([]Job, 0, len(pending))
	for _, f := range pending {
		jobs = append(jobs, Job{
			ID:      f.JobID,
			TopicID: f.TopicID,
			Cadence: f.Cadence,
			FireAt:  f.At,
			Status:  JobScheduled,
			Trigger: TriggerSchedule,
		})
	}
	o.mu.Lock()
	for _, j := range o.inflight {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()
	slices.SortStableFunc(jobs, func(a, b Job) int {
		return cmp.Or(a.FireAt.Compare(b.FireAt), cmp.Compare(a.ID, b.ID))
	})
	return jobs
}

// Failures returns the failed runs inside the failure window, oldest first.
func (o *Orchestrator) Failures() []FailureLogEntry {
	return o.failures.recent(o.now())
}

// Runs lists a topic's recorded runs, newest first.
func (o *Orchestrator) Runs(ctx context.Context, topicID string, limit int) ([]store.RunRecord, error) {
	if o.runs == nil {
		return nil, ErrNoRunStore
	}
	return o.runs.ListRuns(ctx, topicID, limit)
}

// Run loads one recorded run.
func (o *Orchestrator) Run(ctx context.Context, runID string) (store.RunRecord, error) {
	if o.runs == nil {
		return store.RunRecord{}, ErrNoRunStore
	}
	return o.runs.GetRun(ctx, runID)
}
