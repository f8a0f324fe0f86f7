package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/storage/memory"
	"github.com/JakeFAU/topicwatch/internal/topic"
	"github.com/JakeFAU/topicwatch/internal/workflow"
)

// wednesday is 2026-10-14 10:00 UTC.
var wednesday = time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC)

// TestSetupTopicFillsDefaultsAndArms verifies a topic without a schedule
// gets both cadences at the default times and one armed fire each.
func TestSetupTopicFillsDefaultsAndArms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp, err := h.orch.SetupTopic(context.Background(), SetupRequest{
		Name:     "  AI Chips  ",
		Keywords: []string{"gpu", "GPU", " tpu "},
		Sources:  []topic.Source{{URL: "https://example.com/feed.xml"}},
	})
	require.NoError(t, err)

	require.Equal(t, "AI Chips", tp.Name)
	require.Equal(t, topic.StatusActive, tp.Status)
	require.Equal(t, []string{"gpu", "tpu"}, tp.Keywords)
	require.NotEmpty(t, tp.Sources[0].ID)
	require.Equal(t, "06:00", tp.Schedule.Daily.Time)
	require.Equal(t, "monday", tp.Schedule.Weekly.Day)
	require.Equal(t, "08:00", tp.Schedule.Weekly.Time)

	dailyNext := time.Date(2026, time.October, 15, 6, 0, 0, 0, time.UTC)
	weeklyNext := time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)
	require.NotNil(t, tp.Daily.Next)
	require.True(t, dailyNext.Equal(*tp.Daily.Next))
	require.NotNil(t, tp.Weekly.Next)
	require.True(t, weeklyNext.Equal(*tp.Weekly.Next))

	jobs := h.orch.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, topic.CadenceDaily, jobs[0].Cadence)
	require.Equal(t, JobScheduled, jobs[0].Status)
	require.Equal(t, topic.CadenceWeekly, jobs[1].Cadence)

	created := h.rec.Named(progress.EventTopicCreated)
	require.Len(t, created, 1)
	require.Equal(t, progress.GlobalTopic, created[0].TopicID)
}

// TestSetupTopicValidation verifies bad names, sources and schedules are
// rejected before anything is stored or armed.
func TestSetupTopicValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.SetupTopic(ctx, SetupRequest{Name: "   "})
	require.ErrorIs(t, err, topic.ErrInvalidName)

	_, err = h.orch.SetupTopic(ctx, SetupRequest{Name: "x", Sources: []topic.Source{{URL: "not a url"}}})
	require.ErrorIs(t, err, topic.ErrInvalidSource)

	_, err = h.orch.SetupTopic(ctx, SetupRequest{Name: "x", Schedule: &topic.Schedule{
		Daily: topic.DailyConfig{Enabled: true, Time: "25:00"},
	}})
	require.ErrorIs(t, err, schedule.ErrInvalidClock)

	_, err = h.orch.SetupTopic(ctx, SetupRequest{Name: "x", Schedule: &topic.Schedule{
		Daily: topic.DailyConfig{Enabled: true, Timezone: "Mars/Olympus"},
	}})
	require.ErrorIs(t, err, schedule.ErrInvalidTimezone)

	require.Empty(t, h.orch.Topics())
	require.Empty(t, h.orch.Jobs())
}

// TestSetupPausedTopicIsNotArmed verifies a topic created paused has no fires.
func TestSetupPausedTopicIsNotArmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp, err := h.orch.SetupTopic(context.Background(), SetupRequest{Name: "Quiet", Paused: true})
	require.NoError(t, err)
	require.Equal(t, topic.StatusPaused, tp.Status)
	require.Empty(t, h.orch.Jobs())
}

// TestPauseResumeIdempotent verifies pause disarms, resume re-arms, and
// repeating either is a no-op.
func TestPauseResumeIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	tp := h.setup(t, "Rates")

	paused, err := h.orch.Pause(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusPaused, paused.Status)
	require.Nil(t, paused.Daily.Next)
	require.Nil(t, paused.Weekly.Next)
	require.Empty(t, h.orch.Jobs())

	_, err = h.orch.Pause(ctx, tp.ID)
	require.NoError(t, err)
	require.Len(t, h.rec.Named(progress.EventTopicPaused), 1)

	resumed, err := h.orch.Resume(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusActive, resumed.Status)
	require.NotNil(t, resumed.Daily.Next)
	require.Len(t, h.orch.Jobs(), 2)

	_, err = h.orch.Resume(ctx, tp.ID)
	require.NoError(t, err)
	require.Len(t, h.rec.Named(progress.EventTopicResumed), 1)
	require.Len(t, h.orch.Jobs(), 2)
}

// TestArchiveIsTerminal verifies an archived topic loses its fires, leaves
// the live registry and cannot be resumed.
func TestArchiveIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	tp := h.setup(t, "Rates")

	archived, err := h.orch.Archive(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusArchived, archived.Status)
	require.Empty(t, h.orch.Jobs())
	require.Empty(t, h.orch.Topics())

	_, err = h.orch.Resume(ctx, tp.ID)
	require.ErrorIs(t, err, topic.ErrArchived)
	_, err = h.orch.TriggerNow(ctx, tp.ID, topic.CadenceDaily)
	require.ErrorIs(t, err, topic.ErrArchived)
	_, err = h.orch.Archive(ctx, "missing")
	require.ErrorIs(t, err, topic.ErrNotFound)

	stored, err := h.repo.GetTopic(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusArchived, stored.Status)
	require.Len(t, h.rec.Named(progress.EventTopicArchived), 1)
}

// TestUpdateScheduleRearms verifies old fires are replaced by fires for the
// new schedule and a disabled cadence is left unarmed.
func TestUpdateScheduleRearms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	before := h.orch.Jobs()
	require.Len(t, before, 2)

	updated, err := h.orch.UpdateSchedule(context.Background(), tp.ID, topic.Schedule{
		Daily:  topic.DailyConfig{Enabled: true, Time: "07:30"},
		Weekly: topic.WeeklyConfig{Enabled: false},
	})
	require.NoError(t, err)

	jobs := h.orch.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, topic.CadenceDaily, jobs[0].Cadence)
	require.NotEqual(t, before[0].ID, jobs[0].ID)
	require.True(t, time.Date(2026, time.October, 15, 7, 30, 0, 0, time.UTC).Equal(jobs[0].FireAt))
	require.Nil(t, updated.Weekly.Next)
	require.Len(t, h.rec.Named(progress.EventTopicUpdated), 1)

	_, err = h.orch.UpdateSchedule(context.Background(), tp.ID, topic.Schedule{
		Daily: topic.DailyConfig{Enabled: true, Time: "7pm"},
	})
	require.ErrorIs(t, err, schedule.ErrInvalidClock)
	require.Len(t, h.orch.Jobs(), 1)
}

// TestTriggerNowKeepsArmedFire verifies a manual run records its last run
// time without moving the armed fire.
func TestTriggerNowKeepsArmedFire(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	before, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)

	res, err := h.orch.TriggerDailyScan(context.Background(), tp.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, h.daily.callCount())

	after, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)
	require.Equal(t, before, after)

	got, err := h.orch.Topic(tp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Daily.Last)
	require.True(t, wednesday.Equal(*got.Daily.Last))
	require.True(t, before.At.Equal(*got.Daily.Next))

	started := h.rec.Named(progress.EventRunStarted)
	finished := h.rec.Named(progress.EventRunFinished)
	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	info, ok := finished[0].Data.(progress.RunInfo)
	require.True(t, ok)
	require.Equal(t, "success", info.Status)
	require.Equal(t, TriggerManual, info.Trigger)
	require.Equal(t, tp.ID, finished[0].TopicID)
}

// TestTriggerWeeklyDigest verifies the weekly runner serves weekly triggers.
func TestTriggerWeeklyDigest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")

	res, err := h.orch.TriggerWeeklyDigest(context.Background(), tp.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, h.weekly.callCount())
	require.Zero(t, h.daily.callCount())

	_, err = h.orch.TriggerNow(context.Background(), tp.ID, topic.Cadence("hourly"))
	require.ErrorIs(t, err, ErrInvalidCadence)
}

// TestTriggerWhileRunningIsRejected verifies at most one run per topic
// cadence is in flight.
func TestTriggerWhileRunningIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	h.daily.block()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.TriggerNow(context.Background(), tp.ID, topic.CadenceDaily)
		done <- err
	}()
	<-h.daily.started

	_, err := h.orch.TriggerNow(context.Background(), tp.ID, topic.CadenceDaily)
	require.ErrorIs(t, err, ErrRunInProgress)
	require.Equal(t, 1, h.orch.InFlight())

	var running int
	for _, j := range h.orch.Jobs() {
		if j.Status == JobRunning {
			running++
		}
	}
	require.Equal(t, 1, running)

	// The other cadence is independent.
	_, err = h.orch.TriggerNow(context.Background(), tp.ID, topic.CadenceWeekly)
	require.NoError(t, err)

	h.daily.unblock()
	require.NoError(t, <-done)
	require.Zero(t, h.orch.InFlight())
}

// TestScheduledFailureIsLoggedAndRearmed verifies a failed scheduled run
// lands in the failure log and the cadence gets a fresh fire.
func TestScheduledFailureIsLoggedAndRearmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	h.daily.fail("Multi-Source Scraper: boom")

	fire, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)
	h.orch.queue.Cancel(fire.Key())
	h.clock.set(fire.At)

	h.orch.runScheduled(fire)

	failures := h.orch.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, tp.ID, failures[0].TopicID)
	require.Equal(t, fire.JobID, failures[0].JobID)
	require.Equal(t, topic.CadenceDaily, failures[0].Cadence)
	require.Contains(t, failures[0].Message, "boom")

	next, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)
	require.NotEqual(t, fire.JobID, next.JobID)
	require.True(t, fire.At.Add(24*time.Hour).Equal(next.At))

	got, err := h.orch.Topic(tp.ID)
	require.NoError(t, err)
	require.True(t, fire.At.Equal(*got.Daily.Last))

	finished := h.rec.Named(progress.EventRunFinished)
	require.Len(t, finished, 1)
	info := finished[0].Data.(progress.RunInfo)
	require.Equal(t, "failed", info.Status)
	require.Equal(t, TriggerSchedule, info.Trigger)

	health := h.orch.Health(context.Background())
	require.Equal(t, StatusHealthy, health.Status)
	require.Equal(t, 1, health.FailedJobs24h)
	require.Len(t, health.PerTopic, 1)
	require.Equal(t, StatusDegraded, health.PerTopic[0].Status)
}

// TestFireForPausedTopicIsDropped verifies a stale fire does not run a
// paused topic and does not re-arm it.
func TestFireForPausedTopicIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	fire, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)

	_, err := h.orch.Pause(context.Background(), tp.ID)
	require.NoError(t, err)
	h.orch.runScheduled(fire)

	require.Zero(t, h.daily.callCount())
	require.Empty(t, h.orch.Jobs())
}

// TestPauseDuringScheduledRun verifies a run already in flight when its
// topic is paused completes and records its result, and the topic stays
// unarmed afterwards.
func TestPauseDuringScheduledRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	tp := h.setup(t, "Rates")
	h.daily.block()

	fire, ok := h.orch.queue.Lookup(schedule.Key{TopicID: tp.ID, Cadence: topic.CadenceDaily})
	require.True(t, ok)
	h.orch.queue.Cancel(fire.Key())
	h.clock.set(fire.At)

	done := make(chan struct{})
	go func() {
		h.orch.runScheduled(fire)
		close(done)
	}()
	<-h.daily.started

	paused, err := h.orch.Pause(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusPaused, paused.Status)
	require.Equal(t, 1, h.orch.InFlight())

	h.daily.unblock()
	<-done

	require.Equal(t, 1, h.daily.callCount())
	require.Zero(t, h.orch.InFlight())
	require.Empty(t, h.orch.Jobs())

	got, err := h.orch.Topic(tp.ID)
	require.NoError(t, err)
	require.Equal(t, topic.StatusPaused, got.Status)
	require.NotNil(t, got.Daily.Last)
	require.True(t, fire.At.Equal(*got.Daily.Last))
	require.Nil(t, got.Daily.Next)

	finished := h.rec.Named(progress.EventRunFinished)
	require.Len(t, finished, 1)
	require.Equal(t, "success", finished[0].Data.(progress.RunInfo).Status)
}

// TestStartFiresAndRearms drives the wakeup loop: a due fire runs once and
// chains into the next day's fire, and a paused topic stays silent after
// its old fire time passes.
func TestStartFiresAndRearms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	rates := h.setup(t, "Rates")
	chips := h.setup(t, "Chips")
	require.NoError(t, h.orch.Start())

	dailyKey := func(id string) schedule.Key {
		return schedule.Key{TopicID: id, Cadence: topic.CadenceDaily}
	}
	// nudge re-arms an unchanged fire so the loop re-reads the clock.
	nudge := func(id string) {
		f, ok := h.orch.queue.Lookup(dailyKey(id))
		require.True(t, ok)
		h.orch.queue.Arm(f)
	}

	first := time.Date(2026, time.October, 15, 6, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	f, ok := h.orch.queue.Lookup(dailyKey(rates.ID))
	require.True(t, ok)
	require.True(t, first.Equal(f.At))

	h.clock.set(first)
	nudge(rates.ID)

	require.Eventually(t, func() bool {
		if h.daily.ranFor(rates.ID) != 1 || h.daily.ranFor(chips.ID) != 1 {
			return false
		}
		for _, id := range []string{rates.ID, chips.ID} {
			next, ok := h.orch.queue.Lookup(dailyKey(id))
			if !ok || !second.Equal(next.At) {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return h.daily.callCount() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Zero(t, h.weekly.callCount())

	_, err := h.orch.Pause(ctx, rates.ID)
	require.NoError(t, err)
	_, ok = h.orch.queue.Lookup(dailyKey(rates.ID))
	require.False(t, ok)

	h.clock.set(second.Add(time.Minute))
	nudge(chips.ID)

	require.Eventually(t, func() bool { return h.daily.ranFor(chips.ID) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return h.daily.ranFor(rates.ID) > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	got, err := h.orch.Topic(rates.ID)
	require.NoError(t, err)
	require.Nil(t, got.Daily.Next)
	require.True(t, first.Equal(*got.Daily.Last))
}

// TestHealthThresholds verifies the down and degraded rules.
func TestHealthThresholds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, StatusDown, h.orch.Health(ctx).Status)

	tp := h.setup(t, "Rates")
	require.Equal(t, StatusHealthy, h.orch.Health(ctx).Status)

	// One stale failure outside the window plus five recent ones.
	h.orch.failures.record(FailureLogEntry{TopicID: tp.ID, At: wednesday.Add(-25 * time.Hour), Message: "old"})
	for i := 0; i < 5; i++ {
		h.orch.failures.record(FailureLogEntry{TopicID: tp.ID, At: wednesday.Add(-time.Duration(i) * time.Hour), Message: "recent"})
	}
	health := h.orch.Health(ctx)
	require.Equal(t, StatusHealthy, health.Status)
	require.Equal(t, 5, health.FailedJobs24h)

	h.orch.failures.record(FailureLogEntry{TopicID: tp.ID, At: wednesday, Message: "sixth"})
	health = h.orch.Health(ctx)
	require.Equal(t, StatusDegraded, health.Status)
	require.Equal(t, 6, health.FailedJobs24h)
	require.Equal(t, 1, health.ActiveTopics)
	require.Equal(t, 2, health.ArmedFires)

	_, err := h.orch.Archive(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDown, h.orch.Health(ctx).Status)
}

// TestHealthReportsCollaborators verifies probes are evaluated per check.
func TestHealthReportsCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Dependencies) {
		d.Probes = map[string]Probe{
			"model": func(context.Context) bool { return true },
			"email": func(context.Context) bool { return false },
		}
	})
	health := h.orch.Health(context.Background())
	require.Equal(t, map[string]bool{"model": true, "email": false}, health.Collaborators)
}

// TestPausedTopicsCountInHealth verifies paused topics keep the service up.
func TestPausedTopicsCountInHealth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	_, err := h.orch.Pause(context.Background(), tp.ID)
	require.NoError(t, err)

	health := h.orch.Health(context.Background())
	require.Equal(t, StatusHealthy, health.Status)
	require.Zero(t, health.ActiveTopics)
	require.Equal(t, 1, health.PausedTopics)
	require.True(t, health.PerTopic[0].Paused)
}

// TestUpdateTopic verifies content changes are normalized and validated.
func TestUpdateTopic(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	name := " Central Banks "
	keywords := []string{"fed", "", "ECB"}

	updated, err := h.orch.UpdateTopic(context.Background(), tp.ID, TopicPatch{Name: &name, Keywords: &keywords})
	require.NoError(t, err)
	require.Equal(t, "Central Banks", updated.Name)
	require.Equal(t, []string{"fed", "ECB"}, updated.Keywords)

	empty := ""
	_, err = h.orch.UpdateTopic(context.Background(), tp.ID, TopicPatch{Name: &empty})
	require.ErrorIs(t, err, topic.ErrInvalidName)
}

// TestSeedSkipsExistingTopics verifies seeding is repeatable.
func TestSeedSkipsExistingTopics(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seeds := []topic.SeedTopic{
		{Name: "Rates", Keywords: []string{"fed"}, DailyTime: "05:15", Timezone: "America/New_York"},
		{Name: "Chips", Paused: true},
	}
	created, err := h.orch.Seed(context.Background(), seeds)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	created, err = h.orch.Seed(context.Background(), seeds)
	require.NoError(t, err)
	require.Zero(t, created)

	rates, ok := h.orch.registry.FindByName("rates")
	require.True(t, ok)
	require.Equal(t, "05:15", rates.Schedule.Daily.Time)
	require.Equal(t, "America/New_York", rates.Schedule.Daily.Timezone)
	require.Len(t, h.orch.Jobs(), 2)
}

// TestShutdownRejectsNewRuns verifies no run starts once shutdown begins.
func TestShutdownRejectsNewRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tp := h.setup(t, "Rates")
	require.NoError(t, h.orch.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	_, err := h.orch.TriggerNow(context.Background(), tp.ID, topic.CadenceDaily)
	require.ErrorIs(t, err, ErrShuttingDown)
	require.ErrorIs(t, h.orch.Start(), ErrShuttingDown)
}

// TestRunsWithoutStore verifies run history reports a missing store.
func TestRunsWithoutStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Dependencies) { d.Runs = nil })
	_, err := h.orch.Runs(context.Background(), "t", 10)
	require.ErrorIs(t, err, ErrNoRunStore)
	_, err = h.orch.Run(context.Background(), "r")
	require.ErrorIs(t, err, ErrNoRunStore)
}

// TestParseCadence verifies cadence names are case-insensitive.
func TestParseCadence(t *testing.T) {
	t.Parallel()

	c, err := ParseCadence(" Weekly ")
	require.NoError(t, err)
	require.Equal(t, topic.CadenceWeekly, c)

	_, err = ParseCadence("monthly")
	require.ErrorIs(t, err, ErrInvalidCadence)
}

type harness struct {
	orch   *Orchestrator
	repo   *memory.Repository
	rec    *progress.Recorder
	clock  *fakeClock
	daily  *fakeDaily
	weekly *fakeWeekly
}

func newHarness(t *testing.T, opts ...func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		repo:   memory.NewRepository(),
		rec:    progress.NewRecorder(),
		clock:  &fakeClock{now: wednesday},
		daily:  &fakeDaily{},
		weekly: &fakeWeekly{},
	}
	deps := Dependencies{
		Registry: topic.NewRegistry(h.repo, h.clock.Now, nil),
		Daily:    h.daily,
		Weekly:   h.weekly,
		Emitter:  h.rec,
		IDs:      &seqIDs{},
		Runs:     h.repo,
		Now:      h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orch, err := New(Config{Defaults: schedule.Defaults{Timezone: "UTC"}}, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		h.daily.unblock()
		_ = orch.Shutdown(context.Background())
	})
	h.orch = orch
	return h
}

func (h *harness) setup(t *testing.T, name string) topic.Topic {
	t.Helper()
	tp, err := h.orch.SetupTopic(context.Background(), SetupRequest{Name: name})
	require.NoError(t, err)
	return tp
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fakeDaily struct {
	mu      sync.Mutex
	calls   int
	byTopic map[string]int
	errMsg  string
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeDaily) block() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	f.mu.Unlock()
}

func (f *fakeDaily) unblock() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		f.once.Do(func() { close(gate) })
	}
}

func (f *fakeDaily) fail(msg string) {
	f.mu.Lock()
	f.errMsg = msg
	f.mu.Unlock()
}

func (f *fakeDaily) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDaily) ranFor(topicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTopic[topicID]
}

func (f *fakeDaily) Run(ctx context.Context, scope progress.Scope, t topic.Topic) workflow.DailyResult {
	f.mu.Lock()
	f.calls++
	if f.byTopic == nil {
		f.byTopic = make(map[string]int)
	}
	f.byTopic[t.ID]++
	gate, started, msg := f.gate, f.started, f.errMsg
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return workflow.DailyResult{
		Success: msg == "",
		Error:   msg,
		RunID:   scope.RunID(),
		TopicID: t.ID,
	}
}

func (f *fakeDaily) Nodes() []workflow.NodeStatus {
	return []workflow.NodeStatus{{ID: workflow.NodeDailyInit, Name: "Initialize Session", Status: workflow.StatusPending}}
}

type fakeWeekly struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeWeekly) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeWeekly) Run(_ context.Context, scope progress.Scope, t topic.Topic) workflow.WeeklyResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return workflow.WeeklyResult{Success: true, RunID: scope.RunID(), TopicID: t.ID, EmailSkipped: true}
}

func (f *fakeWeekly) Nodes() []workflow.NodeStatus {
	return nil
}
