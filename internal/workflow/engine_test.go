package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/progress"
)

type counterState struct {
	ran []string
}

func recordStep(id string) Step[counterState] {
	return Step[counterState]{
		ID:   id,
		Name: "step " + id,
		Run: func(_ context.Context, s *counterState) (map[string]any, error) {
			s.ran = append(s.ran, id)
			return map[string]any{"ran": len(s.ran)}, nil
		},
	}
}

// TestExecuteHaltsAtFailingStep verifies steps before the failure complete,
// the failing step records its error and later steps stay pending.
func TestExecuteHaltsAtFailingStep(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	steps := []Step[counterState]{
		recordStep("1"),
		recordStep("2"),
		{ID: "3", Name: "step 3", Run: func(context.Context, *counterState) (map[string]any, error) {
			return nil, boom
		}},
		recordStep("4"),
		recordStep("5"),
	}
	rec := progress.NewRecorder()
	engine := NewEngine("test", steps, nil, nil)
	state := &counterState{}

	report := engine.Execute(context.Background(), progress.NewScope(rec, "topic", "run", nil), state)

	require.False(t, report.Success)
	require.Equal(t, "3", report.FailedNode)
	require.Contains(t, report.Error, "boom")
	require.Equal(t, []string{"1", "2"}, state.ran)
	require.Len(t, report.Nodes, 5)
	for i, want := range []Status{StatusCompleted, StatusCompleted, StatusFailed, StatusPending, StatusPending} {
		require.Equal(t, want, report.Nodes[i].Status, "node %d", i+1)
	}
	require.Equal(t, "boom", report.Nodes[2].Error)
	require.NotNil(t, report.Nodes[2].FinishedAt)
	require.Nil(t, report.Nodes[3].StartedAt)
	require.Error(t, report.Err())

	require.Equal(t, []progress.Name{
		progress.EventNodeStarted, progress.EventNodeCompleted,
		progress.EventNodeStarted, progress.EventNodeCompleted,
		progress.EventNodeStarted, progress.EventNodeFailed,
	}, rec.Names())
}

// TestExecuteEveryStepFailurePosition verifies the halt rule for a failure
// at each position of the run.
func TestExecuteEveryStepFailurePosition(t *testing.T) {
	t.Parallel()

	const n = 6
	for k := 0; k < n; k++ {
		steps := make([]Step[counterState], n)
		for i := range steps {
			steps[i] = recordStep(string(rune('a' + i)))
		}
		steps[k].Run = func(context.Context, *counterState) (map[string]any, error) {
			return nil, errors.New("failed here")
		}
		report := NewEngine("test", steps, nil, nil).Execute(context.Background(), progress.Scope{}, &counterState{})

		require.False(t, report.Success)
		for i, node := range report.Nodes {
			switch {
			case i < k:
				require.Equal(t, StatusCompleted, node.Status)
			case i == k:
				require.Equal(t, StatusFailed, node.Status)
				require.NotEmpty(t, node.Error)
			default:
				require.Equal(t, StatusPending, node.Status)
			}
		}
	}
}

// TestExecuteSkippedStepContinues verifies ErrSkipped marks the node skipped
// with its metrics and the run still succeeds.
func TestExecuteSkippedStepContinues(t *testing.T) {
	t.Parallel()

	steps := []Step[counterState]{
		recordStep("1"),
		{ID: "2", Name: "optional", Run: func(context.Context, *counterState) (map[string]any, error) {
			return map[string]any{"skipped": true}, Skip("nothing to do")
		}},
		recordStep("3"),
	}
	rec := progress.NewRecorder()
	state := &counterState{}
	report := NewEngine("test", steps, nil, nil).Execute(context.Background(), progress.NewScope(rec, "t", "r", nil), state)

	require.True(t, report.Success)
	require.NoError(t, report.Err())
	require.Equal(t, []string{"1", "3"}, state.ran)
	node, ok := report.Node("2")
	require.True(t, ok)
	require.Equal(t, StatusSkipped, node.Status)
	require.Equal(t, true, node.Metrics["skipped"])
	require.Empty(t, node.Error)
	require.Len(t, rec.Named(progress.EventNodeSkipped), 1)
}

// TestExecuteRecoversPanics verifies a panicking step fails the run instead
// of crashing the caller.
func TestExecuteRecoversPanics(t *testing.T) {
	t.Parallel()

	steps := []Step[counterState]{
		{ID: "1", Name: "explodes", Run: func(context.Context, *counterState) (map[string]any, error) {
			panic("kaboom")
		}},
		recordStep("2"),
	}
	report := NewEngine("test", steps, nil, nil).Execute(context.Background(), progress.Scope{}, &counterState{})

	require.False(t, report.Success)
	require.Contains(t, report.Nodes[0].Error, "kaboom")
	require.Equal(t, StatusPending, report.Nodes[1].Status)
}

// TestExecuteCancelledContext verifies a cancelled run fails at the first
// step without running it.
func TestExecuteCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := &counterState{}
	report := NewEngine("test", []Step[counterState]{recordStep("1")}, nil, nil).Execute(ctx, progress.Scope{}, state)

	require.False(t, report.Success)
	require.Empty(t, state.ran)
	require.Equal(t, StatusFailed, report.Nodes[0].Status)
	require.Contains(t, report.Nodes[0].Error, context.Canceled.Error())
}

// TestExecuteRunsAreIndependent verifies concurrent runs of one engine each
// get their own node records and state.
func TestExecuteRunsAreIndependent(t *testing.T) {
	t.Parallel()

	engine := NewEngine("test", []Step[counterState]{recordStep("1"), recordStep("2")}, nil, nil)

	var wg sync.WaitGroup
	reports := make([]Report, 8)
	states := make([]*counterState, 8)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i] = &counterState{}
			reports[i] = engine.Execute(context.Background(), progress.Scope{}, states[i])
		}()
	}
	wg.Wait()

	for i, report := range reports {
		require.True(t, report.Success)
		require.Equal(t, []string{"1", "2"}, states[i].ran)
		require.Equal(t, 2, report.Nodes[1].Metrics["ran"])
	}
	require.Equal(t, StatusPending, engine.Steps()[0].Status)
}
