package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/progress"
)

const tracerName = "github.com/JakeFAU/topicwatch/internal/workflow"

// Status is a step's lifecycle state.
type Status string

// Step states. Steps start pending, move to running, and end completed,
// failed, or skipped.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ErrSkipped marks a step that deliberately did nothing. A step returning an
// error that wraps ErrSkipped is recorded as skipped and the run continues.
var ErrSkipped = errors.New("step skipped")

// Skip returns an ErrSkipped error carrying reason.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// NodeStatus is the record of one step within a run.
type NodeStatus struct {
	ID         string         `json:"nodeId"`
	Name       string         `json:"nodeName"`
	Status     Status         `json:"status"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"completedAt,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// StepFunc does the work of one step against the run state and returns the
// metrics recorded on its node.
type StepFunc[C any] func(ctx context.Context, state *C) (map[string]any, error)

// Step is one named unit of an ordered workflow.
type Step[C any] struct {
	ID   string
	Name string
	Run  StepFunc[C]
}

// Report is the outcome of Execute.
type Report struct {
	Success    bool         `json:"success"`
	Nodes      []NodeStatus `json:"nodes"`
	FailedNode string       `json:"failedNode,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Err returns the failure as an error, or nil for a successful run.
func (r Report) Err() error {
	if r.Success {
		return nil
	}
	return errors.New(r.Error)
}

// Node returns the record for step id.
func (r Report) Node(id string) (NodeStatus, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeStatus{}, false
}

// Engine executes an ordered list of steps. An Engine holds no per-run
// state; every Execute call works on its own state value.
type Engine[C any] struct {
	name   string
	steps  []Step[C]
	now    func() time.Time
	tracer trace.Tracer
	logger *zap.Logger
}

// NewEngine builds an Engine named name over steps.
func NewEngine[C any](name string, steps []Step[C], now func() time.Time, logger *zap.Logger) *Engine[C] {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine[C]{
		name:   name,
		steps:  steps,
		now:    now,
		tracer: otel.Tracer(tracerName),
		logger: logger.Named(name),
	}
}

// Steps returns the pending node records of a fresh run.
func (e *Engine[C]) Steps() []NodeStatus {
	nodes := make([]NodeStatus, len(e.steps))
	for i, s := range e.steps {
		nodes[i] = NodeStatus{ID: s.ID, Name: s.Name, Status: StatusPending}
	}
	return nodes
}

// Execute runs the steps in order against state. The first failing step
// halts the run: its node is failed, later nodes stay pending, and the report
// carries the error. Execute never returns an error of its own.
func (e *Engine[C]) Execute(ctx context.Context, scope progress.Scope, state *C) Report {
	report := Report{Nodes: e.Steps(), StartedAt: e.now()}
	ctx, span := e.tracer.Start(ctx, e.name, trace.WithAttributes(
		attribute.String("topic.id", scope.TopicID()),
		attribute.String("run.id", scope.RunID()),
	))
	defer span.End()

	for i, step := range e.steps {
		node := &report.Nodes[i]
		err := e.runStep(ctx, scope, step, node, state)
		if err == nil {
			continue
		}
		report.FailedNode = step.ID
		report.Error = fmt.Sprintf("%s: %v", step.Name, err)
		report.FinishedAt = e.now()
		span.SetStatus(codes.Error, report.Error)
		return report
	}
	report.Success = true
	report.FinishedAt = e.now()
	return report
}

func (e *Engine[C]) runStep(ctx context.Context, scope progress.Scope, step Step[C], node *NodeStatus, state *C) error {
	ctx, span := e.tracer.Start(ctx, step.Name, trace.WithAttributes(attribute.String("node.id", step.ID)))
	defer span.End()

	started := e.now()
	node.Status = StatusRunning
	node.StartedAt = &started
	scope.Emit(progress.EventNodeStarted, transition(*node, 0))
	e.logger.Debug("step started", zap.String("node_id", step.ID), zap.String("run_id", scope.RunID()))

	if err := ctx.Err(); err != nil {
		return e.finish(scope, span, node, started, nil, err)
	}
	metrics, err := invoke(ctx, step, state)
	return e.finish(scope, span, node, started, metrics, err)
}

func (e *Engine[C]) finish(
	scope progress.Scope,
	span trace.Span,
	node *NodeStatus,
	started time.Time,
	metrics map[string]any,
	err error,
) error {
	finished := e.now()
	node.FinishedAt = &finished
	node.Metrics = metrics
	elapsed := finished.Sub(started)

	switch {
	case err == nil:
		node.Status = StatusCompleted
		scope.Emit(progress.EventNodeCompleted, transition(*node, elapsed))
		return nil
	case errors.Is(err, ErrSkipped):
		node.Status = StatusSkipped
		span.SetAttributes(attribute.Bool("node.skipped", true))
		scope.Emit(progress.EventNodeSkipped, transition(*node, elapsed))
		e.logger.Info("step skipped", zap.String("node_id", node.ID), zap.String("reason", err.Error()))
		return nil
	default:
		node.Status = StatusFailed
		node.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		scope.Emit(progress.EventNodeFailed, transition(*node, elapsed))
		e.logger.Warn("step failed",
			zap.String("node_id", node.ID),
			zap.String("run_id", scope.RunID()),
			zap.Error(err))
		return err
	}
}

// invoke runs the step and turns a panic into an error.
func invoke[C any](ctx context.Context, step Step[C], state *C) (metrics map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Run(ctx, state)
}

func transition(n NodeStatus, elapsed time.Duration) progress.NodeTransition {
	return progress.NodeTransition{
		NodeID:   n.ID,
		Name:     n.Name,
		Status:   string(n.Status),
		Error:    n.Error,
		Metrics:  n.Metrics,
		Duration: elapsed,
	}
}
