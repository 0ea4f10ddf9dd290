package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// Topology builds the [stage.Graph] for one run. Concrete topologies live
// in internal/topology; the orchestrator depends only on this function
// signature so it never needs to know which stages a topology wires.
type Topology func(cfg map[string]any) (*stage.Graph, error)

// RunRequest is everything the orchestrator needs to start one pipeline
// run. PipelineRunID is generated if empty.
type RunRequest struct {
	PipelineRunID string
	RequestID     string
	SessionID     string
	UserID        string
	OrgID         string
	Service       string
	TopologyName  string
	Behavior      string
	Trigger       string
	Configuration map[string]any
	Ports         stage.Ports
}

// RunResult is what the orchestrator hands back to the transport layer once
// a run reaches its terminal event.
type RunResult struct {
	PipelineRunID string
	Success       bool
	Cancelled     bool
	Degraded      bool
	DegradedStage string
	ErrorStage    string
	ErrorClass    string
	ErrorMessage  string
	Outputs       map[string]stage.Output
}

// Orchestrator is the single entry point for running any topology. It
// persists a run record, assembles the run context, executes the
// topology's stage graph, and reports exactly one terminal event —
// grounded on the teacher's agent/orchestrator package for the
// snapshot-then-release concurrency shape, generalized from NPC routing to
// stage-graph execution.
type Orchestrator struct {
	events *observability.PipelineEventLogger
	runs   *observability.PipelineRunLogger
}

// NewOrchestrator builds an Orchestrator writing through events and runs.
func NewOrchestrator(events *observability.PipelineEventLogger, runs *observability.PipelineRunLogger) *Orchestrator {
	return &Orchestrator{events: events, runs: runs}
}

// Run executes topology for req and returns its terminal result. Run never
// returns a Go error for a failure that belongs to the pipeline's own
// domain (stage errors, policy denials, provider degradation) — those are
// reported in the returned [RunResult] after exactly one terminal event has
// been emitted. A topology that fails to build is reported the same way,
// as a failed run with a pipeline.failed terminal event. A non-nil error
// here means the run row could not be persisted or pipeline.started could
// not be emitted; no terminal event was emitted in that case.
func (o *Orchestrator) Run(ctx context.Context, build Topology, req RunRequest) (*RunResult, error) {
	if req.PipelineRunID == "" {
		req.PipelineRunID = uuid.NewString()
	}

	meta := observability.EventMeta{
		Service:   req.Service,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		OrgID:     req.OrgID,
		RequestID: req.RequestID,
	}

	// Run setup: persist the PipelineRun row and emit pipeline.created.
	if err := o.events.CreateRun(ctx, observability.RunRecord{
		PipelineRunID: req.PipelineRunID,
		Service:       req.Service,
		Topology:      req.TopologyName,
		Behavior:      req.Behavior,
		Trigger:       req.Trigger,
		RequestID:     req.RequestID,
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		OrgID:         req.OrgID,
		CreatedAt:     time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("pipeline: run setup: %w", err)
	}

	graph, err := build(req.Configuration)
	if err != nil {
		// The topology itself is malformed — this is refused before any run
		// meaningfully starts, but the run row already exists, so report it
		// as a failed run rather than losing the record silently.
		return o.reportBuildFailure(ctx, req, meta, err), nil
	}

	if err := o.events.Emit(ctx, req.PipelineRunID, "pipeline.started", map[string]any{
		"topology": req.TopologyName,
		"behavior": req.Behavior,
	}, meta); err != nil {
		return nil, fmt.Errorf("pipeline: emit pipeline.started: %w", err)
	}

	// Context construction. Run-scoped identity plus a bounded partial-text
	// queue for LLM→TTS streaming hand-off, wired into the stage graph via
	// Ports so the LLM stage writer and TTS stage reader share one channel.
	pctx := NewContext(req.PipelineRunID, req.RequestID, req.SessionID, req.UserID, req.OrgID, req.TopologyName, req.Behavior, req.Service, req.Configuration)

	ports := req.Ports
	if ports.PartialText == nil {
		ports.PartialText = make(chan string, partialTextQueueSize)
	}

	outputs, err := graph.Execute(ctx, pctx.Snapshot(), ports, pctx.CancelFlag())
	if err != nil {
		return o.reportExecutionFailure(ctx, req, meta, outputs, err), nil
	}

	return o.reportTerminal(ctx, req, meta, outputs), nil
}

// partialTextQueueSize bounds the LLM→TTS hand-off channel.
const partialTextQueueSize = 100

func (o *Orchestrator) reportBuildFailure(ctx context.Context, req RunRequest, meta observability.EventMeta, buildErr error) *RunResult {
	result := observability.TerminalResult{
		Success:      false,
		ErrorStage:   "topology_build",
		ErrorClass:   "build_error",
		ErrorMessage: buildErr.Error(),
	}
	o.finishTerminal(ctx, req.PipelineRunID, meta, result, "pipeline.failed", map[string]any{
		"stage":   "topology_build",
		"message": buildErr.Error(),
	})
	return &RunResult{
		PipelineRunID: req.PipelineRunID,
		Success:       false,
		ErrorStage:    "topology_build",
		ErrorClass:    "build_error",
		ErrorMessage:  buildErr.Error(),
	}
}

func (o *Orchestrator) reportExecutionFailure(ctx context.Context, req RunRequest, meta observability.EventMeta, outputs map[string]stage.Output, execErr error) *RunResult {
	result := observability.TerminalResult{
		Success:      false,
		ErrorStage:   "stage_graph",
		ErrorClass:   "execution_error",
		ErrorMessage: execErr.Error(),
		Stages:       stageMetrics(outputs),
	}
	o.finishTerminal(ctx, req.PipelineRunID, meta, result, "pipeline.failed", map[string]any{
		"stage":   "stage_graph",
		"message": execErr.Error(),
	})
	return &RunResult{
		PipelineRunID: req.PipelineRunID,
		Success:       false,
		ErrorStage:    "stage_graph",
		ErrorClass:    "execution_error",
		ErrorMessage:  execErr.Error(),
		Outputs:       outputs,
	}
}

// reportTerminal inspects a successfully-executed graph's outputs and
// classifies the run as completed, cancelled, degraded, or failed — exactly
// one terminal event either way, per the orchestrator's observability
// budget.
func (o *Orchestrator) reportTerminal(ctx context.Context, req RunRequest, meta observability.EventMeta, outputs map[string]stage.Output) *RunResult {
	res := &RunResult{PipelineRunID: req.PipelineRunID, Outputs: outputs}

	var erroredStage, degradedStage string
	cancelled := false
	for name, out := range outputs {
		switch out.Status {
		case stage.StatusError:
			if erroredStage == "" {
				erroredStage = name
			}
		case stage.StatusCanceled:
			cancelled = true
		}
		if reason, _ := out.Data["reason"].(string); reason == "circuit_open" {
			degradedStage = name
		}
	}

	stages := stageMetrics(outputs)

	switch {
	case erroredStage != "":
		errOut := outputs[erroredStage]
		res.Success = false
		res.ErrorStage = erroredStage
		res.ErrorClass = "stage_error"
		if errOut.Err != nil {
			res.ErrorMessage = errOut.Err.Error()
		}
		o.finishTerminal(ctx, req.PipelineRunID, meta, observability.TerminalResult{
			Success: false, ErrorStage: erroredStage, ErrorClass: "stage_error", ErrorMessage: res.ErrorMessage, Stages: stages,
		}, "pipeline.failed", map[string]any{"stage": erroredStage, "message": res.ErrorMessage})

	case degradedStage != "":
		res.Success = true
		res.Degraded = true
		res.DegradedStage = degradedStage
		o.finishTerminal(ctx, req.PipelineRunID, meta, observability.TerminalResult{
			Success: true, Degraded: true, Stages: stages,
		}, "pipeline.degraded", map[string]any{"stage": degradedStage, "reason": "circuit_open"})

	case cancelled:
		res.Success = true
		res.Cancelled = true
		o.finishTerminal(ctx, req.PipelineRunID, meta, observability.TerminalResult{
			Success: true, Cancelled: true, Stages: stages,
		}, "pipeline.completed", map[string]any{"cancelled": true})

	default:
		res.Success = true
		o.finishTerminal(ctx, req.PipelineRunID, meta, observability.TerminalResult{
			Success: true, Stages: stages,
		}, "pipeline.completed", map[string]any{"cancelled": false})
	}

	return res
}

func (o *Orchestrator) finishTerminal(ctx context.Context, runID string, meta observability.EventMeta, result observability.TerminalResult, eventType string, data map[string]any) {
	if err := o.runs.Terminal(ctx, runID, result); err != nil {
		_ = o.events.Emit(ctx, runID, "pipeline.observability_error", map[string]any{"message": err.Error()}, meta)
	}
	_ = o.events.Emit(ctx, runID, eventType, data, meta)
}

func stageMetrics(outputs map[string]stage.Output) map[string]observability.StageMetric {
	metrics := make(map[string]observability.StageMetric, len(outputs))
	for name, out := range outputs {
		m := observability.StageMetric{Status: string(out.Status)}
		if reason, ok := out.Data["reason"].(string); ok {
			m.Reason = reason
		}
		if out.Err != nil {
			m.ErrorMessage = out.Err.Error()
		}
		metrics[name] = m
	}
	return metrics
}
