package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunStore persists the PipelineRun row lifecycle. A concrete
// implementation lives in internal/storage/postgres.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	PatchStages(ctx context.Context, pipelineRunID string, stages map[string]StageMetric) error
	Terminal(ctx context.Context, pipelineRunID string, result TerminalResult) error
}

// PipelineEventLogger is the single writer for the pipeline_events stream
// and the entry point for creating a PipelineRun row. Every call also logs
// through log/slog with the six-key attribute set (pipeline_run_id plus the
// five [EventMeta] identity fields) so a single
// query (DB or log aggregator) can reconstruct any turn.
type PipelineEventLogger struct {
	sink EventSink
	runs RunStore
	log  *slog.Logger
}

// NewPipelineEventLogger builds a logger writing events to sink and run rows
// to runs. log defaults to [slog.Default] when nil.
func NewPipelineEventLogger(sink EventSink, runs RunStore, log *slog.Logger) *PipelineEventLogger {
	if log == nil {
		log = slog.Default()
	}
	return &PipelineEventLogger{sink: sink, runs: runs, log: log}
}

// CreateRun persists run and emits the "pipeline.created" event. Callers
// follow this immediately with an explicit Emit of "pipeline.started" once
// the stage graph is about to execute, per the orchestrator's run-setup
// contract.
func (l *PipelineEventLogger) CreateRun(ctx context.Context, run RunRecord) error {
	if err := l.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("observability: create run: %w", err)
	}
	return l.Emit(ctx, run.PipelineRunID, "pipeline.created", map[string]any{
		"service":  run.Service,
		"topology": run.Topology,
		"behavior": run.Behavior,
		"trigger":  run.Trigger,
	}, EventMeta{
		Service:   run.Service,
		SessionID: run.SessionID,
		UserID:    run.UserID,
		OrgID:     run.OrgID,
		RequestID: run.RequestID,
	})
}

// EventMeta carries the identity fields stamped onto every [PipelineEvent].
type EventMeta struct {
	Service   string
	SessionID string
	UserID    string
	OrgID     string
	RequestID string
}

// Emit records one event for pipelineRunID. It logs synchronously (so a
// tailed log stream reflects events in real time) and hands the event to
// the sink for durable, asynchronous persistence.
func (l *PipelineEventLogger) Emit(ctx context.Context, pipelineRunID, eventType string, data map[string]any, meta EventMeta) error {
	event := PipelineEvent{
		PipelineRunID: pipelineRunID,
		Type:          eventType,
		Data:          data,
		Timestamp:     time.Now(),
		Service:       meta.Service,
		SessionID:     meta.SessionID,
		UserID:        meta.UserID,
		OrgID:         meta.OrgID,
		RequestID:     meta.RequestID,
	}

	l.log.LogAttrs(ctx, slog.LevelInfo, eventType,
		slog.String("pipeline_run_id", pipelineRunID),
		slog.String("service", meta.Service),
		slog.String("session_id", meta.SessionID),
		slog.String("user_id", meta.UserID),
		slog.String("org_id", meta.OrgID),
		slog.String("request_id", meta.RequestID),
	)

	return l.sink.Record(ctx, event)
}
