package observability

import (
	"context"
	"fmt"
	"log/slog"
)

// PipelineRunLogger patches the PipelineRun row as a run progresses: once
// per stage transition, and once at the terminal event. Run creation itself
// belongs to [PipelineEventLogger.CreateRun] — this logger only patches an
// already-created run.
type PipelineRunLogger struct {
	runs RunStore
	log  *slog.Logger
}

// NewPipelineRunLogger builds a run logger over runs. log defaults to
// [slog.Default] when nil.
func NewPipelineRunLogger(runs RunStore, log *slog.Logger) *PipelineRunLogger {
	if log == nil {
		log = slog.Default()
	}
	return &PipelineRunLogger{runs: runs, log: log}
}

// PatchStage records stage's outcome into the run's stages map without
// ending the run.
func (l *PipelineRunLogger) PatchStage(ctx context.Context, pipelineRunID, stage string, metric StageMetric) error {
	if err := l.runs.PatchStages(ctx, pipelineRunID, map[string]StageMetric{stage: metric}); err != nil {
		return fmt.Errorf("observability: patch stage %q: %w", stage, err)
	}
	l.log.LogAttrs(ctx, slog.LevelDebug, "stage transition",
		slog.String("pipeline_run_id", pipelineRunID),
		slog.String("stage", stage),
		slog.String("status", metric.Status),
	)
	return nil
}

// Terminal writes the run's final outcome. Exactly one Terminal call is
// expected per run — the orchestrator's single funnel guarantees this by
// construction, never by convention at the call site.
func (l *PipelineRunLogger) Terminal(ctx context.Context, pipelineRunID string, result TerminalResult) error {
	if err := l.runs.Terminal(ctx, pipelineRunID, result); err != nil {
		return fmt.Errorf("observability: terminal: %w", err)
	}
	l.log.LogAttrs(ctx, slog.LevelInfo, "pipeline run terminal",
		slog.String("pipeline_run_id", pipelineRunID),
		slog.Bool("success", result.Success),
		slog.Bool("cancelled", result.Cancelled),
		slog.Bool("degraded", result.Degraded),
		slog.String("error_stage", result.ErrorStage),
	)
	return nil
}
