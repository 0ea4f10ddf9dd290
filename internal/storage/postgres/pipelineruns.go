package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

// CreateRun implements [observability.RunStore]. It inserts the
// PipelineRun row at run setup, before any stage has executed.
func (s *Store) CreateRun(ctx context.Context, run observability.RunRecord) error {
	const q = `
		INSERT INTO pipeline_runs
		    (pipeline_run_id, service, topology, behavior, trigger,
		     request_id, session_id, user_id, org_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		run.PipelineRunID, run.Service, run.Topology, run.Behavior, run.Trigger,
		run.RequestID, run.SessionID, run.UserID, run.OrgID, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pipeline runs: create: %w", err)
	}
	return nil
}

// PatchStages implements [observability.RunStore]. It merges stages into
// the run's stages JSONB column without touching the terminal columns.
func (s *Store) PatchStages(ctx context.Context, pipelineRunID string, patch map[string]observability.StageMetric) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("pipeline runs: marshal stage patch: %w", err)
	}

	const q = `
		UPDATE pipeline_runs
		SET    stages = stages || $2::jsonb
		WHERE  pipeline_run_id = $1`

	if _, err := s.pool.Exec(ctx, q, pipelineRunID, patchJSON); err != nil {
		return fmt.Errorf("pipeline runs: patch stages: %w", err)
	}
	return nil
}

// Terminal implements [observability.RunStore]. It records the run's
// final outcome, merging result.Stages into whatever per-stage metrics
// PatchStages already wrote during the run.
func (s *Store) Terminal(ctx context.Context, pipelineRunID string, result observability.TerminalResult) error {
	stagesJSON, err := json.Marshal(result.Stages)
	if err != nil {
		return fmt.Errorf("pipeline runs: marshal terminal stages: %w", err)
	}

	const q = `
		UPDATE pipeline_runs
		SET    stages = stages || $2::jsonb,
		       terminal_at = now(),
		       success = $3,
		       cancelled = $4,
		       degraded = $5,
		       error_stage = $6,
		       error_class = $7,
		       error_message = $8
		WHERE  pipeline_run_id = $1`

	_, err = s.pool.Exec(ctx, q,
		pipelineRunID, stagesJSON, result.Success, result.Cancelled, result.Degraded,
		result.ErrorStage, result.ErrorClass, result.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("pipeline runs: terminal: %w", err)
	}
	return nil
}
