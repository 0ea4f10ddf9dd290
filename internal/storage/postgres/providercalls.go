package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

// RecordCall implements [observability.ProviderCallStore]. It inserts the
// row at call start, before the provider has responded.
func (s *Store) RecordCall(ctx context.Context, call observability.ProviderCallRecord) error {
	promptJSON, err := json.Marshal(call.Prompt)
	if err != nil {
		return fmt.Errorf("provider calls: marshal prompt: %w", err)
	}

	const q = `
		INSERT INTO provider_calls
		    (call_id, service, operation, provider, model, pipeline_run_id,
		     session_id, interaction_id, request_id, prompt_tokens, prompt, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, q,
		call.CallID, call.Service, call.Operation, call.Provider, call.Model, call.PipelineRunID,
		call.SessionID, call.InteractionID, call.RequestID, call.PromptTokens, promptJSON, call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("provider calls: record: %w", err)
	}
	return nil
}

// UpdateCall implements [observability.ProviderCallStore]. It augments an
// already-recorded call with its outcome once the provider responds, or
// backfills interaction_id once the owning interaction is persisted.
func (s *Store) UpdateCall(ctx context.Context, callID string, patch observability.ProviderCallPatch) error {
	outputJSON, err := json.Marshal(patch.Output)
	if err != nil {
		return fmt.Errorf("provider calls: marshal output: %w", err)
	}

	const q = `
		UPDATE provider_calls
		SET    output = $2,
		       latency_ns = $3,
		       tokens_in = $4,
		       tokens_out = $5,
		       audio_duration_ns = $6,
		       cost_usd = $7,
		       success = $8,
		       error = $9,
		       interaction_id = CASE WHEN $10 <> '' THEN $10 ELSE interaction_id END
		WHERE  call_id = $1`

	_, err = s.pool.Exec(ctx, q,
		callID, outputJSON, patch.Latency.Nanoseconds(), patch.TokensIn, patch.TokensOut,
		patch.AudioDuration.Nanoseconds(), patch.CostUSD, patch.Success, patch.Error, patch.InteractionID,
	)
	if err != nil {
		return fmt.Errorf("provider calls: update: %w", err)
	}
	return nil
}
