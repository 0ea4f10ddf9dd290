package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

// Record implements [observability.EventSink]. Callers needing a
// non-blocking hot path should wrap Store in
// [observability.NewAsyncEventSink] rather than calling this directly from
// a stage goroutine.
func (s *Store) Record(ctx context.Context, event observability.PipelineEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("pipeline events: marshal data: %w", err)
	}

	const q = `
		INSERT INTO pipeline_events
		    (pipeline_run_id, type, data, "timestamp", service, session_id, user_id, org_id, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, q,
		event.PipelineRunID, event.Type, dataJSON, event.Timestamp,
		event.Service, event.SessionID, event.UserID, event.OrgID, event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("pipeline events: record: %w", err)
	}
	return nil
}
