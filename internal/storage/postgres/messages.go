package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
)

// CreateUserMessage implements [stages.InteractionStore]. It inserts a user
// message row and returns the generated message ID.
func (s *Store) CreateUserMessage(ctx context.Context, sessionID, content string, skillIDs []string) (string, error) {
	return s.insertMessage(ctx, sessionID, "user", content, skillIDs)
}

// CreateAssistantMessage implements [stages.InteractionStore]. It inserts an
// assistant message row and returns the generated message ID.
func (s *Store) CreateAssistantMessage(ctx context.Context, sessionID, content string) (string, error) {
	return s.insertMessage(ctx, sessionID, "assistant", content, nil)
}

func (s *Store) insertMessage(ctx context.Context, sessionID, role, content string, skillIDs []string) (string, error) {
	if skillIDs == nil {
		skillIDs = []string{}
	}
	skillsJSON, err := json.Marshal(skillIDs)
	if err != nil {
		return "", fmt.Errorf("messages: marshal skill_ids: %w", err)
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO messages (id, session_id, role, content, skill_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`

	if _, err := s.pool.Exec(ctx, q, id, sessionID, role, content, skillsJSON); err != nil {
		return "", fmt.Errorf("messages: insert %s message: %w", role, err)
	}
	return id, nil
}

// Backfill implements [stages.InteractionStore]. It stamps
// provider_calls.interaction_id for every row logged during pipelineRunID,
// per spec.md §4.9's backfill_ids step.
func (s *Store) Backfill(ctx context.Context, pipelineRunID, interactionID string) error {
	const q = `UPDATE provider_calls SET interaction_id = $2 WHERE pipeline_run_id = $1`
	if _, err := s.pool.Exec(ctx, q, pipelineRunID, interactionID); err != nil {
		return fmt.Errorf("messages: backfill: %w", err)
	}
	return nil
}

// SaveAssessment implements [stages.AssessmentStore].
func (s *Store) SaveAssessment(ctx context.Context, sessionID, afterMessageID, content string) error {
	const q = `
		INSERT INTO assessments (session_id, after_message_id, content, created_at)
		VALUES ($1, $2, $3, now())`
	if _, err := s.pool.Exec(ctx, q, sessionID, afterMessageID, content); err != nil {
		return fmt.Errorf("assessments: save: %w", err)
	}
	return nil
}

// LastN implements [chatcontext.MessageStore]. It returns the n most recent
// messages for sessionID, chronological (oldest first).
func (s *Store) LastN(ctx context.Context, sessionID string, n int) ([]chatcontext.StoredMessage, error) {
	const q = `
		SELECT id, role, content, created_at
		FROM   (SELECT id, role, content, created_at
		        FROM   messages
		        WHERE  session_id = $1
		        ORDER  BY created_at DESC
		        LIMIT  $2) recent
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("messages: last n: %w", err)
	}
	return collectMessages(rows)
}

// After implements [chatcontext.MessageStore]. A zero cutoff returns the
// full history.
func (s *Store) After(ctx context.Context, sessionID string, cutoff time.Time) ([]chatcontext.StoredMessage, error) {
	const q = `
		SELECT id, role, content, created_at
		FROM   messages
		WHERE  session_id = $1 AND created_at > $2
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("messages: after: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]chatcontext.StoredMessage, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chatcontext.StoredMessage, error) {
		var m chatcontext.StoredMessage
		if err := row.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return chatcontext.StoredMessage{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("messages: scan rows: %w", err)
	}
	if messages == nil {
		messages = []chatcontext.StoredMessage{}
	}
	return messages, nil
}

// Assessments implements [chatcontext.MessageStore]. It returns inline
// assessments recorded after cutoff.
func (s *Store) Assessments(ctx context.Context, sessionID string, cutoff time.Time) ([]chatcontext.Assessment, error) {
	const q = `
		SELECT after_message_id, content, created_at
		FROM   assessments
		WHERE  session_id = $1 AND created_at > $2
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("assessments: after: %w", err)
	}
	assessments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chatcontext.Assessment, error) {
		var a chatcontext.Assessment
		if err := row.Scan(&a.AfterMessageID, &a.Content, &a.Timestamp); err != nil {
			return chatcontext.Assessment{}, err
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("assessments: scan rows: %w", err)
	}
	if assessments == nil {
		assessments = []chatcontext.Assessment{}
	}
	return assessments, nil
}
