package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// GetProfileText implements [chatcontext.ProfileStore]. A user with no
// profile row yet returns the empty string rather than an error — the
// profile enricher treats that as "nothing to inject".
func (s *Store) GetProfileText(ctx context.Context, userID string) (string, error) {
	const q = `SELECT profile_text FROM user_profiles WHERE user_id = $1`
	text, err := scanOptionalText(ctx, s.pool, q, userID)
	if err != nil {
		return "", fmt.Errorf("profiles: get: %w", err)
	}
	return text, nil
}

// GetMetaSummary implements [chatcontext.MetaSummaryStore].
func (s *Store) GetMetaSummary(ctx context.Context, userID string) (string, error) {
	const q = `SELECT content FROM meta_summaries WHERE user_id = $1`
	text, err := scanOptionalText(ctx, s.pool, q, userID)
	if err != nil {
		return "", fmt.Errorf("meta summaries: get: %w", err)
	}
	return text, nil
}

// GetSessionSummary implements [chatcontext.SummaryStore]. A session with
// no summary row yet returns a zero cutoff, telling Build to fall back to
// the session's full history.
func (s *Store) GetSessionSummary(ctx context.Context, sessionID string) (string, time.Time, error) {
	const q = `SELECT content, cutoff FROM session_summaries WHERE session_id = $1`

	var content string
	var cutoff time.Time
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&content, &cutoff)
	if err == pgx.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session summaries: get: %w", err)
	}
	return content, cutoff, nil
}

// SaveSessionSummary upserts a session's rolling summary along with its
// embedding. embedding may be nil, in which case the session's summary is
// still readable by GetSessionSummary but excluded from
// FindSimilarSessionSummaries.
func (s *Store) SaveSessionSummary(ctx context.Context, sessionID, content string, cutoff time.Time, embedding []float32) error {
	const q = `
		INSERT INTO session_summaries (session_id, content, embedding, cutoff, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    cutoff     = EXCLUDED.cutoff,
		    updated_at = now()`

	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
	}

	if _, err := s.pool.Exec(ctx, q, sessionID, content, vec, cutoff); err != nil {
		return fmt.Errorf("session summaries: save: %w", err)
	}
	return nil
}

// SimilarSessionSummary is one nearest-neighbour result from
// [Store.FindSimilarSessionSummaries].
type SimilarSessionSummary struct {
	SessionID string
	Content   string
	Distance  float64
}

// FindSimilarSessionSummaries returns the topK session summaries, across
// all sessions of all users, whose embeddings are closest (cosine
// distance) to embedding. No enricher in the kernel calls it.
func (s *Store) FindSimilarSessionSummaries(ctx context.Context, embedding []float32, topK int) ([]SimilarSessionSummary, error) {
	const q = `
		SELECT session_id, content, embedding <=> $1 AS distance
		FROM   session_summaries
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("session summaries: find similar: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SimilarSessionSummary, error) {
		var r SimilarSessionSummary
		if err := row.Scan(&r.SessionID, &r.Content, &r.Distance); err != nil {
			return SimilarSessionSummary{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session summaries: scan rows: %w", err)
	}
	if results == nil {
		results = []SimilarSessionSummary{}
	}
	return results, nil
}

// scanOptionalText runs q (which must select exactly one text column keyed
// by id) and returns "" rather than an error when no row exists.
func scanOptionalText(ctx context.Context, pool *pgxpool.Pool, q, id string) (string, error) {
	var text string
	err := pool.QueryRow(ctx, q, id).Scan(&text)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return text, err
}

// GetSkillsContext implements [chatcontext.SkillsStore]. It renders each
// requested skill's current level and next-level criteria/examples as a
// short text block; skills with no row yet are silently omitted.
func (s *Store) GetSkillsContext(ctx context.Context, userID string, skillIDs []string) (string, error) {
	if len(skillIDs) == 0 {
		return "", nil
	}

	const q = `
		SELECT skill_id, level, next_criteria, next_examples
		FROM   user_skills
		WHERE  user_id = $1 AND skill_id = ANY($2)
		ORDER  BY skill_id`

	rows, err := s.pool.Query(ctx, q, userID, skillIDs)
	if err != nil {
		return "", fmt.Errorf("skills: get context: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var skillID, level, criteria, examples string
		if err := rows.Scan(&skillID, &level, &criteria, &examples); err != nil {
			return "", fmt.Errorf("skills: scan row: %w", err)
		}
		line := fmt.Sprintf("%s: current level %s", skillID, level)
		if criteria != "" {
			line += fmt.Sprintf("; next level requires %s", criteria)
		}
		if examples != "" {
			line += fmt.Sprintf(" (e.g. %s)", examples)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("skills: iterate rows: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}
