// Package postgres provides a PostgreSQL-backed implementation of the
// kernel's storage interfaces: conversation history and inline assessments
// for internal/kernel/chatcontext, message persistence for
// internal/kernel/stages, and the pipeline_runs/pipeline_events/
// provider_calls observability tables for internal/kernel/observability.
//
// All tables share a single [pgxpool.Pool] connection pool. [Migrate] is
// idempotent (CREATE TABLE/INDEX IF NOT EXISTS) and safe to call on every
// application start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    skill_ids   JSONB        NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);
`

const ddlAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id                BIGSERIAL    PRIMARY KEY,
    session_id        TEXT         NOT NULL,
    after_message_id  TEXT         NOT NULL,
    content           TEXT         NOT NULL,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assessments_session_created
    ON assessments (session_id, created_at);
`

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id       TEXT         PRIMARY KEY,
    profile_text  TEXT         NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlMetaSummaries = `
CREATE TABLE IF NOT EXISTS meta_summaries (
    user_id     TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// summaryEmbeddingDimensions matches OpenAI's text-embedding-3-small output
// dimension.
const summaryEmbeddingDimensions = 1536

// ddlSessionSummaries returns the session_summaries DDL with the embedding
// dimension substituted, mirroring how a vector column's width is baked in
// at creation time.
func ddlSessionSummaries(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS session_summaries (
    session_id  TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    cutoff      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_summaries_embedding
    ON session_summaries USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

const ddlUserSkills = `
CREATE TABLE IF NOT EXISTS user_skills (
    user_id        TEXT         NOT NULL,
    skill_id       TEXT         NOT NULL,
    level          TEXT         NOT NULL DEFAULT '',
    next_criteria  TEXT         NOT NULL DEFAULT '',
    next_examples  TEXT         NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, skill_id)
);
`

const ddlPipelineRuns = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    pipeline_run_id  TEXT         PRIMARY KEY,
    service          TEXT         NOT NULL,
    topology         TEXT         NOT NULL,
    behavior         TEXT         NOT NULL,
    trigger          TEXT         NOT NULL,
    request_id       TEXT         NOT NULL DEFAULT '',
    session_id       TEXT         NOT NULL DEFAULT '',
    user_id          TEXT         NOT NULL DEFAULT '',
    org_id           TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    stages           JSONB        NOT NULL DEFAULT '{}',
    terminal_at      TIMESTAMPTZ,
    success          BOOLEAN,
    cancelled        BOOLEAN      NOT NULL DEFAULT false,
    degraded         BOOLEAN      NOT NULL DEFAULT false,
    error_stage      TEXT         NOT NULL DEFAULT '',
    error_class      TEXT         NOT NULL DEFAULT '',
    error_message    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_session
    ON pipeline_runs (session_id);
`

const ddlPipelineEvents = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    id               BIGSERIAL    PRIMARY KEY,
    pipeline_run_id  TEXT         NOT NULL,
    type             TEXT         NOT NULL,
    data             JSONB        NOT NULL DEFAULT '{}',
    "timestamp"      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    service          TEXT         NOT NULL DEFAULT '',
    session_id       TEXT         NOT NULL DEFAULT '',
    user_id          TEXT         NOT NULL DEFAULT '',
    org_id           TEXT         NOT NULL DEFAULT '',
    request_id       TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_events_run
    ON pipeline_events (pipeline_run_id);
`

const ddlProviderCalls = `
CREATE TABLE IF NOT EXISTS provider_calls (
    call_id           TEXT         PRIMARY KEY,
    service           TEXT         NOT NULL,
    operation         TEXT         NOT NULL,
    provider          TEXT         NOT NULL,
    model             TEXT         NOT NULL,
    pipeline_run_id   TEXT         NOT NULL DEFAULT '',
    session_id        TEXT         NOT NULL DEFAULT '',
    interaction_id    TEXT         NOT NULL DEFAULT '',
    request_id        TEXT         NOT NULL DEFAULT '',
    prompt_tokens     INT          NOT NULL DEFAULT 0,
    prompt            JSONB        NOT NULL DEFAULT '{}',
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    output            JSONB        NOT NULL DEFAULT '{}',
    latency_ns        BIGINT       NOT NULL DEFAULT 0,
    tokens_in         INT          NOT NULL DEFAULT 0,
    tokens_out        INT          NOT NULL DEFAULT 0,
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
    success           BOOLEAN      NOT NULL DEFAULT false,
    error             TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_provider_calls_run
    ON provider_calls (pipeline_run_id);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlMessages,
		ddlAssessments,
		ddlProfiles,
		ddlMetaSummaries,
		ddlSessionSummaries(summaryEmbeddingDimensions),
		ddlUserSkills,
		ddlPipelineRuns,
		ddlPipelineEvents,
		ddlProviderCalls,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
