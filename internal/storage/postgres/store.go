package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
)

// Compile-time interface checks — Store implements every storage interface
// the kernel depends on, none of which collide on method name.
var (
	_ chatcontext.ProfileStore        = (*Store)(nil)
	_ chatcontext.MetaSummaryStore    = (*Store)(nil)
	_ chatcontext.SummaryStore        = (*Store)(nil)
	_ chatcontext.SkillsStore         = (*Store)(nil)
	_ chatcontext.MessageStore        = (*Store)(nil)
	_ stages.InteractionStore         = (*Store)(nil)
	_ stages.AssessmentStore          = (*Store)(nil)
	_ observability.RunStore          = (*Store)(nil)
	_ observability.EventSink         = (*Store)(nil)
	_ observability.ProviderCallStore = (*Store)(nil)
)

// Store is the single PostgreSQL-backed implementation of every storage
// interface the pipeline kernel depends on: conversation history, inline
// assessments, user/session enrichment context, and the pipeline_runs/
// pipeline_events/provider_calls observability tables. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection (for the session_summaries
// embedding column), and runs [Migrate] to ensure all required tables
// exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool, for callers (migrations,
// ops tooling, tests) that need direct access beyond Store's interfaces.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
