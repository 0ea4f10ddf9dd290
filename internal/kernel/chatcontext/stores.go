package chatcontext

import (
	"context"
	"time"
)

// ProfileStore supplies the user profile text enricher (bio, goal,
// speaking context, user-provided overriding notes).
type ProfileStore interface {
	GetProfileText(ctx context.Context, userID string) (string, error)
}

// MetaSummaryStore supplies the cross-session meta-summary enricher.
type MetaSummaryStore interface {
	GetMetaSummary(ctx context.Context, userID string) (string, error)
}

// SummaryStore supplies the intra-session rolling summary enricher. The
// returned cutoff timestamp bounds the conversation history Build still
// needs to load explicitly.
type SummaryStore interface {
	GetSessionSummary(ctx context.Context, sessionID string) (text string, cutoff time.Time, err error)
}

// SkillsStore supplies the skills-context enricher (current level,
// next-level criteria/examples) for the given skill IDs.
type SkillsStore interface {
	GetSkillsContext(ctx context.Context, userID string, skillIDs []string) (string, error)
}

// MessageStore supplies conversation history and inline assessments.
type MessageStore interface {
	// LastN returns the n most recent messages for sessionID, chronological.
	LastN(ctx context.Context, sessionID string, n int) ([]StoredMessage, error)

	// After returns messages recorded strictly after cutoff, chronological.
	// A zero cutoff returns the full history.
	After(ctx context.Context, sessionID string, cutoff time.Time) ([]StoredMessage, error)

	// Assessments returns inline assessments recorded after cutoff.
	Assessments(ctx context.Context, sessionID string, cutoff time.Time) ([]Assessment, error)
}
