// Package chatcontext builds the per-turn LLM input: the ChatContext
// builder of spec.md §4.6. Assembly is ordered most-static-first so a
// provider-side prompt cache can reuse the common prefix across turns, and
// each DB-backed contributor (meta-summary, rolling summary, profile,
// skills) is individually feature-flagged and timed as an "enricher".
package chatcontext

import "time"

// StoredMessage is one persisted conversation turn.
type StoredMessage struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Assessment is an inline per-user-message evaluation, injected into the
// assembled history as a system message immediately following the user
// turn it assessed.
type Assessment struct {
	AfterMessageID string
	Content        string
	Timestamp      time.Time
}

// Message is one entry of the assembled LLM input.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ChatContext is the ordered LLM input produced by Build.
type ChatContext struct {
	Messages      []Message
	SummaryText   string
	SummaryCutoff time.Time
}

// PrefetchedEnrichers is the bundle produced by Builder.Prefetch: the
// result of every enabled enricher, computed once (typically overlapped
// with STT) and merged into the ChatContext by Build without repeating the
// underlying DB queries.
type PrefetchedEnrichers struct {
	Onboarding    bool
	MetaSummary   string
	SummaryText   string
	SummaryCutoff time.Time
	ProfileText   string
	SkillsText    string
}

// PrefetchRequest parameterizes Builder.Prefetch.
type PrefetchRequest struct {
	PipelineRunID string
	SessionID     string
	UserID        string
	SkillIDs      []string
	Onboarding    bool

	// Service/SessionID/UserID/OrgID/RequestID stamp every enricher event.
	Meta EventMeta
}

// EventMeta is the identity set stamped on every enricher.*.{started,
// completed} event. It mirrors observability.EventMeta field for field;
// Prefetch copies it into an observability.EventMeta.
type EventMeta struct {
	Service   string
	SessionID string
	UserID    string
	OrgID     string
	RequestID string
}

// BuildRequest parameterizes Builder.Build.
type BuildRequest struct {
	PipelineRunID string
	SessionID     string
	UserID        string
	Onboarding    bool
	PlatformHint  string // "web" or "native"; applied only when Onboarding.
	PromptVersion string // "v1" or "v2"
	SkillIDs      []string

	// Meta stamps enricher events when Build runs the enrichers itself
	// (i.e. Prefetched is nil).
	Meta EventMeta

	// LastN is the number of most-recent messages always included,
	// regardless of the summary cutoff. Zero selects the default of 6.
	LastN int

	// Prefetched, when non-nil, skips the enricher DB queries Build would
	// otherwise perform itself.
	Prefetched *PrefetchedEnrichers
}

const defaultLastN = 6
