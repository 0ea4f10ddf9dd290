// Package observability implements the kernel's durable observability
// surface: the append-only pipeline event stream, the PipelineRun row
// lifecycle, and provider-call timing/recording.
//
// It is grounded on the teacher's internal/observe package for the logging
// conventions (structured log/slog attributes, scoped timing) and on
// pkg/memory/postgres for the store-behind-an-interface repository shape —
// concrete stores live in internal/storage/postgres; this package only
// defines the contracts and the async delivery wrapper.
package observability

import "time"

// PipelineEvent is one row of the append-only pipeline_events stream.
// Type is a dotted namespace, e.g. "pipeline.created", "llm.first_token",
// "policy.decision", "enricher.profile.completed".
type PipelineEvent struct {
	PipelineRunID string
	Type          string
	Data          map[string]any
	Timestamp     time.Time

	// Identity fields carried on every event so a single query can
	// reconstruct any turn without a join.
	Service   string
	SessionID string
	UserID    string
	OrgID     string
	RequestID string
}

// StageMetric captures one stage's contribution to a PipelineRun's stages
// map: latency and, where applicable, token/audio counters.
type StageMetric struct {
	Status       string // "ok" | "skipped" | "error" | "canceled"
	Reason       string // skip/cancel reason, empty on ok
	Latency      time.Duration
	TokensIn     int
	TokensOut    int
	TimeToFirst  time.Duration // TTFT/TTFA/TTFC depending on stage kind
	ErrorClass   string
	ErrorMessage string
}

// RunRecord is the PipelineRun row persisted at run setup.
type RunRecord struct {
	PipelineRunID string
	Service       string
	Topology      string
	Behavior      string
	Trigger       string
	RequestID     string
	SessionID     string
	UserID        string
	OrgID         string
	CreatedAt     time.Time
}

// TerminalResult is the outcome patched onto a PipelineRun at the run's
// terminal event.
type TerminalResult struct {
	Success      bool
	Cancelled    bool
	Degraded     bool
	ErrorStage   string
	ErrorClass   string
	ErrorMessage string
	Stages       map[string]StageMetric
}

// ProviderCallRecord is one row of the provider_calls table: one per
// provider invocation, keyed by CallID once persisted.
type ProviderCallRecord struct {
	CallID        string
	Service       string
	Operation     string // "stt" | "llm" | "tts"
	Provider      string
	Model         string
	PipelineRunID string
	SessionID     string
	InteractionID string // may be empty; backfilled later
	RequestID     string
	PromptTokens  int
	Prompt        map[string]any
	StartedAt     time.Time
}

// ProviderCallPatch augments a ProviderCallRecord after the call completes.
type ProviderCallPatch struct {
	Output        map[string]any
	Latency       time.Duration
	TokensIn      int
	TokensOut     int
	AudioDuration time.Duration
	CostUSD       float64
	Success       bool
	Error         string
	InteractionID string // set when backfilling
}
