// Package topology wires the concrete chat and voice stage graphs the
// orchestrator runs. Each exported builder (ChatFast, VoiceAccurate, ...)
// closes over a *Dependencies holding the long-lived, already-resolved
// collaborators — providers, stores, breakers, the chat-context builder —
// and returns a [pipeline.Topology] that reads only the genuinely per-run
// fields out of the cfg map handed to it at build time.
//
// Grounded on internal/kernel/pipeline/orchestrator_test.go's fixture
// topologies: real topologies are plain closures over resolved
// dependencies, not structs that resolve anything themselves.
package topology

import (
	"fmt"

	"github.com/hellosales/coachkernel/internal/kernel/action"
	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/guardrails"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/policy"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
	"github.com/hellosales/coachkernel/pkg/provider/stt"
	"github.com/hellosales/coachkernel/pkg/provider/tts"
)

// Dependencies holds every long-lived collaborator a chat or voice topology
// wires into its stage graph. A single Dependencies value is built once at
// process start and shared across every run; nothing on it is run-scoped.
type Dependencies struct {
	LLMPrimaryName  string
	LLMPrimaryModel string
	LLMPrimary      llm.Provider
	LLMBackupName   string
	LLMBackupModel  string
	LLMBackup       llm.Provider // nil disables fallback

	TriageName  string
	TriageModel string
	Triage      llm.Provider

	STTName  string
	STTModel string
	STT      stt.Provider

	TTSName  string
	TTSModel string
	TTS      tts.Provider

	Breakers *breaker.Registry
	Retry    retry.Policy
	Calls    *observability.ProviderCallLogger

	ChatBuilder *chatcontext.Builder
	Guardrails  *guardrails.Stage
	Policy      *policy.Gateway

	Interactions stages.InteractionStore
	Assessments  stages.AssessmentStore

	Actions *action.Executor

	// DefaultIntent names the policy intent checked when cfg carries none.
	DefaultIntent string
}

// runConfig is the set of per-run fields every topology reads out of the
// cfg map a [pipeline.Topology] closure receives. Configuration lives on
// pipeline.RunRequest and is populated by the transport layer from the
// inbound frame, so each field here corresponds to one frame field of
// spec.md §6.1.
type runConfig struct {
	sessionID string
	userID    string
	orgID     string
	intent    string

	content  string // chat.message/chat.typed's text content
	skillIDs []string

	audio    []byte // voice.end's buffered audio
	format   string
	language string

	voice string // TTS voice name
	speed float64

	onboarding    bool
	platformHint  string
	promptVersion string
	lastN         int

	temperature     float64
	maxTokens       int
	cacheKey        string
	estimatedTokens int
}

func newRunConfig(cfg map[string]any, d *Dependencies) runConfig {
	return runConfig{
		sessionID: strCfg(cfg, "session_id", ""),
		userID:    strCfg(cfg, "user_id", ""),
		orgID:     strCfg(cfg, "org_id", ""),
		intent:    strCfg(cfg, "intent", d.DefaultIntent),

		content:  strCfg(cfg, "content", ""),
		skillIDs: strSliceCfg(cfg, "skill_ids"),

		audio:    bytesCfg(cfg, "audio"),
		format:   strCfg(cfg, "format", "wav"),
		language: strCfg(cfg, "language", ""),

		voice: strCfg(cfg, "voice", "default"),
		speed: floatCfg(cfg, "speed", 1.0),

		onboarding:    boolCfg(cfg, "onboarding", false),
		platformHint:  strCfg(cfg, "platform_hint", "web"),
		promptVersion: strCfg(cfg, "prompt_version", "v1"),
		lastN:         intCfg(cfg, "last_n", 0),

		temperature:     floatCfg(cfg, "temperature", 0.7),
		maxTokens:       intCfg(cfg, "max_tokens", 1024),
		cacheKey:        strCfg(cfg, "cache_key", ""),
		estimatedTokens: intCfg(cfg, "estimated_tokens", 0),
	}
}

func strCfg(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func boolCfg(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func intCfg(cfg map[string]any, key string, def int) int {
	if v, ok := cfg[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

func floatCfg(cfg map[string]any, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func bytesCfg(cfg map[string]any, key string) []byte {
	if v, ok := cfg[key]; ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

func strSliceCfg(cfg map[string]any, key string) []string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.([]string); ok {
			return s
		}
	}
	return nil
}

// contextBuildRequest translates a runConfig into the chatcontext.BuildRequest
// every chat/voice topology passes to context_build. PipelineRunID/SessionID/
// UserID/RequestID/OrgID are placeholders here — ContextBuildStage.Run
// overrides them from the run's authoritative ctx.Snapshot at execution
// time, since the true PipelineRunID is not known until the orchestrator
// starts the run, after the topology has already been built.
func (rc runConfig) contextBuildRequest(service string) chatcontext.BuildRequest {
	return chatcontext.BuildRequest{
		SessionID:     rc.sessionID,
		UserID:        rc.userID,
		Onboarding:    rc.onboarding,
		PlatformHint:  rc.platformHint,
		PromptVersion: rc.promptVersion,
		SkillIDs:      rc.skillIDs,
		LastN:         rc.lastN,
		Meta: chatcontext.EventMeta{
			Service:   service,
			SessionID: rc.sessionID,
			UserID:    rc.userID,
			OrgID:     rc.orgID,
		},
	}
}

// errTopology wraps the one error topology builders return: a malformed
// cfg value (e.g. a voice topology with no audio) refuses to build the
// graph at all rather than constructing stages doomed to fail.
func errTopology(name, reason string) error {
	return fmt.Errorf("topology %s: %s", name, reason)
}
