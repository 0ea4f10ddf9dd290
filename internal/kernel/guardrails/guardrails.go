// Package guardrails implements the GuardrailsStage: content-level checks
// on user input before the LLM runs and on model output before it is
// delivered to the user. It mirrors [policy.Gateway]'s {ALLOW, BLOCK}
// decision shape — the same checkpoint-based gate pattern applied to
// content instead of budget/rate/tenant rules, per spec.md §4.4.
package guardrails

import "strings"

// Checkpoint names the gate point a [Decision] was made at.
type Checkpoint string

const (
	CheckpointPreLLM      Checkpoint = "pre_llm"
	CheckpointPreDelivery Checkpoint = "pre_delivery"
)

// Decision is the {ALLOW, BLOCK} outcome of one guardrails check.
type Decision struct {
	Allowed    bool
	Checkpoint Checkpoint
	Reason     string
}

// Config parameterizes the stage. ForceDecision/ForceReason, when non-nil,
// are consulted only when Enabled is true — they exist so deterministic
// scenario tests can force a block without needing real banned content.
type Config struct {
	Enabled       bool
	ForceDecision *string
	ForceReason   *string
}

// Stage performs content-level checks. The zero value with Enabled=false
// always allows.
type Stage struct {
	cfg           Config
	bannedPhrases []string
}

// NewStage builds a Stage. bannedPhrases is matched case-insensitively as a
// substring against the checked content; pass nil for no phrase filtering
// (useful when only the force-override path is exercised).
func NewStage(cfg Config, bannedPhrases []string) *Stage {
	return &Stage{cfg: cfg, bannedPhrases: bannedPhrases}
}

// Check evaluates content at checkpoint.
func (s *Stage) Check(checkpoint Checkpoint, content string) Decision {
	if !s.cfg.Enabled {
		return Decision{Allowed: true, Checkpoint: checkpoint}
	}

	if s.cfg.ForceDecision != nil {
		if strings.EqualFold(*s.cfg.ForceDecision, "block") {
			reason := "forced"
			if s.cfg.ForceReason != nil {
				reason = *s.cfg.ForceReason
			}
			return Decision{Allowed: false, Checkpoint: checkpoint, Reason: reason}
		}
		return Decision{Allowed: true, Checkpoint: checkpoint}
	}

	lower := strings.ToLower(content)
	for _, phrase := range s.bannedPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return Decision{Allowed: false, Checkpoint: checkpoint, Reason: "banned_phrase_detected"}
		}
	}

	return Decision{Allowed: true, Checkpoint: checkpoint}
}
