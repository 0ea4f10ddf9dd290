package guardrails_test

import (
	"testing"

	"github.com/hellosales/coachkernel/internal/kernel/guardrails"
)

func ptr(s string) *string { return &s }

func TestStage_DisabledAlwaysAllows(t *testing.T) {
	s := guardrails.NewStage(guardrails.Config{Enabled: false}, []string{"banned"})
	d := s.Check(guardrails.CheckpointPreLLM, "this contains banned content")
	if !d.Allowed {
		t.Errorf("expected disabled stage to always allow, got %+v", d)
	}
}

func TestStage_BlocksBannedPhrase(t *testing.T) {
	s := guardrails.NewStage(guardrails.Config{Enabled: true}, []string{"self-harm"})
	d := s.Check(guardrails.CheckpointPreLLM, "Tips about Self-Harm please")
	if d.Allowed || d.Reason != "banned_phrase_detected" {
		t.Errorf("expected banned phrase block, got %+v", d)
	}
}

func TestStage_AllowsCleanContent(t *testing.T) {
	s := guardrails.NewStage(guardrails.Config{Enabled: true}, []string{"self-harm"})
	d := s.Check(guardrails.CheckpointPreDelivery, "Here's how to set up your morning routine.")
	if !d.Allowed {
		t.Errorf("expected clean content to be allowed, got %+v", d)
	}
}

func TestStage_ForceDecisionBlocksRegardlessOfContent(t *testing.T) {
	s := guardrails.NewStage(guardrails.Config{
		Enabled:       true,
		ForceDecision: ptr("block"),
		ForceReason:   ptr("scenario_test_forced_block"),
	}, nil)
	d := s.Check(guardrails.CheckpointPreLLM, "perfectly clean content")
	if d.Allowed || d.Reason != "scenario_test_forced_block" {
		t.Errorf("expected forced block, got %+v", d)
	}
}

func TestStage_ForceDecisionAllowIgnoresBannedPhrases(t *testing.T) {
	s := guardrails.NewStage(guardrails.Config{
		Enabled:       true,
		ForceDecision: ptr("allow"),
	}, []string{"banned"})
	d := s.Check(guardrails.CheckpointPreLLM, "this contains banned content")
	if !d.Allowed {
		t.Errorf("expected forced allow to override banned phrase detection, got %+v", d)
	}
}
