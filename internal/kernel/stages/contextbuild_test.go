package stages_test

import (
	"context"
	"testing"

	"github.com/hellosales/coachkernel/internal/config"
	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
)

func TestContextBuildStage_FastBehaviorHasNoDependencies(t *testing.T) {
	s := &stages.ContextBuildStage{AwaitsAssessment: ""}
	if deps := s.Dependencies(); deps != nil {
		t.Errorf("Dependencies() = %v, want nil for fast behavior", deps)
	}
}

func TestContextBuildStage_AccurateBehaviorAwaitsAssessment(t *testing.T) {
	s := &stages.ContextBuildStage{AwaitsAssessment: "assessment_foreground"}
	deps := s.Dependencies()
	if len(deps) != 1 || deps[0] != "assessment_foreground" {
		t.Errorf("Dependencies() = %v, want [assessment_foreground]", deps)
	}
}

func TestContextBuildStage_BuildsMessagesForLLMStream(t *testing.T) {
	builder := chatcontext.NewBuilder(config.EnricherConfig{}, nil, nil, nil, nil, nil, nil, "you are a coach", "", "")
	s := &stages.ContextBuildStage{
		Builder: builder,
		Request: chatcontext.BuildRequest{SessionID: "sess-1", UserID: "user-1"},
	}
	out, err := s.Run(stage.Context{Context: context.Background()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != stage.StatusOK {
		t.Fatalf("status = %v", out.Status)
	}
	cc := out.Data["chat_context"].(*chatcontext.ChatContext)
	if len(cc.Messages) == 0 || cc.Messages[0].Content != "you are a coach" {
		t.Errorf("chat_context.Messages = %v", cc.Messages)
	}
}
