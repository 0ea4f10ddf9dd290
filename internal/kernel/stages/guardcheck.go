package stages

import (
	"github.com/hellosales/coachkernel/internal/kernel/guardrails"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// safeBlockedReply replaces the assistant message whenever a guardrails
// check blocks at the pre_llm or pre_delivery checkpoint.
const safeBlockedReply = "I can't help with that one. Let's try a different approach."

// GuardPreLLMStage checks the user's input content at the pre_llm
// checkpoint before context_build feeds it to the LLM stage.
type GuardPreLLMStage struct {
	Stage       *guardrails.Stage
	ContentFrom string // upstream stage name supplying Data["text"] or Data["content"]
}

func (s *GuardPreLLMStage) Name() string           { return "guard_pre_llm" }
func (s *GuardPreLLMStage) Kind() stage.Kind       { return stage.KindGuard }
func (s *GuardPreLLMStage) Dependencies() []string {
	if s.ContentFrom == "" {
		return nil
	}
	return []string{s.ContentFrom}
}
func (s *GuardPreLLMStage) Optional() bool         { return true }

func (s *GuardPreLLMStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	content := readContent(ctx, s.ContentFrom)
	decision := s.Stage.Check(guardrails.CheckpointPreLLM, content)

	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("guardrails.pre_llm.checked", map[string]any{
			"allowed": decision.Allowed, "reason": decision.Reason,
		})
	}

	data := map[string]any{"allowed": decision.Allowed, "reason": decision.Reason}
	if !decision.Allowed {
		data["content"] = safeBlockedReply
	}
	return stage.Output{Status: stage.StatusOK, Data: data}, nil
}

// GuardPreDeliveryStage checks the assembled assistant reply at the
// pre_delivery checkpoint before tts_incremental/persist_assistant_message
// consume it. A block substitutes safeBlockedReply for the content.
type GuardPreDeliveryStage struct {
	Stage *guardrails.Stage
}

func (s *GuardPreDeliveryStage) Name() string           { return "guard_pre_delivery" }
func (s *GuardPreDeliveryStage) Kind() stage.Kind       { return stage.KindGuard }
func (s *GuardPreDeliveryStage) Dependencies() []string { return []string{"llm_stream"} }
func (s *GuardPreDeliveryStage) Optional() bool         { return false }

func (s *GuardPreDeliveryStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	content := readContent(ctx, "llm_stream")
	decision := s.Stage.Check(guardrails.CheckpointPreDelivery, content)

	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("guardrails.pre_delivery.checked", map[string]any{
			"allowed": decision.Allowed, "reason": decision.Reason,
		})
	}

	if !decision.Allowed {
		content = safeBlockedReply
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data:   map[string]any{"allowed": decision.Allowed, "reason": decision.Reason, "content": content},
	}, nil
}

// readContent pulls whichever of "content" or "text" the named upstream
// stage populated — stages disagree on the key name (stt uses "text",
// llm_stream uses "content").
func readContent(ctx stage.Context, stageName string) string {
	if v, ok := ctx.Input(stageName, "content"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if v, ok := ctx.Input(stageName, "text"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
