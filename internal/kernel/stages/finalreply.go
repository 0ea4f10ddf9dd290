package stages

import "github.com/hellosales/coachkernel/internal/kernel/stage"

// FinalReplyStage resolves which checkpoint's content actually reaches the
// client and persistence: a block at pre_llm or pre_delivery replaces the
// raw llm_stream output with safeBlockedReply, but the token stream itself
// (ctx.Ports.SendToken, during llm_stream.Run) has already gone out — per
// spec.md §4.6/§4.7, guardrails only gate what gets persisted and returned
// as the final message, not the in-flight partial tokens.
//
// It always depends on guard_pre_delivery (present in every topology) plus
// the two earlier gates so it can prefer whichever blocked first.
type FinalReplyStage struct{}

func (s *FinalReplyStage) Name() string { return "final_reply" }
func (s *FinalReplyStage) Kind() stage.Kind { return stage.KindTransform }
func (s *FinalReplyStage) Dependencies() []string {
	return []string{"policy_pre_llm", "guard_pre_llm", "guard_pre_delivery"}
}
func (s *FinalReplyStage) Optional() bool { return false }

func (s *FinalReplyStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	if allowed, ok := ctx.Input("policy_pre_llm", "allowed"); ok && allowed == false {
		if content, ok := ctx.Input("policy_pre_llm", "content"); ok {
			if s, ok := content.(string); ok && s != "" {
				return stage.Output{Status: stage.StatusOK, Data: map[string]any{"content": s}}, nil
			}
		}
		return stage.Output{Status: stage.StatusOK, Data: map[string]any{"content": safeBlockedReply}}, nil
	}

	if allowed, ok := ctx.Input("guard_pre_llm", "allowed"); ok && allowed == false {
		return stage.Output{Status: stage.StatusOK, Data: map[string]any{"content": safeBlockedReply}}, nil
	}

	content := ""
	if v, ok := ctx.Input("guard_pre_delivery", "content"); ok {
		content, _ = v.(string)
	}
	return stage.Output{Status: stage.StatusOK, Data: map[string]any{"content": content}}, nil
}
