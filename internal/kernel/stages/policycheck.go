package stages

import (
	"github.com/hellosales/coachkernel/internal/kernel/policy"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// safePolicyBlockedReply replaces the assistant message whenever the
// policy gateway blocks pre_llm — the run still reaches completed.
const safePolicyBlockedReply = "I'm not able to continue this request right now."

// PolicyPreLLMStage runs [policy.Gateway.CheckPreLLM] concurrently with
// context_build/llm_stream. A BLOCK does not fail the pipeline: final_reply
// prefers this stage's fixed safe reply over whatever llm_stream produced,
// per spec.md §4.4, so the blocked turn still reaches completed.
type PolicyPreLLMStage struct {
	Gateway *policy.Gateway

	UserID          string
	OrgID           string
	Intent          string
	EstimatedTokens int
}

func (s *PolicyPreLLMStage) Name() string          { return "policy_pre_llm" }
func (s *PolicyPreLLMStage) Kind() stage.Kind      { return stage.KindGuard }
func (s *PolicyPreLLMStage) Dependencies() []string { return nil }
func (s *PolicyPreLLMStage) Optional() bool         { return true }

func (s *PolicyPreLLMStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	decision := s.Gateway.CheckPreLLM(policy.PreLLMRequest{
		UserID: s.UserID, OrgID: s.OrgID, Intent: s.Intent, EstimatedTokens: s.EstimatedTokens,
	})

	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("policy.pre_llm.checked", map[string]any{
			"allowed": decision.Allowed, "reason": decision.Reason, "intent": decision.Intent,
		})
	}

	content := ""
	if !decision.Allowed {
		content = safePolicyBlockedReply
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data: map[string]any{
			"allowed": decision.Allowed, "reason": decision.Reason, "intent": decision.Intent, "content": content,
		},
	}, nil
}

// PolicyActionStage runs CheckPreAction, then — only if allowed — executes
// the action via Executor, then runs CheckPostAction on its artifact.
// Either gate denying skips execution and reports the denial reason.
type PolicyActionStage struct {
	Gateway  *policy.Gateway
	Intent   string
	Action   policy.Action
	Executor func(ctx stage.Context, action policy.Action) (policy.Artifact, error)

	DependsOn []string
}

func (s *PolicyActionStage) Name() string           { return "policy_action_" + s.Action.Type }
func (s *PolicyActionStage) Kind() stage.Kind       { return stage.KindAgent }
func (s *PolicyActionStage) Dependencies() []string { return s.DependsOn }
func (s *PolicyActionStage) Optional() bool         { return true }

func (s *PolicyActionStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	pre := s.Gateway.CheckPreAction(s.Intent, s.Action)
	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("policy.pre_action.checked", map[string]any{
			"allowed": pre.Allowed, "reason": pre.Reason, "intent": s.Intent, "action": s.Action.Type,
		})
	}
	if !pre.Allowed {
		return stage.Output{Status: stage.StatusOK, Data: map[string]any{"allowed": false, "reason": pre.Reason}}, nil
	}

	artifact, err := s.Executor(ctx, s.Action)
	if err != nil {
		return stage.Output{Status: stage.StatusError, Err: err}, nil
	}

	post := s.Gateway.CheckPostAction(s.Intent, artifact)
	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("policy.post_action.checked", map[string]any{
			"allowed": post.Allowed, "reason": post.Reason, "intent": s.Intent, "artifact": artifact.Type,
		})
	}
	if !post.Allowed {
		return stage.Output{Status: stage.StatusOK, Data: map[string]any{"allowed": false, "reason": post.Reason}}, nil
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data:   map[string]any{"allowed": true, "artifact": artifact},
	}, nil
}
