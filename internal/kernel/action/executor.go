package action

import (
	"encoding/json"
	"fmt"

	"github.com/hellosales/coachkernel/internal/kernel/policy"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

// Executor adapts a Host to the func(stage.Context, policy.Action)
// (policy.Artifact, error) shape that stages.PolicyActionStage.Executor
// expects, so a tool call the LLM requested only ever reaches a real tool
// after passing the pre_action policy gate, and its result only ever reaches
// the assistant after passing the post_action gate.
type Executor struct {
	Host Host
}

// Execute runs action.Type as a tool call with action.Args JSON-encoded as
// arguments, and folds the result into a policy.Artifact. A tool-level
// application error (ToolResult.IsError) is not a Go error: it is surfaced as
// an artifact with Data["is_error"]=true so CheckPostAction can still see it.
func (e *Executor) Execute(ctx stage.Context, act policy.Action) (policy.Artifact, error) {
	args, err := json.Marshal(act.Args)
	if err != nil {
		return policy.Artifact{}, fmt.Errorf("action: encoding args for %q: %w", act.Type, err)
	}
	if act.Args == nil {
		args = []byte("{}")
	}

	result, err := e.Host.ExecuteTool(ctx.Context, act.Type, string(args))
	if err != nil {
		return policy.Artifact{}, err
	}

	return policy.Artifact{
		Type: act.Type,
		Data: map[string]any{
			"content":     result.Content,
			"is_error":    result.IsError,
			"duration_ms": result.DurationMs,
		},
	}, nil
}

// ParseToolCalls converts the tool calls an LLM provider returned into the
// policy.Action values PolicyActionStage expects, one per call. A tool call
// whose Arguments is not valid JSON still produces an Action with empty Args
// rather than failing the whole batch — the tool itself, or the pre_action
// gate, is responsible for rejecting malformed input.
func ParseToolCalls(calls []llm.ToolCall) []policy.Action {
	actions := make([]policy.Action, 0, len(calls))
	for _, c := range calls {
		var args map[string]any
		if c.Arguments != "" {
			_ = json.Unmarshal([]byte(c.Arguments), &args)
		}
		actions = append(actions, policy.Action{Type: c.Name, Args: args})
	}
	return actions
}
