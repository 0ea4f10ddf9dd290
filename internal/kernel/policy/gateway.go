package policy

import (
	"slices"
	"time"

	"github.com/hellosales/coachkernel/internal/config"
)

// Action is one structured action an agent's output was parsed into,
// checked against an intent's allowlist before execution.
type Action struct {
	Type string
	Args map[string]any
}

// Artifact is one structured result an action produced, checked against an
// intent's allowlist after execution.
type Artifact struct {
	Type string
	Data map[string]any
}

// PreLLMRequest carries the fields [Gateway.CheckPreLLM] evaluates.
type PreLLMRequest struct {
	UserID          string
	OrgID           string
	Intent          string
	EstimatedTokens int
}

// Gateway evaluates budget (prompt-token estimate vs. cap), rate (runs per
// minute), tenant membership (org/user allowlists), and intent-specific
// action/artifact allowlists. Safe for concurrent use.
type Gateway struct {
	cfg     config.PolicyConfig
	rules   *RuleSet
	limiter *RateLimiter
}

// NewGateway builds a Gateway from cfg and a pre-parsed, schema-validated
// rule set (see [ParseIntentRules]).
func NewGateway(cfg config.PolicyConfig, rules *RuleSet) *Gateway {
	if rules == nil {
		rules = &RuleSet{rules: map[string]IntentRule{}}
	}
	return &Gateway{
		cfg:     cfg,
		rules:   rules,
		limiter: NewRateLimiter(time.Minute),
	}
}

// CheckPreLLM evaluates budget, rate, and tenant membership before the LLM
// stage runs. A BLOCK here means the assistant message is set to a fixed
// safe string and the pipeline still reaches pipeline.completed.
func (g *Gateway) CheckPreLLM(req PreLLMRequest) Decision {
	if !g.cfg.GatewayEnabled {
		return allow(CheckpointPreLLM, req.Intent)
	}

	if g.cfg.MaxPromptTokens > 0 && req.EstimatedTokens > g.cfg.MaxPromptTokens {
		return block(CheckpointPreLLM, req.Intent, "prompt_token_budget_exceeded")
	}

	if len(g.cfg.AllowlistOrgs) > 0 && req.OrgID != "" && !slices.Contains(g.cfg.AllowlistOrgs, req.OrgID) {
		return block(CheckpointPreLLM, req.Intent, "org_not_allowlisted")
	}
	if len(g.cfg.AllowlistUsers) > 0 && !slices.Contains(g.cfg.AllowlistUsers, req.UserID) {
		return block(CheckpointPreLLM, req.Intent, "user_not_allowlisted")
	}

	if !g.limiter.Allow(req.UserID, g.cfg.MaxRunsPerMinute) {
		return block(CheckpointPreLLM, req.Intent, "rate_limit_exceeded")
	}

	return allow(CheckpointPreLLM, req.Intent)
}

// CheckPreAction checks action against intent's allowed_actions list. An
// intent with no configured rule is permissive — the allowlist mechanism
// only constrains intents explicitly listed in policy_intent_rules_json.
func (g *Gateway) CheckPreAction(intent string, action Action) Decision {
	if !g.cfg.GatewayEnabled {
		return allow(CheckpointPreAction, intent)
	}
	rule, ok := g.rules.Rule(intent)
	if !ok || len(rule.AllowedActions) == 0 {
		return allow(CheckpointPreAction, intent)
	}
	if !slices.Contains(rule.AllowedActions, action.Type) {
		return block(CheckpointPreAction, intent, "action_not_allowlisted")
	}
	return allow(CheckpointPreAction, intent)
}

// CheckPostAction checks artifact against intent's allowed_artifacts list,
// the same way CheckPreAction checks actions.
func (g *Gateway) CheckPostAction(intent string, artifact Artifact) Decision {
	if !g.cfg.GatewayEnabled {
		return allow(CheckpointPostAction, intent)
	}
	rule, ok := g.rules.Rule(intent)
	if !ok || len(rule.AllowedArtifacts) == 0 {
		return allow(CheckpointPostAction, intent)
	}
	if !slices.Contains(rule.AllowedArtifacts, artifact.Type) {
		return block(CheckpointPostAction, intent, "artifact_not_allowlisted")
	}
	return allow(CheckpointPostAction, intent)
}
