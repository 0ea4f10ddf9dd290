package policy

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// intentRuleSchemaJSON is the JSON Schema policy_intent_rules_json must
// satisfy. Validated once at config load time via
// [github.com/google/jsonschema-go] so a malformed rules file is a
// load-time error, never a runtime pre_llm surprise.
const intentRuleSchemaJSON = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "allowed_actions":   { "type": "array", "items": { "type": "string" } },
      "allowed_artifacts": { "type": "array", "items": { "type": "string" } }
    },
    "additionalProperties": false
  }
}`

// IntentRule is the allowlist of action and artifact types a single intent
// may produce.
type IntentRule struct {
	AllowedActions   []string `json:"allowed_actions"`
	AllowedArtifacts []string `json:"allowed_artifacts"`
}

// RuleSet is the parsed, schema-validated form of policy_intent_rules_json,
// keyed by intent name.
type RuleSet struct {
	rules map[string]IntentRule
}

// Rule returns the rule registered for intent, if any.
func (r *RuleSet) Rule(intent string) (IntentRule, bool) {
	if r == nil {
		return IntentRule{}, false
	}
	rule, ok := r.rules[intent]
	return rule, ok
}

// ParseIntentRules validates raw against the intent-rule JSON Schema and
// unmarshals it into a [RuleSet]. An empty raw string yields an empty,
// always-permissive rule set.
func ParseIntentRules(raw string) (*RuleSet, error) {
	if raw == "" {
		return &RuleSet{rules: map[string]IntentRule{}}, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(intentRuleSchemaJSON), &schema); err != nil {
		return nil, fmt.Errorf("policy: parse intent rule schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve intent rule schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, fmt.Errorf("policy: intent rules is not valid JSON: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("policy: intent rules failed schema validation: %w", err)
	}

	var rules map[string]IntentRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("policy: unmarshal intent rules: %w", err)
	}
	return &RuleSet{rules: rules}, nil
}
