package config

import "slices"

// ConfigDiff describes what changed between two configs. It tracks the log
// level, pipeline mode, enrichers, policy and guardrails sections; provider
// and MCP server settings are not tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PipelineModeChanged bool
	NewPipelineMode     PipelineMode

	EnrichersChanged bool
	NewEnrichers     EnricherConfig

	PolicyChanged    bool
	GuardrailsChanged bool
}

// Diff compares old and new configs and returns what changed in the sections
// [ConfigDiff] tracks. Changes to provider credentials and MCP server wiring
// are not reported.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = LogLevel(new.Server.LogLevel)
	}

	if old.Pipeline.Mode != new.Pipeline.Mode {
		d.PipelineModeChanged = true
		d.NewPipelineMode = PipelineMode(new.Pipeline.Mode)
	}

	if old.Pipeline.Enrichers != new.Pipeline.Enrichers {
		d.EnrichersChanged = true
		d.NewEnrichers = new.Pipeline.Enrichers
	}

	if !policyEqual(old.Policy, new.Policy) {
		d.PolicyChanged = true
	}

	if !guardrailsEqual(old.Guardrails, new.Guardrails) {
		d.GuardrailsChanged = true
	}

	return d
}

// guardrailsEqual compares two GuardrailsConfig values by the content their
// ForceDecision/ForceReason pointers refer to, not pointer identity — two
// separately loaded configs with the same override string must compare
// equal.
func guardrailsEqual(a, b GuardrailsConfig) bool {
	return a.Enabled == b.Enabled &&
		stringPtrEqual(a.ForceDecision, b.ForceDecision) &&
		stringPtrEqual(a.ForceReason, b.ForceReason)
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// policyEqual compares two PolicyConfig values. PolicyConfig holds slice
// fields, so it is not comparable with ==.
func policyEqual(a, b PolicyConfig) bool {
	return a.GatewayEnabled == b.GatewayEnabled &&
		a.LLMMaxTokens == b.LLMMaxTokens &&
		a.MaxPromptTokens == b.MaxPromptTokens &&
		a.MaxRunsPerMinute == b.MaxRunsPerMinute &&
		a.IntentRulesJSON == b.IntentRulesJSON &&
		slices.Equal(a.AllowlistUsers, b.AllowlistUsers) &&
		slices.Equal(a.AllowlistOrgs, b.AllowlistOrgs)
}
