// Package policy implements the PolicyGateway: budget, rate, tenant, and
// intent-allowlist checks consulted at pre_llm, pre_action, and
// post_action. A block at any checkpoint never fails the pipeline — the
// caller substitutes a safe response and the run still reaches
// pipeline.completed.
package policy

// Checkpoint names the gate point a [Decision] was made at.
type Checkpoint string

const (
	CheckpointPreLLM     Checkpoint = "pre_llm"
	CheckpointPreAction  Checkpoint = "pre_action"
	CheckpointPostAction Checkpoint = "post_action"
)

// Decision is the {ALLOW, BLOCK} outcome of one gateway check.
type Decision struct {
	Allowed    bool
	Checkpoint Checkpoint
	Reason     string
	Intent     string
}

func allow(checkpoint Checkpoint, intent string) Decision {
	return Decision{Allowed: true, Checkpoint: checkpoint, Intent: intent}
}

func block(checkpoint Checkpoint, intent, reason string) Decision {
	return Decision{Allowed: false, Checkpoint: checkpoint, Intent: intent, Reason: reason}
}
