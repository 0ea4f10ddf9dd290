// Package stage defines the Stage abstraction and the StageGraph executor
// that schedules a DAG of stages for one pipeline run.
package stage

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Kind discriminates the role a [Stage] plays for registry lookup and
// observability. It does not affect how the graph schedules the stage.
type Kind string

// Recognised stage kinds.
const (
	KindTransform Kind = "TRANSFORM"
	KindEnrich    Kind = "ENRICH"
	KindRoute     Kind = "ROUTE"
	KindGuard     Kind = "GUARD"
	KindWork      Kind = "WORK"
	KindAgent     Kind = "AGENT"
)

// Status is the terminal state of one stage's execution. A stage produces
// exactly one of these; there is no partial-result state.
type Status string

// Recognised terminal statuses.
const (
	StatusOK       Status = "ok"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Skip reasons used in [Output.Data] under the "reason" key when
// Status is [StatusSkipped].
const (
	ReasonMissingInput  = "missing_input"
	ReasonUpstreamError = "upstream_error"
)

// Snapshot is an immutable projection of the run's identity fields, handed to
// every stage so that a stage cannot mutate fields that define the run.
type Snapshot struct {
	PipelineRunID string
	RequestID     string
	SessionID     string
	UserID        string
	OrgID         string
	InteractionID string
	Topology      string
	Behavior      string
	Service       string
	Configuration map[string]any
}

// Ports are the typed callbacks a stage uses to emit results to the client
// and to observability, without reaching into a sibling stage's state.
type Ports struct {
	// SendToken forwards one generated LLM token to the client.
	SendToken func(token string)

	// SendAudioChunk forwards one synthesized audio chunk to the client.
	SendAudioChunk func(audio []byte, format string, durationMs int, isFinal bool)

	// Emit publishes a structured pipeline event (type plus JSON-able data).
	Emit func(eventType string, data map[string]any)

	// PartialText is the bounded hand-off queue from an LLM stage to a TTS
	// stage. Nil when the topology does not wire incremental TTS.
	PartialText chan string
}

// Context is the per-stage view handed to [Stage.Run]. It carries the run
// snapshot, this stage's resolved inputs, and ports for side-channel output.
type Context struct {
	context.Context

	Snapshot Snapshot
	Ports    Ports

	// Inputs holds the resolved StageOutput.Data of each declared dependency,
	// keyed by upstream stage name.
	Inputs map[string]map[string]any

	// canceled is flipped by the owning [Graph] when the run is cancelled.
	// Stages must check Canceled() at suspension points.
	canceled *atomic.Bool
}

// Canceled reports whether the owning pipeline run has been cancelled. Stages
// must check this at IO suspension points and return [StatusCanceled]
// promptly when it is true.
func (c Context) Canceled() bool {
	return c.canceled != nil && c.canceled.Load()
}

// Input returns the named key from the given upstream stage's output data,
// or false if the upstream stage did not run, did not produce that key, or
// was not declared as a dependency.
func (c Context) Input(stageName, key string) (any, bool) {
	data, ok := c.Inputs[stageName]
	if !ok {
		return nil, false
	}
	v, ok := data[key]
	return v, ok
}

// Output is the result of one stage invocation.
type Output struct {
	Status    Status
	Data      map[string]any
	Err       error
	Artifacts map[string]any
}

// Cancelled is raised by a stage to gracefully terminate the whole run — e.g.
// STT detecting no speech. The [Graph] catches it, marks every remaining
// stage [StatusCanceled] with Reason, and returns a nil error: the
// orchestrator reports this as success=true, cancelled=true.
type Cancelled struct {
	Stage  string
	Reason string
}

func (c *Cancelled) Error() string {
	return fmt.Sprintf("stage %q requested pipeline cancellation: %s", c.Stage, c.Reason)
}

// Stage is a named, typed unit of work participating in a [Graph].
type Stage interface {
	// Name is unique within one pipeline topology.
	Name() string

	// Kind classifies the stage for registry lookup and observability.
	Kind() Kind

	// Dependencies lists upstream stage names whose outputs this stage reads.
	// The graph will not invoke Run until every listed dependency has
	// reached a terminal status.
	Dependencies() []string

	// Optional reports whether a missing required input should still allow
	// this stage to run (with the input simply absent) rather than being
	// skipped with [ReasonMissingInput].
	Optional() bool

	// Run executes the stage. It may return a [*Cancelled] to gracefully
	// terminate the whole pipeline run.
	Run(ctx Context) (Output, error)
}
