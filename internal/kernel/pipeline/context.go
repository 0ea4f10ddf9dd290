// Package pipeline implements the single entry point for running any
// topology: [Orchestrator.Run] persists a run record, assembles the run
// context, executes the topology's stage graph, and reports exactly one
// terminal event.
//
// Grounded on the teacher's internal/agent/orchestrator package for the
// mutex-protected snapshot-then-release concurrency shape, generalized from
// NPC routing to generic stage-graph execution.
package pipeline

import (
	"sync/atomic"

	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// ContextSnapshot is an immutable projection of [Context] handed to stages.
// It is exactly [stage.Snapshot] — the stage package already defines the
// projection shape the executor consumes; Context.Snapshot builds one of
// these directly so there is a single struct definition, not two that must
// be kept in sync.
type ContextSnapshot = stage.Snapshot

// Context is the run-scoped state threaded through one pipeline invocation.
// It is mutable only by the orchestrator; stages receive an immutable
// [ContextSnapshot] instead.
type Context struct {
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

	canceled *atomic.Bool
	data     map[string]any
}

// NewContext builds a Context for one pipeline run. configuration may be
// nil; it is treated as empty.
func NewContext(runID, requestID, sessionID, userID, orgID, topology, behavior, service string, configuration map[string]any) *Context {
	if configuration == nil {
		configuration = map[string]any{}
	}
	return &Context{
		PipelineRunID: runID,
		RequestID:     requestID,
		SessionID:     sessionID,
		UserID:        userID,
		OrgID:         orgID,
		Topology:      topology,
		Behavior:      behavior,
		Service:       service,
		Configuration: configuration,
		canceled:      &atomic.Bool{},
		data:          make(map[string]any),
	}
}

// Cancel flips the context's canceled flag. Cooperative: no in-flight I/O is
// forcibly aborted, stages observe this at their next checkpoint via
// [Context.Canceled] and must return canceled themselves.
func (c *Context) Cancel() { c.canceled.Store(true) }

// Canceled reports whether the run has been cancelled.
func (c *Context) Canceled() bool { return c.canceled.Load() }

// Set stores a value in the run's mutable data bag. Not safe for concurrent
// use with itself — callers needing concurrent access go through stage
// inputs/outputs, which the [github.com/hellosales/coachkernel/internal/kernel/stage.Graph]
// already synchronizes.
func (c *Context) Set(key string, value any) { c.data[key] = value }

// Get reads a value from the run's mutable data bag.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Snapshot returns an immutable [ContextSnapshot] of c's identity fields,
// created once per run and handed to every stage so that stages cannot
// mutate run identity.
func (c *Context) Snapshot() ContextSnapshot {
	config := make(map[string]any, len(c.Configuration))
	for k, v := range c.Configuration {
		config[k] = v
	}
	return ContextSnapshot{
		PipelineRunID: c.PipelineRunID,
		RequestID:     c.RequestID,
		SessionID:     c.SessionID,
		UserID:        c.UserID,
		OrgID:         c.OrgID,
		InteractionID: c.InteractionID,
		Topology:      c.Topology,
		Behavior:      c.Behavior,
		Service:       c.Service,
		Configuration: config,
	}
}

// CancelFlag returns the shared cancellation flag backing c. The
// orchestrator passes this directly into [stage.Graph.Execute] so a call to
// [Context.Cancel] reaches the in-flight stage graph. The socket transport
// never calls Cancel: its voice.cancel frame only discards buffered audio.
func (c *Context) CancelFlag() *atomic.Bool { return c.canceled }
