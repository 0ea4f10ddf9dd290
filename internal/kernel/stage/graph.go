package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Graph is a DAG of stages built for one pipeline run. Stages with satisfied
// dependencies run concurrently; cycles are rejected at [NewGraph] time.
type Graph struct {
	stages      map[string]Stage
	order       []string // topological order, stable for a given build
	concurrency int      // errgroup.SetLimit value; 0 means unlimited
}

// GraphOption configures a [Graph] at construction time.
type GraphOption func(*Graph)

// WithConcurrencyLimit bounds the number of stages the graph will run at
// once via errgroup.SetLimit, preventing a pathologically wide topology from
// spawning unbounded goroutines. The default is unlimited.
func WithConcurrencyLimit(n int) GraphOption {
	return func(g *Graph) { g.concurrency = n }
}

// NewGraph validates and builds a [Graph] from stages. It rejects duplicate
// names, dependencies on unknown stages, and dependency cycles.
func NewGraph(stages []Stage, opts ...GraphOption) (*Graph, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if _, exists := byName[s.Name()]; exists {
			return nil, fmt.Errorf("stage graph: duplicate stage name %q", s.Name())
		}
		byName[s.Name()] = s
	}
	for _, s := range stages {
		for _, dep := range s.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage graph: %q depends on unknown stage %q", s.Name(), dep)
			}
		}
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}

	g := &Graph{stages: byName, order: order}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// topoSort returns a valid topological order of byName's keys, or an error
// if a cycle is present.
func topoSort(byName map[string]Stage) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(byName))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("stage graph: dependency cycle detected at %q", name)
		}
		state[name] = visiting
		for _, dep := range byName[name].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	// Iterate in a stable order so errors are deterministic across builds of
	// the same topology.
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sortStrings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// sortStrings is a tiny insertion sort to avoid pulling in "sort" for a
// handful of stage names per topology; Go's sort package would be equally
// fine, this just keeps the dependency surface for this file minimal.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// run tracks the outcome of one stage invocation within a single Execute.
type run struct {
	mu      sync.Mutex
	outputs map[string]Output
	done    map[string]chan struct{}
}

// Execute runs every stage in the graph, honoring dependency order. Ready
// stages (all dependencies terminal) run concurrently. It returns the
// per-stage outputs keyed by stage name.
//
// external, when non-nil, is the caller's cancellation flag (e.g. the one
// behind a [github.com/hellosales/coachkernel/internal/kernel/pipeline.Context]) —
// the graph observes it for externally-triggered cancellation (a client
// voice.cancel frame) in addition to its own stage-raised cancellation, and
// sets it the moment a stage raises [*Cancelled] so both views stay
// consistent. Pass nil to let Execute manage a private flag, as tests do.
//
// If any stage raises a [*Cancelled], Execute marks every stage that has not
// yet started [StatusCanceled] with that reason and returns (outputs, nil) —
// callers distinguish graceful cancellation from failure by inspecting the
// returned outputs, not the error.
func (g *Graph) Execute(ctx context.Context, snapshot Snapshot, ports Ports, external *atomic.Bool) (map[string]Output, error) {
	r := &run{
		outputs: make(map[string]Output, len(g.stages)),
		done:    make(map[string]chan struct{}, len(g.stages)),
	}
	for name := range g.stages {
		r.done[name] = make(chan struct{})
	}

	canceled := external
	if canceled == nil {
		canceled = &atomic.Bool{}
	}
	var cancelMu sync.Mutex
	var cancelReason *Cancelled

	log := slog.Default().With(
		"service", snapshot.Service,
		"session_id", snapshot.SessionID,
		"user_id", snapshot.UserID,
		"org_id", snapshot.OrgID,
		"request_id", snapshot.RequestID,
		"pipeline_run_id", snapshot.PipelineRunID,
	)

	eg, egCtx := errgroup.WithContext(ctx)
	if g.concurrency > 0 {
		eg.SetLimit(g.concurrency)
	}

	for _, name := range g.order {
		name := name
		s := g.stages[name]
		eg.Go(func() error {
			// Wait for every dependency to reach a terminal state.
			for _, dep := range s.Dependencies() {
				select {
				case <-r.done[dep]:
				case <-egCtx.Done():
					r.complete(name, Output{Status: StatusCanceled, Data: map[string]any{"reason": "context_canceled"}})
					return nil
				}
			}

			if canceled.Load() {
				cancelMu.Lock()
				reason := cancelReasonString(cancelReason)
				cancelMu.Unlock()
				r.complete(name, Output{Status: StatusCanceled, Data: map[string]any{"reason": reason}})
				return nil
			}

			inputs, skip := r.resolveInputs(s)
			if skip != "" && !s.Optional() {
				r.complete(name, Output{Status: StatusSkipped, Data: map[string]any{"reason": skip}})
				return nil
			}

			stageCtx := Context{
				Context:  egCtx,
				Snapshot: snapshot,
				Ports:    ports,
				Inputs:   inputs,
				canceled: canceled,
			}

			out, err := s.Run(stageCtx)
			if err != nil {
				var c *Cancelled
				if errors.As(err, &c) {
					cancelMu.Lock()
					if !canceled.Load() {
						canceled.Store(true)
						cancelReason = c
					}
					cancelMu.Unlock()
					r.complete(name, Output{Status: StatusCanceled, Data: map[string]any{"reason": c.Reason}})
					return nil
				}
				log.Error("stage failed", "stage", name, "err", err)
				r.complete(name, Output{Status: StatusError, Err: err})
				return nil
			}
			r.complete(name, out)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return r.snapshotOutputs(), err
	}
	return r.snapshotOutputs(), nil
}

// complete records out as the terminal output for name and releases any
// stage waiting on it via r.done[name].
func (r *run) complete(name string, out Output) {
	r.mu.Lock()
	r.outputs[name] = out
	r.mu.Unlock()
	close(r.done[name])
}

// resolveInputs gathers the declared dependency outputs for s. If any
// required (non-optional) dependency is missing or did not succeed, it
// returns the skip reason to use.
func (r *run) resolveInputs(s Stage) (map[string]map[string]any, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputs := make(map[string]map[string]any, len(s.Dependencies()))
	for _, dep := range s.Dependencies() {
		out, ok := r.outputs[dep]
		if !ok {
			return inputs, ReasonMissingInput
		}
		switch out.Status {
		case StatusOK:
			inputs[dep] = out.Data
		case StatusError:
			return inputs, ReasonUpstreamError
		case StatusSkipped, StatusCanceled:
			return inputs, ReasonUpstreamError
		}
	}
	return inputs, ""
}

func (r *run) snapshotOutputs() map[string]Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Output, len(r.outputs))
	for k, v := range r.outputs {
		out[k] = v
	}
	return out
}

func cancelReasonString(c *Cancelled) string {
	if c == nil {
		return "canceled"
	}
	return c.Reason
}
