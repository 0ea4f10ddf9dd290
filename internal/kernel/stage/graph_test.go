package stage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// fakeStage is a configurable stage.Stage test double.
type fakeStage struct {
	name     string
	kind     stage.Kind
	deps     []string
	optional bool
	run      func(ctx stage.Context) (stage.Output, error)

	mu      sync.Mutex
	invoked bool
}

func (f *fakeStage) Name() string             { return f.name }
func (f *fakeStage) Kind() stage.Kind         { return f.kind }
func (f *fakeStage) Dependencies() []string   { return f.deps }
func (f *fakeStage) Optional() bool           { return f.optional }
func (f *fakeStage) Run(ctx stage.Context) (stage.Output, error) {
	f.mu.Lock()
	f.invoked = true
	f.mu.Unlock()
	return f.run(ctx)
}

func (f *fakeStage) wasInvoked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoked
}

func okStage(name string, deps ...string) *fakeStage {
	return &fakeStage{
		name: name,
		kind: stage.KindWork,
		deps: deps,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{Status: stage.StatusOK, Data: map[string]any{"from": name}}, nil
		},
	}
}

func TestGraph_RunsIndependentStagesConcurrently(t *testing.T) {
	a := okStage("a")
	b := okStage("b")
	g, err := stage.NewGraph([]stage.Stage{a, b})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["a"].Status != stage.StatusOK || out["b"].Status != stage.StatusOK {
		t.Fatalf("unexpected outputs: %+v", out)
	}
}

func TestGraph_DependencyInputsResolved(t *testing.T) {
	a := okStage("a")
	var sawInput any
	b := &fakeStage{
		name: "b",
		kind: stage.KindWork,
		deps: []string{"a"},
		run: func(ctx stage.Context) (stage.Output, error) {
			v, _ := ctx.Input("a", "from")
			sawInput = v
			return stage.Output{Status: stage.StatusOK}, nil
		},
	}
	g, err := stage.NewGraph([]stage.Stage{a, b})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	if _, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sawInput != "a" {
		t.Errorf("expected b to see a's output, got %v", sawInput)
	}
}

func TestGraph_UpstreamErrorSkipsDownstream(t *testing.T) {
	failing := &fakeStage{
		name: "failing",
		kind: stage.KindWork,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{}, errors.New("boom")
		},
	}
	downstream := okStage("downstream", "failing")
	sibling := okStage("sibling")

	g, err := stage.NewGraph([]stage.Stage{failing, downstream, sibling})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["failing"].Status != stage.StatusError {
		t.Errorf("expected failing stage to be error, got %v", out["failing"].Status)
	}
	if out["downstream"].Status != stage.StatusSkipped {
		t.Errorf("expected downstream to be skipped, got %v", out["downstream"].Status)
	}
	if out["downstream"].Data["reason"] != stage.ReasonUpstreamError {
		t.Errorf("expected upstream_error reason, got %v", out["downstream"].Data["reason"])
	}
	// Sibling branch is independent and must still run.
	if out["sibling"].Status != stage.StatusOK {
		t.Errorf("expected sibling to run independently, got %v", out["sibling"].Status)
	}
}

func TestGraph_MissingOptionalInputStillRuns(t *testing.T) {
	downstream := &fakeStage{
		name:     "downstream",
		kind:     stage.KindWork,
		deps:     []string{"missing"},
		optional: true,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{Status: stage.StatusOK}, nil
		},
	}
	missing := &fakeStage{
		name: "missing",
		kind: stage.KindWork,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{}, errors.New("boom")
		},
	}
	g, err := stage.NewGraph([]stage.Stage{missing, downstream})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["downstream"].Status != stage.StatusOK {
		t.Errorf("expected optional downstream to run despite failing dependency, got %v", out["downstream"].Status)
	}
}

func TestGraph_CancelledStagePropagatesToRemaining(t *testing.T) {
	canceler := &fakeStage{
		name: "canceler",
		kind: stage.KindWork,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{}, &stage.Cancelled{Stage: "canceler", Reason: "no_speech_detected"}
		},
	}
	downstream := okStage("downstream", "canceler")

	g, err := stage.NewGraph([]stage.Stage{canceler, downstream})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil)
	if err != nil {
		t.Fatalf("Execute should not return an error on graceful cancel: %v", err)
	}
	if out["canceler"].Status != stage.StatusCanceled {
		t.Errorf("expected canceler status canceled, got %v", out["canceler"].Status)
	}
	if out["downstream"].Status != stage.StatusCanceled {
		t.Errorf("expected downstream status canceled, got %v", out["downstream"].Status)
	}
}

func TestGraph_ConcurrencyLimitIsRespected(t *testing.T) {
	const limit = 2
	var mu sync.Mutex
	var current, peak int

	enter := func(ctx stage.Context) (stage.Output, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		release := make(chan struct{})
		close(release)
		<-release

		mu.Lock()
		current--
		mu.Unlock()
		return stage.Output{Status: stage.StatusOK}, nil
	}

	stages := make([]stage.Stage, 0, 6)
	for i := 0; i < 6; i++ {
		stages = append(stages, &fakeStage{name: string(rune('a' + i)), kind: stage.KindWork, run: enter})
	}

	g, err := stage.NewGraph(stages, stage.WithConcurrencyLimit(limit))
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	if _, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if peak > limit {
		t.Errorf("observed peak concurrency %d, want <= %d", peak, limit)
	}
}

func TestGraph_ExternalCancelFlagStopsUnstartedStages(t *testing.T) {
	var external atomic.Bool

	started := make(chan struct{})
	blocking := &fakeStage{
		name: "blocking",
		kind: stage.KindWork,
		run: func(ctx stage.Context) (stage.Output, error) {
			close(started)
			external.Store(true)
			return stage.Output{Status: stage.StatusOK}, nil
		},
	}
	downstream := okStage("downstream", "blocking")

	g, err := stage.NewGraph([]stage.Stage{blocking, downstream})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, &external)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	<-started
	if out["downstream"].Status != stage.StatusCanceled {
		t.Errorf("expected downstream canceled once external flag flipped mid-run, got %v", out["downstream"].Status)
	}
}

func TestGraph_RejectsCycle(t *testing.T) {
	a := okStage("a", "b")
	b := okStage("b", "a")
	_, err := stage.NewGraph([]stage.Stage{a, b})
	if err == nil {
		t.Fatal("expected error for dependency cycle, got nil")
	}
}

func TestGraph_RejectsDuplicateNames(t *testing.T) {
	a1 := okStage("a")
	a2 := okStage("a")
	_, err := stage.NewGraph([]stage.Stage{a1, a2})
	if err == nil {
		t.Fatal("expected error for duplicate stage name, got nil")
	}
}

func TestGraph_RejectsUnknownDependency(t *testing.T) {
	a := okStage("a", "ghost")
	_, err := stage.NewGraph([]stage.Stage{a})
	if err == nil {
		t.Fatal("expected error for unknown dependency, got nil")
	}
}

func TestGraph_MissingRequiredInputSkips(t *testing.T) {
	// One graph simulates "a stage whose required input never arrived":
	// "skipped" requires the errored optional stage "absent", so it is
	// skipped, and the skip cascades to downstream as upstream_error.
	skipped := &fakeStage{
		name: "skipped",
		kind: stage.KindWork,
		deps: []string{"absent"},
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{Status: stage.StatusOK}, nil
		},
	}
	absent := &fakeStage{
		name:     "absent",
		kind:     stage.KindWork,
		optional: true,
		run: func(ctx stage.Context) (stage.Output, error) {
			return stage.Output{}, errors.New("boom")
		},
	}
	downstream := okStage("downstream", "skipped")

	g, err := stage.NewGraph([]stage.Stage{absent, skipped, downstream})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	out, err := g.Execute(context.Background(), stage.Snapshot{}, stage.Ports{}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["skipped"].Status != stage.StatusSkipped {
		t.Errorf("expected skipped status for non-optional dependent of errored optional stage, got %v", out["skipped"].Status)
	}
	if out["downstream"].Status != stage.StatusSkipped {
		t.Errorf("expected downstream skipped, got %v", out["downstream"].Status)
	}
}
