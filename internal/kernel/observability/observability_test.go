package observability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

type fakeEventSink struct {
	mu     sync.Mutex
	events []observability.PipelineEvent
}

func (f *fakeEventSink) Record(_ context.Context, event observability.PipelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventSink) recorded() []observability.PipelineEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]observability.PipelineEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeRunStore struct {
	mu      sync.Mutex
	runs    map[string]observability.RunRecord
	stages  map[string]map[string]observability.StageMetric
	results map[string]observability.TerminalResult
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:    make(map[string]observability.RunRecord),
		stages:  make(map[string]map[string]observability.StageMetric),
		results: make(map[string]observability.TerminalResult),
	}
}

func (f *fakeRunStore) CreateRun(_ context.Context, run observability.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.PipelineRunID] = run
	return nil
}

func (f *fakeRunStore) PatchStages(_ context.Context, id string, stages map[string]observability.StageMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stages[id] == nil {
		f.stages[id] = make(map[string]observability.StageMetric)
	}
	for k, v := range stages {
		f.stages[id][k] = v
	}
	return nil
}

func (f *fakeRunStore) Terminal(_ context.Context, id string, result observability.TerminalResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = result
	return nil
}

func TestPipelineEventLogger_CreateRunEmitsCreatedEvent(t *testing.T) {
	sink := &fakeEventSink{}
	runs := newFakeRunStore()
	logger := observability.NewPipelineEventLogger(sink, runs, nil)

	err := logger.CreateRun(context.Background(), observability.RunRecord{
		PipelineRunID: "run-1",
		Service:       "chat",
		Topology:      "chat_fast",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, ok := runs.runs["run-1"]; !ok {
		t.Fatal("expected run-1 to be persisted")
	}
	events := sink.recorded()
	if len(events) != 1 || events[0].Type != "pipeline.created" {
		t.Fatalf("expected one pipeline.created event, got %+v", events)
	}
}

func TestPipelineEventLogger_EmitCarriesIdentityFields(t *testing.T) {
	sink := &fakeEventSink{}
	logger := observability.NewPipelineEventLogger(sink, newFakeRunStore(), nil)

	err := logger.Emit(context.Background(), "run-1", "llm.first_token", nil, observability.EventMeta{
		Service:   "chat",
		SessionID: "sess-1",
		UserID:    "user-1",
		OrgID:     "org-1",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	events := sink.recorded()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	if e.SessionID != "sess-1" || e.UserID != "user-1" || e.OrgID != "org-1" || e.RequestID != "req-1" {
		t.Errorf("identity fields not carried through: %+v", e)
	}
}

func TestPipelineRunLogger_PatchAndTerminal(t *testing.T) {
	runs := newFakeRunStore()
	logger := observability.NewPipelineRunLogger(runs, nil)

	if err := logger.PatchStage(context.Background(), "run-1", "stt", observability.StageMetric{Status: "ok"}); err != nil {
		t.Fatalf("PatchStage: %v", err)
	}
	if runs.stages["run-1"]["stt"].Status != "ok" {
		t.Fatalf("expected stt stage patched, got %+v", runs.stages["run-1"])
	}

	if err := logger.Terminal(context.Background(), "run-1", observability.TerminalResult{Success: true}); err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if !runs.results["run-1"].Success {
		t.Fatal("expected terminal result success=true")
	}
}

type fakeCallStore struct {
	mu      sync.Mutex
	calls   map[string]observability.ProviderCallRecord
	patches map[string]observability.ProviderCallPatch
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{
		calls:   make(map[string]observability.ProviderCallRecord),
		patches: make(map[string]observability.ProviderCallPatch),
	}
}

func (f *fakeCallStore) RecordCall(_ context.Context, call observability.ProviderCallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call.CallID] = call
	return nil
}

func (f *fakeCallStore) UpdateCall(_ context.Context, callID string, patch observability.ProviderCallPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[callID] = patch
	return nil
}

func TestProviderCallLogger_TimeCallAndFinish(t *testing.T) {
	store := newFakeCallStore()
	logger := observability.NewProviderCallLogger(store, nil)

	scope, err := logger.TimeCall(context.Background(), observability.ProviderCallRecord{
		CallID:    "call-1",
		Service:   "chat",
		Operation: "llm",
		Provider:  "openai",
		Model:     "gpt-4o",
	})
	if err != nil {
		t.Fatalf("TimeCall: %v", err)
	}

	if err := scope.Finish(context.Background(), observability.ProviderCallPatch{TokensOut: 42}, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	patch := store.patches["call-1"]
	if !patch.Success {
		t.Error("expected success=true on nil error")
	}
	if patch.TokensOut != 42 {
		t.Errorf("TokensOut = %d, want 42", patch.TokensOut)
	}
	if patch.Latency <= 0 {
		t.Error("expected non-zero latency")
	}
}

func TestAsyncEventSink_DeliversToInner(t *testing.T) {
	inner := &fakeEventSink{}
	async := observability.NewAsyncEventSink(inner)
	defer async.Close()

	if err := async.Record(context.Background(), observability.PipelineEvent{PipelineRunID: "run-1", Type: "pipeline.started"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	async.Close()

	events := inner.recorded()
	if len(events) != 1 || events[0].Type != "pipeline.started" {
		t.Fatalf("expected event delivered to inner sink, got %+v", events)
	}
}

func TestAsyncEventSink_RecordDoesNotBlock(t *testing.T) {
	// A zero-delay inner sink that blocks briefly to force queue buildup is
	// unnecessary here: Record must never block regardless of queue state,
	// so we only assert it returns promptly even under a synthetic timeout.
	inner := &fakeEventSink{}
	async := observability.NewAsyncEventSink(inner)
	defer async.Close()

	done := make(chan struct{})
	go func() {
		_ = async.Record(context.Background(), observability.PipelineEvent{Type: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked for over a second")
	}
}
