package stages_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/internal/resilience"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
)

type completeOnlyLLM struct {
	content string
}

func (f *completeOnlyLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, nil
}
func (f *completeOnlyLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.content}, nil
}
func (f *completeOnlyLLM) CountTokens(messages []llm.Message) (int, error) { return 0, nil }
func (f *completeOnlyLLM) Capabilities() llm.ModelCapabilities             { return llm.ModelCapabilities{} }

type fakeAssessments struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeAssessments) SaveAssessment(ctx context.Context, sessionID, afterMessageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, content)
	return nil
}

func (f *fakeAssessments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestAssessmentForegroundStage_SavesAndEmitsComplete(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	store := &fakeAssessments{}
	var events []string
	s := &stages.AssessmentForegroundStage{
		Triage: &completeOnlyLLM{content: "engaged, motivated"}, TriageName: "openai", TriageModel: "gpt-4o-mini",
		Store: store, SessionID: "sess-1", Content: "I crushed my workout today",
		Breakers: reg, Retry: retry.DefaultPolicy(),
	}
	ctx := stage.Context{
		Context: context.Background(),
		Ports:   stage.Ports{Emit: func(eventType string, data map[string]any) { events = append(events, eventType) }},
	}
	out, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Data["assessment"] != "engaged, motivated" {
		t.Errorf("assessment = %v", out.Data["assessment"])
	}
	if store.count() != 1 {
		t.Fatalf("saved = %d, want 1", store.count())
	}
	if !contains(events, "assessment.complete") {
		t.Errorf("events = %v", events)
	}
}

func TestAssessmentBackgroundStage_DoesNotBlockAndEventuallyPersists(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	store := &fakeAssessments{}
	s := &stages.AssessmentBackgroundStage{
		Triage: &completeOnlyLLM{content: "background note"}, TriageName: "openai", TriageModel: "gpt-4o-mini",
		Store: store, SessionID: "sess-1", Content: "typed without waiting",
		Breakers: reg, Retry: retry.DefaultPolicy(),
	}
	ctx := stage.Context{Context: context.Background(), Ports: stage.Ports{Emit: func(string, map[string]any) {}}}

	start := time.Now()
	out, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("background assessment must return immediately, not wait on the triage call")
	}
	if out.Data["dispatched"] != true {
		t.Errorf("dispatched = %v", out.Data["dispatched"])
	}

	deadline := time.Now().Add(time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.count() != 1 {
		t.Fatal("expected the background goroutine to eventually persist its assessment")
	}
}

func TestAssessmentSkippedStage_EmitsSkippedReason(t *testing.T) {
	var events []map[string]any
	s := &stages.AssessmentSkippedStage{}
	ctx := stage.Context{
		Context: context.Background(),
		Ports:   stage.Ports{Emit: func(eventType string, data map[string]any) { events = append(events, data) }},
	}
	out, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != stage.StatusSkipped {
		t.Fatalf("status = %v", out.Status)
	}
	if len(events) != 1 || events[0]["reason"] != "typed_input" {
		t.Errorf("events = %v", events)
	}
}
