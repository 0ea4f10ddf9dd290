package stages_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/internal/resilience"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

type fakeLLM struct {
	chunks []llm.Chunk
	startErr error
}

func (f *fakeLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	ch := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (f *fakeLLM) CountTokens(messages []llm.Message) (int, error) { return 0, nil }
func (f *fakeLLM) Capabilities() llm.ModelCapabilities             { return llm.ModelCapabilities{} }

func newCtx(events *[]string, tokens *[]string) stage.Context {
	return stage.Context{
		Context:  context.Background(),
		Snapshot: stage.Snapshot{PipelineRunID: "run-1", SessionID: "sess-1"},
		Ports: stage.Ports{
			SendToken: func(t string) { *tokens = append(*tokens, t) },
			Emit:      func(eventType string, data map[string]any) { *events = append(*events, eventType) },
		},
		Inputs: map[string]map[string]any{
			"context_build": {"messages": []llm.Message{{Role: "user", Content: "hi"}}},
		},
	}
}

func TestLLMStreamStage_PrimarySucceeds(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	var events, tokens []string
	s := &stages.LLMStreamStage{
		Primary: &fakeLLM{chunks: []llm.Chunk{
			{Text: "Hi "}, {Text: "there!", FinishReason: "stop"},
		}},
		PrimaryName: "openai", PrimaryModel: "gpt-4o",
		Breakers: reg,
	}
	out, err := s.Run(newCtx(&events, &tokens))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != stage.StatusOK {
		t.Fatalf("status = %v", out.Status)
	}
	if out.Data["content"] != "Hi there!" {
		t.Errorf("content = %v", out.Data["content"])
	}
	if out.Data["provider"] != "openai" {
		t.Errorf("provider = %v", out.Data["provider"])
	}
	if !contains(events, "llm.first_token") || !contains(events, "llm.completed") {
		t.Errorf("events = %v", events)
	}
}

func TestLLMStreamStage_PrimaryBreakerOpenFallsBackToBackup(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1})
	primaryKey := breaker.Key{Operation: "llm", Provider: "openai", Model: "gpt-4o"}
	_ = reg.Execute(primaryKey, func() error { return errors.New("boom") })
	if !reg.IsOpen(primaryKey) {
		t.Fatal("expected primary breaker to be open")
	}

	var events, tokens []string
	s := &stages.LLMStreamStage{
		Primary:     &fakeLLM{startErr: errors.New("should not be called")},
		PrimaryName: "openai", PrimaryModel: "gpt-4o",
		Backup:      &fakeLLM{chunks: []llm.Chunk{{Text: "backup reply", FinishReason: "stop"}}},
		BackupName:  "anthropic", BackupModel: "claude",
		Breakers: reg,
	}
	out, err := s.Run(newCtx(&events, &tokens))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Data["provider"] != "anthropic" {
		t.Errorf("provider = %v, want anthropic", out.Data["provider"])
	}
	if !contains(events, "llm.fallback.attempted") || !contains(events, "llm.fallback.succeeded") {
		t.Errorf("events = %v", events)
	}
}

func TestLLMStreamStage_BothBreakersDeniedSafeFallback(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1})
	primaryKey := breaker.Key{Operation: "llm", Provider: "openai", Model: "gpt-4o"}
	backupKey := breaker.Key{Operation: "llm", Provider: "anthropic", Model: "claude"}
	_ = reg.Execute(primaryKey, func() error { return errors.New("boom") })
	_ = reg.Execute(backupKey, func() error { return errors.New("boom") })

	var events, tokens []string
	s := &stages.LLMStreamStage{
		Primary: &fakeLLM{}, PrimaryName: "openai", PrimaryModel: "gpt-4o",
		Backup: &fakeLLM{}, BackupName: "anthropic", BackupModel: "claude",
		Breakers: reg,
	}
	out, err := s.Run(newCtx(&events, &tokens))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Data["provider"] != "safe_fallback" {
		t.Errorf("provider = %v", out.Data["provider"])
	}
	if out.Data["reason"] != "circuit_open" {
		t.Errorf("reason = %v, want circuit_open", out.Data["reason"])
	}
}

func TestLLMStreamStage_PostFirstTokenFailureDoesNotFallBack(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 5})
	var events, tokens []string
	s := &stages.LLMStreamStage{
		Primary: &fakeLLM{chunks: []llm.Chunk{
			{Text: "partial "}, {FinishReason: "error"},
		}},
		PrimaryName: "openai", PrimaryModel: "gpt-4o",
		Backup:      &fakeLLM{chunks: []llm.Chunk{{Text: "should not run"}}},
		BackupName:  "anthropic", BackupModel: "claude",
		Breakers: reg,
	}
	out, err := s.Run(newCtx(&events, &tokens))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Data["provider"] != "openai" {
		t.Errorf("provider = %v, want openai (no fallback after first token)", out.Data["provider"])
	}
	if out.Data["content"] != "partial " {
		t.Errorf("content = %v", out.Data["content"])
	}
	if contains(events, "llm.fallback.attempted") {
		t.Error("must not attempt fallback after a token already reached the client")
	}
	if !contains(events, "llm.fallback.blocked_post_first_token") {
		t.Errorf("events = %v", events)
	}
}

func TestLLMStreamStage_PartialTextBackpressureWarnsButDoesNotDropToken(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	var events, tokens []string
	partial := make(chan string) // unbuffered: first send always blocks until drained below

	s := &stages.LLMStreamStage{
		Primary: &fakeLLM{chunks: []llm.Chunk{
			{Text: "Hi "}, {Text: "there!", FinishReason: "stop"},
		}},
		PrimaryName: "openai", PrimaryModel: "gpt-4o",
		Breakers:              reg,
		PartialTextPutTimeout: time.Millisecond,
	}

	ctx := newCtx(&events, &tokens)
	ctx.Ports.PartialText = partial

	done := make(chan struct{})
	var drained []string
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond) // outlast PartialTextPutTimeout so the first send times out
		for v := range partial {
			drained = append(drained, v)
		}
	}()

	out, err := s.Run(ctx) // Run closes partial on return, ending the drain loop
	<-done

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != stage.StatusOK {
		t.Fatalf("status = %v", out.Status)
	}
	if len(drained) != 2 || drained[0] != "Hi " || drained[1] != "there!" {
		t.Errorf("drained = %v, want both chunks delivered in order", drained)
	}
	if !contains(events, "llm_stream.backpressure_exceeded") {
		t.Errorf("events = %v, want a backpressure_exceeded warning", events)
	}
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
