package stages_test

import (
	"context"
	"testing"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/internal/resilience"
	"github.com/hellosales/coachkernel/pkg/provider/tts"
)

type fakeTTS struct {
	synthesized []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voice, format string, speed float64) (tts.TTSResult, error) {
	f.synthesized = append(f.synthesized, text)
	return tts.TTSResult{AudioData: []byte("audio:" + text), Format: "pcm16", DurationMs: 100}, nil
}

func newTTSCtx(partial chan string, events *[]string, chunks *[][]byte) stage.Context {
	return stage.Context{
		Context:  context.Background(),
		Snapshot: stage.Snapshot{PipelineRunID: "run-1"},
		Ports: stage.Ports{
			PartialText: partial,
			Emit:        func(eventType string, data map[string]any) { *events = append(*events, eventType) },
			SendAudioChunk: func(audio []byte, format string, durationMs int, isFinal bool) {
				*chunks = append(*chunks, audio)
			},
		},
	}
}

func TestTTSIncrementalStage_FlushesOnSentenceBoundary(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	provider := &fakeTTS{}
	partial := make(chan string, 8)
	partial <- "Hello there. "
	partial <- "How are you?"
	close(partial)

	var events []string
	var chunks [][]byte
	s := &stages.TTSIncrementalStage{
		Voice: "default", Format: "pcm16", Speed: 1.0,
		Provider: provider, ProviderName: "openai", Model: "tts-1",
		Breakers: reg,
	}
	out, err := s.Run(newTTSCtx(partial, &events, &chunks))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != stage.StatusOK {
		t.Fatalf("status = %v", out.Status)
	}
	if len(provider.synthesized) != 2 {
		t.Fatalf("synthesized = %v, want 2 chunks", provider.synthesized)
	}
	if provider.synthesized[0] != "Hello there." {
		t.Errorf("first chunk = %q", provider.synthesized[0])
	}
	if provider.synthesized[1] != "How are you?" {
		t.Errorf("final flushed chunk = %q", provider.synthesized[1])
	}
	foundFirstChunkEvent := false
	for _, e := range events {
		if e == "llm.first_chunk" {
			foundFirstChunkEvent = true
		}
	}
	if !foundFirstChunkEvent {
		t.Errorf("events = %v, want llm.first_chunk", events)
	}
}

func TestTTSIncrementalStage_EarlyFlushAtClauseBoundary(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	provider := &fakeTTS{}
	partial := make(chan string, 8)
	// No sentence-ending punctuation; long enough to cross the 80-char
	// threshold, with a clause boundary comma partway through.
	longText := "this is a long running sentence with a clause, and then it just keeps going on and on without stopping"
	partial <- longText
	close(partial)

	var events []string
	var chunks [][]byte
	s := &stages.TTSIncrementalStage{
		Provider: provider, ProviderName: "openai", Model: "tts-1",
		Breakers: reg,
	}
	_, err := s.Run(newTTSCtx(partial, &events, &chunks))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(provider.synthesized) < 1 {
		t.Fatal("expected at least one early-flushed chunk")
	}
	first := provider.synthesized[0]
	if first[len(first)-1] != ',' {
		t.Errorf("expected early flush to cut at the clause boundary, got %q", first)
	}
}

func TestTTSIncrementalStage_FillerSentFirst(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	provider := &fakeTTS{}
	partial := make(chan string, 8)
	partial <- "Real answer."
	close(partial)

	var events []string
	var chunks [][]byte
	s := &stages.TTSIncrementalStage{
		Provider: provider, ProviderName: "openai", Model: "tts-1",
		Breakers: reg,
		Filler:   "One moment.",
	}
	_, err := s.Run(newTTSCtx(partial, &events, &chunks))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(provider.synthesized) != 2 {
		t.Fatalf("synthesized = %v, want filler + real answer", provider.synthesized)
	}
	if provider.synthesized[0] != "One moment." {
		t.Errorf("filler not sent first: %v", provider.synthesized)
	}
}
