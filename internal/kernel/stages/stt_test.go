package stages_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/internal/resilience"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

type fakeSTT struct {
	result stt.STTResult
	err    error
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, format, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	return f.result, f.err
}

func TestSTTStage_CancelsOnEmptyTranscript(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	s := &stages.STTStage{
		Provider: &fakeSTT{result: stt.STTResult{Text: ""}}, ProviderName: "whisper", Model: "base",
		Breakers: reg, Retry: retry.DefaultPolicy(),
	}
	_, err := s.Run(stage.Context{Context: context.Background()})
	var cancelled *stage.Cancelled
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected *stage.Cancelled, got %v", err)
	}
	if cancelled.Reason != "no_speech_detected" {
		t.Errorf("reason = %q", cancelled.Reason)
	}
}

func TestSTTStage_ReturnsTranscript(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 3})
	s := &stages.STTStage{
		Provider:     &fakeSTT{result: stt.STTResult{Text: "how's my form", Language: "en", DurationMs: 500}},
		ProviderName: "whisper", Model: "base",
		Breakers: reg, Retry: retry.DefaultPolicy(),
	}
	out, err := s.Run(stage.Context{Context: context.Background()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Data["text"] != "how's my form" {
		t.Errorf("text = %v", out.Data["text"])
	}
}

func TestSTTStage_BreakerDenialIsAStageError(t *testing.T) {
	reg := breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1})
	key := breaker.Key{Operation: "stt", Provider: "whisper", Model: "base"}
	_ = reg.Execute(key, func() error { return errors.New("boom") })

	s := &stages.STTStage{
		Provider: &fakeSTT{result: stt.STTResult{Text: "hello"}}, ProviderName: "whisper", Model: "base",
		Breakers: reg, Retry: retry.DefaultPolicy(),
	}
	out, _ := s.Run(stage.Context{Context: context.Background()})
	if out.Status != stage.StatusError {
		t.Errorf("status = %v, want error (no STT fallback/degraded path)", out.Status)
	}
}
