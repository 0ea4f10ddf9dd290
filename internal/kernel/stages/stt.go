// Package stages implements the concrete Stage types wired into the
// kernel's chat and voice topologies: speech-to-text, context assembly,
// LLM streaming with fallback, incremental TTS, persistence, assessment,
// and the policy/guardrails gates. Each stage is a thin adapter over an
// already-built kernel package (breaker, retry, chatcontext, policy,
// guardrails, observability) plus the provider interfaces in pkg/provider.
package stages

import (
	"context"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

// STTStage transcribes the buffered audio for one turn, per spec.md §4.9:
// invokes the STT adapter with retry (exponential backoff on transient
// transport errors), and raises a graceful [stage.Cancelled] when the
// result carries no speech — the hallucination gate (wrapped around
// Provider by the caller) has already filtered likely hallucinations down
// to an empty Text by the time this stage sees the result. The kernel has
// no STT fallback provider, so a denied circuit breaker is a stage error,
// unlike the LLM stage's breaker-checked-first-then-fallback contract.
type STTStage struct {
	Audio    []byte
	Format   string
	Language string
	Keywords []stt.KeywordBoost

	Provider     stt.Provider
	ProviderName string
	Model        string

	Breakers *breaker.Registry
	Retry    retry.Policy
	Calls    *observability.ProviderCallLogger
}

func (s *STTStage) Name() string          { return "stt" }
func (s *STTStage) Kind() stage.Kind      { return stage.KindWork }
func (s *STTStage) Dependencies() []string { return nil }
func (s *STTStage) Optional() bool         { return false }

func (s *STTStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	key := breaker.Key{Operation: "stt", Provider: s.ProviderName, Model: s.Model}

	var scope *observability.CallScope
	if s.Calls != nil {
		if sc, err := s.Calls.TimeCall(ctx.Context, observability.ProviderCallRecord{
			Service:       "stt",
			Operation:     "stt",
			Provider:      s.ProviderName,
			Model:         s.Model,
			PipelineRunID: ctx.Snapshot.PipelineRunID,
			SessionID:     ctx.Snapshot.SessionID,
			RequestID:     ctx.Snapshot.RequestID,
		}); err == nil {
			scope = sc
		}
	}

	var result stt.STTResult
	callErr := s.Breakers.Execute(key, func() error {
		var err error
		result, err = retry.Do(ctx.Context, s.Retry, func(rctx context.Context) (stt.STTResult, error) {
			return s.Provider.Transcribe(rctx, s.Audio, s.Format, s.Language, s.Keywords)
		})
		return err
	})

	if scope != nil {
		_ = scope.Finish(ctx.Context, observability.ProviderCallPatch{
			Output: map[string]any{"text": result.Text},
		}, callErr)
	}

	if callErr != nil {
		return stage.Output{Status: stage.StatusError, Err: callErr}, nil
	}

	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("stt.completed", map[string]any{
			"provider":    s.ProviderName,
			"model":       s.Model,
			"duration_ms": result.DurationMs,
		})
	}

	if result.Text == "" {
		return stage.Output{}, &stage.Cancelled{Stage: "stt", Reason: "no_speech_detected"}
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data: map[string]any{
			"text":        result.Text,
			"language":    result.Language,
			"duration_ms": result.DurationMs,
		},
	}, nil
}
