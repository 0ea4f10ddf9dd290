package stages

import (
	"context"
	"errors"
	"time"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

// partialTextPutTimeout bounds how long sendText waits on a full
// partial_text_queue before treating it as back-pressure exceeded.
const partialTextPutTimeout = 2 * time.Second

// safeFallbackReply is sent verbatim when both the primary and backup LLM
// breakers deny the call — spec.md §4.7's last-resort path.
const safeFallbackReply = "I'm having trouble reaching my language model right now. Let's try again in a moment."

// LLMStreamStage implements spec.md §4.7's streaming-with-fallback contract:
// a breaker check before the primary model, a symmetric check before a
// single backup, and a hard rule that a stream which has already emitted a
// token to the client may never fall back — only a failure before the
// first token is eligible for backup. Built on [breaker.Registry] rather
// than the teacher's generic fallback-group helper, because that rule makes
// the fallback asymmetric: the teacher's FallbackGroup treats every
// candidate the same regardless of how much of a prior candidate's output
// already reached the caller.
type LLMStreamStage struct {
	// Temperature/MaxTokens/CacheKey parameterize the completion request;
	// set by the topology from the run's per-request configuration.
	Temperature float64
	MaxTokens   int
	CacheKey    string

	Primary       llm.Provider
	PrimaryName   string
	PrimaryModel  string
	Backup        llm.Provider // nil if no backup is configured
	BackupName    string
	BackupModel   string

	Breakers *breaker.Registry
	Calls    *observability.ProviderCallLogger

	// PartialTextPutTimeout bounds how long sendText waits on a full
	// partial_text_queue before emitting a back-pressure warning. Zero uses
	// partialTextPutTimeout; tests shorten it to avoid a real-time wait.
	PartialTextPutTimeout time.Duration
}

func (s *LLMStreamStage) Name() string           { return "llm_stream" }
func (s *LLMStreamStage) Kind() stage.Kind       { return stage.KindWork }
func (s *LLMStreamStage) Dependencies() []string { return []string{"context_build"} }
func (s *LLMStreamStage) Optional() bool         { return false }

func (s *LLMStreamStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}
	if ctx.Ports.PartialText != nil {
		defer close(ctx.Ports.PartialText)
	}

	messages, _ := ctx.Input("context_build", "messages")
	msgs, _ := messages.([]llm.Message)

	req := llm.CompletionRequest{
		Messages:    msgs,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		CacheKey:    s.CacheKey,
	}

	primaryKey := breaker.Key{Operation: "llm", Provider: s.PrimaryName, Model: s.PrimaryModel}
	backupKey := breaker.Key{}
	if s.Backup != nil {
		backupKey = breaker.Key{Operation: "llm", Provider: s.BackupName, Model: s.BackupModel}
	}

	// Step 1: breaker check before the primary model.
	if !s.Breakers.IsOpen(primaryKey) {
		content, tokenCount, streamErr, firstTokenSeen := s.stream(ctx, primaryKey, s.Primary, s.PrimaryName, s.PrimaryModel, req)
		if streamErr == nil {
			s.emitCompleted(ctx, s.PrimaryName, s.PrimaryModel, tokenCount)
			return stage.Output{Status: stage.StatusOK, Data: map[string]any{
				"content": content, "provider": s.PrimaryName, "model": s.PrimaryModel, "token_count": tokenCount,
			}}, nil
		}

		// Step 3: post-first-token failures must not fall back.
		if firstTokenSeen {
			s.emit(ctx, "llm.fallback.blocked_post_first_token", map[string]any{"stream_token_count": tokenCount})
			s.emitCompleted(ctx, s.PrimaryName, s.PrimaryModel, tokenCount)
			return stage.Output{Status: stage.StatusOK, Data: map[string]any{
				"content": content, "provider": s.PrimaryName, "model": s.PrimaryModel,
				"token_count": tokenCount, "truncated": true,
			}}, nil
		}
	}

	// Step 4: pre-first-token failure (or primary breaker already open) —
	// try the backup, if one is configured and its own breaker allows it.
	if s.Backup != nil && !s.Breakers.IsOpen(backupKey) {
		s.emit(ctx, "llm.fallback.attempted", map[string]any{"provider": s.BackupName, "model": s.BackupModel})

		content, tokenCount, streamErr, _ := s.stream(ctx, backupKey, s.Backup, s.BackupName, s.BackupModel, req)
		if streamErr == nil {
			s.emit(ctx, "llm.fallback.succeeded", map[string]any{"provider": s.BackupName, "model": s.BackupModel})
			s.emitCompleted(ctx, s.BackupName, s.BackupModel, tokenCount)
			return stage.Output{Status: stage.StatusOK, Data: map[string]any{
				"content": content, "provider": s.BackupName, "model": s.BackupModel, "token_count": tokenCount,
			}}, nil
		}
	}

	// Step 4 (both denied/exhausted): safe minimal reply.
	s.sendText(ctx, safeFallbackReply)
	reason := "fallback_exhausted"
	if s.Breakers.IsOpen(primaryKey) && (s.Backup == nil || s.Breakers.IsOpen(backupKey)) {
		reason = "circuit_open"
	}
	tokenCount := estimateTokens(safeFallbackReply)
	s.emitCompleted(ctx, "safe_fallback", "", tokenCount)
	return stage.Output{Status: stage.StatusOK, Data: map[string]any{
		"content": safeFallbackReply, "provider": "safe_fallback", "token_count": tokenCount, "reason": reason,
	}}, nil
}

// stream runs one provider's StreamCompletion call through its breaker,
// forwarding text to SendToken/PartialText as it arrives and reporting the
// outcome back to the breaker out-of-band (the call is asynchronous, so it
// cannot be wrapped directly in Registry.Execute). It returns the
// accumulated content, a token-count estimate, any terminal error, and
// whether at least one token reached the caller before that error.
func (s *LLMStreamStage) stream(ctx stage.Context, key breaker.Key, provider llm.Provider, providerName, model string, req llm.CompletionRequest) (content string, tokenCount int, err error, firstTokenSeen bool) {
	var scope *observability.CallScope
	if s.Calls != nil {
		if sc, scopeErr := s.Calls.TimeCall(ctx.Context, observability.ProviderCallRecord{
			Service: "llm", Operation: "llm", Provider: providerName, Model: model,
			PipelineRunID: ctx.Snapshot.PipelineRunID, SessionID: ctx.Snapshot.SessionID,
			RequestID: ctx.Snapshot.RequestID,
		}); scopeErr == nil {
			scope = sc
		}
	}

	chunks, startErr := provider.StreamCompletion(ctx.Context, req)
	if startErr != nil {
		s.Breakers.RecordFailure(key, startErr)
		if scope != nil {
			_ = scope.Finish(ctx.Context, observability.ProviderCallPatch{}, startErr)
		}
		return "", 0, startErr, false
	}

	var builder []byte
	for chunk := range chunks {
		if ctx.Canceled() {
			err = context.Canceled
			break
		}
		if chunk.FinishReason == "error" {
			err = errors.New("llm: in-stream error from " + providerName)
			break
		}
		if chunk.Text != "" {
			if !firstTokenSeen {
				firstTokenSeen = true
				s.emit(ctx, "llm.first_token", map[string]any{"provider": providerName, "model": model})
			}
			builder = append(builder, chunk.Text...)
			s.sendText(ctx, chunk.Text)
		}
	}
	content = string(builder)
	tokenCount = estimateTokens(content)

	if err != nil {
		s.Breakers.RecordFailure(key, err)
	} else {
		s.Breakers.RecordSuccess(key)
	}
	if scope != nil {
		_ = scope.Finish(ctx.Context, observability.ProviderCallPatch{
			Output: map[string]any{"content": content, "token_count": tokenCount},
		}, err)
	}
	return content, tokenCount, err, firstTokenSeen
}

// sendText forwards a token to both the synchronous SendToken callback and
// the bounded partial_text_queue. The queue put is timed: a consumer that
// lags past partialTextPutTimeout gets a warning event, but the token is
// never dropped — sendText falls through to a blocking send afterward,
// which is the natural throttle the queue exists to provide.
func (s *LLMStreamStage) sendText(ctx stage.Context, text string) {
	if ctx.Ports.SendToken != nil {
		ctx.Ports.SendToken(text)
	}
	if ctx.Ports.PartialText == nil {
		return
	}

	timeout := s.PartialTextPutTimeout
	if timeout <= 0 {
		timeout = partialTextPutTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ctx.Ports.PartialText <- text:
		return
	case <-timer.C:
		s.emit(ctx, "llm_stream.backpressure_exceeded", map[string]any{
			"timeout_ms": timeout.Milliseconds(),
		})
	case <-ctx.Done():
		return
	}

	select {
	case ctx.Ports.PartialText <- text:
	case <-ctx.Done():
	}
}

func (s *LLMStreamStage) emit(ctx stage.Context, eventType string, data map[string]any) {
	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit(eventType, data)
	}
}

func (s *LLMStreamStage) emitCompleted(ctx stage.Context, provider, model string, tokenCount int) {
	s.emit(ctx, "llm.completed", map[string]any{
		"provider": provider, "model": model, "token_count": tokenCount,
	})
}

// estimateTokens is the len(content)/4 heuristic used whenever the
// streaming transport does not report a usage count — [llm.Chunk] carries
// no token accounting, unlike [llm.CompletionResponse].
func estimateTokens(content string) int {
	if len(content) == 0 {
		return 0
	}
	n := len(content) / 4
	if n == 0 {
		n = 1
	}
	return n
}
