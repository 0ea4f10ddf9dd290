package stages

import (
	"context"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
)

// AssessmentStore persists a triage assessment. Both assessment stages
// store it under the session with an empty AfterMessageID; no later step
// fills that ID in.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, sessionID, afterMessageID, content string) error
}

// AssessmentForegroundStage runs the triage model synchronously before
// context_build, for `accurate` behavior: context_build (and therefore
// llm_stream) waits on this stage's name in its Dependencies.
type AssessmentForegroundStage struct {
	Triage      llm.Provider
	TriageName  string
	TriageModel string

	Store     AssessmentStore
	SessionID string
	Content   string

	// ContentFrom, when set, names the upstream stage (e.g. "stt") whose
	// Data["text"] supplies the content to assess instead of the field
	// above — chat topologies know Content upfront, voice topologies only
	// know it once stt has transcribed the turn.
	ContentFrom string

	Breakers *breaker.Registry
	Retry    retry.Policy
	Calls    *observability.ProviderCallLogger
}

func (s *AssessmentForegroundStage) Name() string     { return "assessment_foreground" }
func (s *AssessmentForegroundStage) Kind() stage.Kind { return stage.KindAgent }
func (s *AssessmentForegroundStage) Dependencies() []string {
	if s.ContentFrom == "" {
		return nil
	}
	return []string{s.ContentFrom}
}
func (s *AssessmentForegroundStage) Optional() bool { return true }

func (s *AssessmentForegroundStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	text, err := s.runTriage(ctx.Context, s.content(ctx), ctx.Snapshot)
	if err != nil {
		if ctx.Ports.Emit != nil {
			ctx.Ports.Emit("assessment.error", map[string]any{"error": err.Error()})
		}
		return stage.Output{Status: stage.StatusOK, Data: map[string]any{"reason": "assessment_failed"}}, nil
	}

	if s.Store != nil {
		_ = s.Store.SaveAssessment(ctx.Context, s.SessionID, "", text)
	}

	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("assessment.complete", map[string]any{"mode": "accurate", "content": text})
	}

	return stage.Output{Status: stage.StatusOK, Data: map[string]any{"assessment": text}}, nil
}

// AssessmentBackgroundStage kicks off the triage model without blocking the
// pipeline, for `fast` behavior: it launches a goroutine and returns
// immediately, so downstream stages never wait on it. The assessment is
// persisted (and assessment.complete/assessment.error emitted) whenever the
// goroutine finishes, which may be after the pipeline run itself completes.
type AssessmentBackgroundStage struct {
	Triage      llm.Provider
	TriageName  string
	TriageModel string

	Store     AssessmentStore
	SessionID string
	Content   string

	// ContentFrom, when set, names the upstream stage whose Data["text"]
	// supplies the content to assess instead of the field above.
	ContentFrom string

	Breakers *breaker.Registry
	Retry    retry.Policy
	Calls    *observability.ProviderCallLogger
}

func (s *AssessmentBackgroundStage) Name() string     { return "assessment_background" }
func (s *AssessmentBackgroundStage) Kind() stage.Kind { return stage.KindAgent }
func (s *AssessmentBackgroundStage) Dependencies() []string {
	if s.ContentFrom == "" {
		return nil
	}
	return []string{s.ContentFrom}
}
func (s *AssessmentBackgroundStage) Optional() bool { return true }

func (s *AssessmentBackgroundStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	// A detached context: the pipeline run (and ctx.Context) may be
	// cancelled/finished before this goroutine completes, but the triage
	// call itself should still run to completion and persist its result.
	bgCtx := context.WithoutCancel(ctx.Context)
	emit := ctx.Ports.Emit
	snapshot := ctx.Snapshot
	content := s.content(ctx)

	go func() {
		text, err := s.runTriage(bgCtx, content, snapshot)
		if err != nil {
			if emit != nil {
				emit("assessment.error", map[string]any{"error": err.Error()})
			}
			return
		}
		if s.Store != nil {
			_ = s.Store.SaveAssessment(bgCtx, s.SessionID, "", text)
		}
		if emit != nil {
			emit("assessment.complete", map[string]any{"mode": "fast", "content": text})
		}
	}()

	return stage.Output{Status: stage.StatusOK, Data: map[string]any{"dispatched": true}}, nil
}

// AssessmentSkippedStage emits assessment.skipped{reason=typed_input} for
// `chat_typed`, which never runs the triage model at all.
type AssessmentSkippedStage struct{}

func (s *AssessmentSkippedStage) Name() string           { return "assessment_skipped" }
func (s *AssessmentSkippedStage) Kind() stage.Kind       { return stage.KindAgent }
func (s *AssessmentSkippedStage) Dependencies() []string { return nil }
func (s *AssessmentSkippedStage) Optional() bool         { return true }

func (s *AssessmentSkippedStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Ports.Emit != nil {
		ctx.Ports.Emit("assessment.skipped", map[string]any{"reason": "typed_input"})
	}
	return stage.Output{Status: stage.StatusSkipped, Data: map[string]any{"reason": "typed_input"}}, nil
}

func (s *AssessmentForegroundStage) content(ctx stage.Context) string {
	if s.ContentFrom == "" {
		return s.Content
	}
	return readContent(ctx, s.ContentFrom)
}

func (s *AssessmentBackgroundStage) content(ctx stage.Context) string {
	if s.ContentFrom == "" {
		return s.Content
	}
	return readContent(ctx, s.ContentFrom)
}

// runTriageWith shares the breaker+retry+call-logging plumbing between the
// foreground and background variants.
func runTriageWith(ctx context.Context, breakers *breaker.Registry, policyCfg retry.Policy, calls *observability.ProviderCallLogger, provider llm.Provider, providerName, model, content string, snapshot stage.Snapshot) (string, error) {
	key := breaker.Key{Operation: "assessment", Provider: providerName, Model: model}

	var scope *observability.CallScope
	if calls != nil {
		if sc, err := calls.TimeCall(ctx, observability.ProviderCallRecord{
			Service: "assessment", Operation: "assessment", Provider: providerName, Model: model,
			PipelineRunID: snapshot.PipelineRunID, SessionID: snapshot.SessionID, RequestID: snapshot.RequestID,
		}); err == nil {
			scope = sc
		}
	}

	var resp *llm.CompletionResponse
	callErr := breakers.Execute(key, func() error {
		var err error
		resp, err = retry.Do(ctx, policyCfg, func(rctx context.Context) (*llm.CompletionResponse, error) {
			return provider.Complete(rctx, llm.CompletionRequest{
				Messages: []llm.Message{{Role: "user", Content: content}},
			})
		})
		return err
	})

	text := ""
	if resp != nil {
		text = resp.Content
	}
	if scope != nil {
		_ = scope.Finish(ctx, observability.ProviderCallPatch{Output: map[string]any{"content": text}}, callErr)
	}
	if callErr != nil {
		return "", callErr
	}
	return text, nil
}

func (s *AssessmentForegroundStage) runTriage(ctx context.Context, content string, snapshot stage.Snapshot) (string, error) {
	return runTriageWith(ctx, s.Breakers, s.Retry, s.Calls, s.Triage, s.TriageName, s.TriageModel, content, snapshot)
}

func (s *AssessmentBackgroundStage) runTriage(ctx context.Context, content string, snapshot stage.Snapshot) (string, error) {
	return runTriageWith(ctx, s.Breakers, s.Retry, s.Calls, s.Triage, s.TriageName, s.TriageModel, content, snapshot)
}
