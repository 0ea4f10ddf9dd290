package stages

import (
	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

// ContextBuildStage assembles the ChatContext for this turn, per spec.md
// §4.6. It accepts optional prefetched enrichers (computed during STT to
// overlap with it); otherwise it loads them itself. For `accurate`
// behavior, AwaitsAssessment names the foreground assessment stage so the
// graph schedules context_build after it; for `fast` behavior, leave it
// empty so context_build proceeds independently.
type ContextBuildStage struct {
	Builder *chatcontext.Builder

	Request        chatcontext.BuildRequest
	Prefetched     *chatcontext.PrefetchedEnrichers
	AwaitsAssessment string // upstream stage name, or "" for fast behavior
}

func (s *ContextBuildStage) Name() string    { return "context_build" }
func (s *ContextBuildStage) Kind() stage.Kind { return stage.KindEnrich }

func (s *ContextBuildStage) Dependencies() []string {
	if s.AwaitsAssessment == "" {
		return nil
	}
	return []string{s.AwaitsAssessment}
}

// Optional is true: a missing (not-yet-committed) foreground assessment
// input must not block context assembly — it proceeds without it.
func (s *ContextBuildStage) Optional() bool { return true }

func (s *ContextBuildStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	req := s.Request
	req.Prefetched = s.Prefetched
	// PipelineRunID/SessionID/UserID are authoritative on ctx.Snapshot (set
	// once by the orchestrator at run start); prefer them over whatever the
	// topology stamped onto s.Request at graph-build time.
	req.PipelineRunID = ctx.Snapshot.PipelineRunID
	req.SessionID = ctx.Snapshot.SessionID
	req.UserID = ctx.Snapshot.UserID
	req.Meta.RequestID = ctx.Snapshot.RequestID
	req.Meta.OrgID = ctx.Snapshot.OrgID

	cc, err := s.Builder.Build(ctx.Context, req)
	if err != nil {
		return stage.Output{Status: stage.StatusError, Err: err}, nil
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data: map[string]any{
			"chat_context": cc,
			"messages":     toLLMMessages(cc),
		},
	}, nil
}

// toLLMMessages flattens a ChatContext into the ordered message list the
// LLM stream stage sends to the provider.
func toLLMMessages(cc *chatcontext.ChatContext) []llm.Message {
	messages := make([]llm.Message, 0, len(cc.Messages))
	for _, m := range cc.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}
