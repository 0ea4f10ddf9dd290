package stages

import (
	"context"

	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

// InteractionStore persists conversation turns and backfills provider-call
// rows once an interaction ID is known. A concrete implementation lives in
// internal/storage/postgres.
type InteractionStore interface {
	CreateUserMessage(ctx context.Context, sessionID, content string, skillIDs []string) (messageID string, err error)
	CreateAssistantMessage(ctx context.Context, sessionID, content string) (messageID string, err error)

	// Backfill updates provider_calls.interaction_id for every row logged
	// during this pipeline run, per spec.md §4.9's backfill_ids step.
	Backfill(ctx context.Context, pipelineRunID, interactionID string) error
}

// PersistUserMessageStage writes the incoming user message (text, for chat;
// transcript, for voice) as an interaction row.
type PersistUserMessageStage struct {
	Store     InteractionStore
	SessionID string
	Content   string

	// ContentFrom, when set, names the upstream stage (e.g. "stt") whose
	// Data["text"] supplies Content instead of the field above.
	ContentFrom string
}

func (s *PersistUserMessageStage) Name() string    { return "persist_user_message" }
func (s *PersistUserMessageStage) Kind() stage.Kind { return stage.KindWork }

func (s *PersistUserMessageStage) Dependencies() []string {
	deps := []string{"skills"}
	if s.ContentFrom != "" {
		deps = append(deps, s.ContentFrom)
	}
	return deps
}

func (s *PersistUserMessageStage) Optional() bool { return false }

func (s *PersistUserMessageStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	content := s.Content
	if s.ContentFrom != "" {
		if text, ok := ctx.Input(s.ContentFrom, "text"); ok {
			content, _ = text.(string)
		}
	}

	var skillIDs []string
	if v, ok := ctx.Input("skills", "skill_ids"); ok {
		skillIDs, _ = v.([]string)
	}

	messageID, err := s.Store.CreateUserMessage(ctx.Context, s.SessionID, content, skillIDs)
	if err != nil {
		return stage.Output{Status: stage.StatusError, Err: err}, nil
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data:   map[string]any{"message_id": messageID, "content": content},
	}, nil
}

// PersistAssistantMessageStage writes the completed assistant reply as an
// interaction row once its source stage has finished. ContentFrom defaults
// to "llm_stream" but a topology may point it at a later composition stage
// (e.g. "final_reply") so a policy/guardrails block at an earlier checkpoint
// is what actually gets persisted and returned to the client.
type PersistAssistantMessageStage struct {
	Store       InteractionStore
	SessionID   string
	ContentFrom string
}

func (s *PersistAssistantMessageStage) Name() string { return "persist_assistant_message" }
func (s *PersistAssistantMessageStage) Kind() stage.Kind { return stage.KindWork }
func (s *PersistAssistantMessageStage) Dependencies() []string {
	return []string{s.contentFrom()}
}
func (s *PersistAssistantMessageStage) Optional() bool { return false }

func (s *PersistAssistantMessageStage) contentFrom() string {
	if s.ContentFrom == "" {
		return "llm_stream"
	}
	return s.ContentFrom
}

func (s *PersistAssistantMessageStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	content := ""
	if v, ok := ctx.Input(s.contentFrom(), "content"); ok {
		content, _ = v.(string)
	}

	messageID, err := s.Store.CreateAssistantMessage(ctx.Context, s.SessionID, content)
	if err != nil {
		return stage.Output{Status: stage.StatusError, Err: err}, nil
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data:   map[string]any{"message_id": messageID, "content": content},
	}, nil
}

// BackfillIDsStage updates provider_calls.interaction_id for every row
// logged during the turn, once the assistant message's interaction ID is
// known — the final step of the voice topology per spec.md §4.9.
type BackfillIDsStage struct {
	Store InteractionStore
}

func (s *BackfillIDsStage) Name() string    { return "backfill_ids" }
func (s *BackfillIDsStage) Kind() stage.Kind { return stage.KindWork }
func (s *BackfillIDsStage) Dependencies() []string {
	return []string{"persist_assistant_message"}
}
func (s *BackfillIDsStage) Optional() bool { return false }

func (s *BackfillIDsStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	interactionID := ""
	if v, ok := ctx.Input("persist_assistant_message", "message_id"); ok {
		interactionID, _ = v.(string)
	}

	if err := s.Store.Backfill(ctx.Context, ctx.Snapshot.PipelineRunID, interactionID); err != nil {
		return stage.Output{Status: stage.StatusError, Err: err}, nil
	}

	return stage.Output{Status: stage.StatusOK}, nil
}
