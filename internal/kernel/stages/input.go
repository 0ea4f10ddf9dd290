package stages

import "github.com/hellosales/coachkernel/internal/kernel/stage"

// UserTextStage exposes the raw inbound text — chat content for chat
// topologies — as a named stage output, the same way SkillsStage
// normalizes skill IDs, so guard_pre_llm/persist_user_message can read it
// via Dependencies/ContentFrom instead of each topology wiring a static
// string into every consumer separately.
type UserTextStage struct {
	Content string
}

func (s *UserTextStage) Name() string          { return "user_text" }
func (s *UserTextStage) Kind() stage.Kind      { return stage.KindTransform }
func (s *UserTextStage) Dependencies() []string { return nil }
func (s *UserTextStage) Optional() bool         { return true }

func (s *UserTextStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}
	return stage.Output{Status: stage.StatusOK, Data: map[string]any{"text": s.Content}}, nil
}
