package stages

import "github.com/hellosales/coachkernel/internal/kernel/stage"

// SkillsStage normalizes and validates the skill IDs named on the inbound
// frame before context_build and persist_user_message consume them,
// deduplicating and dropping blanks so both stages see the same
// canonical list without repeating the cleanup logic.
type SkillsStage struct {
	SkillIDs []string
}

func (s *SkillsStage) Name() string          { return "skills" }
func (s *SkillsStage) Kind() stage.Kind      { return stage.KindEnrich }
func (s *SkillsStage) Dependencies() []string { return nil }
func (s *SkillsStage) Optional() bool         { return true }

func (s *SkillsStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}

	seen := make(map[string]struct{}, len(s.SkillIDs))
	ids := make([]string, 0, len(s.SkillIDs))
	for _, id := range s.SkillIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return stage.Output{
		Status: stage.StatusOK,
		Data:   map[string]any{"skill_ids": ids},
	}, nil
}
