package topology

import (
	"github.com/hellosales/coachkernel/internal/kernel/pipeline"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
)

// ChatFast returns the chat_fast topology, per spec.md §4.10: no STT, no
// TTS, assessment runs in the background (fire-and-forget, interaction-
// id-less — rows are backfilled once the user message commits).
func (d *Dependencies) ChatFast() pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		return stage.NewGraph(d.chatStages(rc, "chat_fast", func() stage.Stage {
			return &stages.AssessmentBackgroundStage{
				Triage: d.Triage, TriageName: d.TriageName, TriageModel: d.TriageModel,
				Store: d.Assessments, SessionID: rc.sessionID, Content: rc.content,
				Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
			}
		}, ""))
	}
}

// ChatAccurate returns the chat_accurate topology: assessment runs
// synchronously before context_build (and therefore before llm_stream).
func (d *Dependencies) ChatAccurate() pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		return stage.NewGraph(d.chatStages(rc, "chat_accurate", func() stage.Stage {
			return &stages.AssessmentForegroundStage{
				Triage: d.Triage, TriageName: d.TriageName, TriageModel: d.TriageModel,
				Store: d.Assessments, SessionID: rc.sessionID, Content: rc.content,
				Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
			}
		}, "assessment_foreground"))
	}
}

// ChatTyped returns the chat_typed topology: assessment is skipped
// entirely, emitting assessment.skipped{reason=typed_input}.
func (d *Dependencies) ChatTyped() pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		return stage.NewGraph(d.chatStages(rc, "chat_typed", func() stage.Stage {
			return &stages.AssessmentSkippedStage{}
		}, ""))
	}
}

// chatStages assembles the stage set shared by all three chat behaviors.
// assessment builds the behavior-specific assessment stage; awaitsName is
// the name context_build should wait on ("assessment_foreground" for
// chat_accurate, "" otherwise — background/skipped assessments never
// block context assembly).
func (d *Dependencies) chatStages(rc runConfig, service string, assessment func() stage.Stage, awaitsName string) []stage.Stage {
	userText := &stages.UserTextStage{Content: rc.content}

	return []stage.Stage{
		userText,
		&stages.SkillsStage{SkillIDs: rc.skillIDs},
		assessment(),
		&stages.ContextBuildStage{
			Builder:          d.ChatBuilder,
			Request:          rc.contextBuildRequest(service),
			AwaitsAssessment: awaitsName,
		},
		&stages.GuardPreLLMStage{Stage: d.Guardrails, ContentFrom: "user_text"},
		&stages.PolicyPreLLMStage{
			Gateway: d.Policy, UserID: rc.userID, OrgID: rc.orgID,
			Intent: rc.intent, EstimatedTokens: rc.estimatedTokens,
		},
		&stages.LLMStreamStage{
			Temperature: rc.temperature, MaxTokens: rc.maxTokens, CacheKey: rc.cacheKey,
			Primary: d.LLMPrimary, PrimaryName: d.LLMPrimaryName, PrimaryModel: d.LLMPrimaryModel,
			Backup: d.LLMBackup, BackupName: d.LLMBackupName, BackupModel: d.LLMBackupModel,
			Breakers: d.Breakers, Calls: d.Calls,
		},
		&stages.GuardPreDeliveryStage{Stage: d.Guardrails},
		&stages.FinalReplyStage{},
		&stages.PersistUserMessageStage{
			Store: d.Interactions, SessionID: rc.sessionID, ContentFrom: "user_text",
		},
		&stages.PersistAssistantMessageStage{
			Store: d.Interactions, SessionID: rc.sessionID, ContentFrom: "final_reply",
		},
		&stages.BackfillIDsStage{Store: d.Interactions},
	}
}
