package topology

import (
	"github.com/hellosales/coachkernel/internal/kernel/pipeline"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/internal/kernel/stages"
	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

// VoiceFast returns the voice_fast topology, per spec.md §4.9's composite
// DAG: stt → (persist_user_message ∥ skills ∥ context_build ∥ []) →
// llm_stream → tts_incremental → persist_assistant_message → backfill_ids.
// Assessment runs in the background, same as chat_fast.
func (d *Dependencies) VoiceFast() pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		if len(rc.audio) == 0 {
			return nil, errTopology("voice_fast", "no audio in configuration")
		}
		return stage.NewGraph(d.voiceStages(rc, "voice_fast", "", func() stage.Stage {
			return &stages.AssessmentBackgroundStage{
				Triage: d.Triage, TriageName: d.TriageName, TriageModel: d.TriageModel,
				Store: d.Assessments, SessionID: rc.sessionID, ContentFrom: "stt",
				Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
			}
		}, ""))
	}
}

// VoiceAccurate returns the voice_accurate topology: assessment runs
// synchronously between stt and context_build.
func (d *Dependencies) VoiceAccurate() pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		if len(rc.audio) == 0 {
			return nil, errTopology("voice_accurate", "no audio in configuration")
		}
		return stage.NewGraph(d.voiceStages(rc, "voice_accurate", "", func() stage.Stage {
			return &stages.AssessmentForegroundStage{
				Triage: d.Triage, TriageName: d.TriageName, TriageModel: d.TriageModel,
				Store: d.Assessments, SessionID: rc.sessionID, ContentFrom: "stt",
				Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
			}
		}, "assessment_foreground"))
	}
}

// VoiceAccurateFiller is VoiceAccurate with a filler phrase synthesized
// immediately so the user hears something before the first real sentence
// is ready — spec.md §4.8 step 5.
func (d *Dependencies) VoiceAccurateFiller(filler string) pipeline.Topology {
	return func(cfg map[string]any) (*stage.Graph, error) {
		rc := newRunConfig(cfg, d)
		if len(rc.audio) == 0 {
			return nil, errTopology("voice_accurate_filler", "no audio in configuration")
		}
		return stage.NewGraph(d.voiceStages(rc, "voice_accurate_filler", filler, func() stage.Stage {
			return &stages.AssessmentForegroundStage{
				Triage: d.Triage, TriageName: d.TriageName, TriageModel: d.TriageModel,
				Store: d.Assessments, SessionID: rc.sessionID, ContentFrom: "stt",
				Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
			}
		}, "assessment_foreground"))
	}
}

// voiceStages assembles the stage set shared by all three voice behaviors.
// filler, when non-empty, is synthesized by tts_incremental before any real
// text arrives.
func (d *Dependencies) voiceStages(rc runConfig, service, filler string, assessment func() stage.Stage, awaitsName string) []stage.Stage {
	sttStage := &stages.STTStage{
		Audio: rc.audio, Format: rc.format, Language: rc.language,
		Keywords: []stt.KeywordBoost{}, Provider: d.STT, ProviderName: d.STTName, Model: d.STTModel,
		Breakers: d.Breakers, Retry: d.Retry, Calls: d.Calls,
	}

	return []stage.Stage{
		sttStage,
		&stages.SkillsStage{SkillIDs: rc.skillIDs},
		assessment(),
		&stages.ContextBuildStage{
			Builder:          d.ChatBuilder,
			Request:          rc.contextBuildRequest(service),
			AwaitsAssessment: awaitsName,
		},
		&stages.GuardPreLLMStage{Stage: d.Guardrails, ContentFrom: "stt"},
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
		&stages.TTSIncrementalStage{
			Voice: rc.voice, Format: rc.format, Speed: rc.speed,
			Provider: d.TTS, ProviderName: d.TTSName, Model: d.TTSModel,
			Breakers: d.Breakers, Calls: d.Calls, Filler: filler,
		},
		&stages.GuardPreDeliveryStage{Stage: d.Guardrails},
		&stages.FinalReplyStage{},
		&stages.PersistUserMessageStage{
			Store: d.Interactions, SessionID: rc.sessionID, ContentFrom: "stt",
		},
		&stages.PersistAssistantMessageStage{
			Store: d.Interactions, SessionID: rc.sessionID, ContentFrom: "final_reply",
		},
		&stages.BackfillIDsStage{Store: d.Interactions},
	}
}
