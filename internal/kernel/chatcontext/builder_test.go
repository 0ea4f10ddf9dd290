package chatcontext_test

import (
	"context"
	"testing"
	"time"

	"github.com/hellosales/coachkernel/internal/config"
	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

type fakeSink struct{ events []observability.PipelineEvent }

func (s *fakeSink) Record(_ context.Context, e observability.PipelineEvent) error {
	s.events = append(s.events, e)
	return nil
}

type fakeRuns struct{}

func (fakeRuns) CreateRun(context.Context, observability.RunRecord) error { return nil }
func (fakeRuns) PatchStages(context.Context, string, map[string]observability.StageMetric) error {
	return nil
}
func (fakeRuns) Terminal(context.Context, string, observability.TerminalResult) error { return nil }

type fakeProfile struct{ text string }

func (f fakeProfile) GetProfileText(context.Context, string) (string, error) { return f.text, nil }

type fakeMetaSummary struct{ text string }

func (f fakeMetaSummary) GetMetaSummary(context.Context, string) (string, error) { return f.text, nil }

type fakeSummary struct {
	text   string
	cutoff time.Time
}

func (f fakeSummary) GetSessionSummary(context.Context, string) (string, time.Time, error) {
	return f.text, f.cutoff, nil
}

type fakeSkills struct{ text string }

func (f fakeSkills) GetSkillsContext(context.Context, string, []string) (string, error) {
	return f.text, nil
}

type fakeMessages struct {
	after       []chatcontext.StoredMessage
	lastN       []chatcontext.StoredMessage
	assessments []chatcontext.Assessment
}

func (f fakeMessages) LastN(context.Context, string, int) ([]chatcontext.StoredMessage, error) {
	return f.lastN, nil
}
func (f fakeMessages) After(context.Context, string, time.Time) ([]chatcontext.StoredMessage, error) {
	return f.after, nil
}
func (f fakeMessages) Assessments(context.Context, string, time.Time) ([]chatcontext.Assessment, error) {
	return f.assessments, nil
}

func newEvents() (*observability.PipelineEventLogger, *fakeSink) {
	sink := &fakeSink{}
	return observability.NewPipelineEventLogger(sink, fakeRuns{}, nil), sink
}

func TestBuilder_Build_SevenStepOrdering(t *testing.T) {
	events, _ := newEvents()
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)

	b := chatcontext.NewBuilder(
		config.EnricherConfig{ProfileEnabled: true, SummaryEnabled: true, MetaSummaryEnabled: true, SkillsEnabled: true},
		events,
		fakeProfile{text: "profile: likes mornings"},
		fakeMetaSummary{text: "meta: long time user"},
		fakeSummary{text: "summary: discussed goals", cutoff: t1},
		fakeSkills{text: "skills: squat level 2"},
		fakeMessages{
			after: []chatcontext.StoredMessage{
				{ID: "m1", Role: "user", Content: "hello", Timestamp: t1},
				{ID: "m2", Role: "assistant", Content: "hi there", Timestamp: t2},
			},
			lastN: []chatcontext.StoredMessage{
				{ID: "m2", Role: "assistant", Content: "hi there", Timestamp: t2},
			},
			assessments: []chatcontext.Assessment{
				{AfterMessageID: "m1", Content: "assessment: good engagement", Timestamp: t1},
			},
		},
		"system v1", "system v2", "onboarding prompt",
	)

	cc, err := b.Build(context.Background(), chatcontext.BuildRequest{
		SessionID:     "sess-1",
		UserID:        "user-1",
		PromptVersion: "v2",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantOrder := []string{
		"system v2",
		"skills: squat level 2",
		"profile: likes mornings",
		"meta: long time user",
		"summary: discussed goals",
		"hello",
		"assessment: good engagement",
		"hi there",
	}
	if len(cc.Messages) != len(wantOrder) {
		t.Fatalf("Messages = %+v, want %d entries matching %v", cc.Messages, len(wantOrder), wantOrder)
	}
	for i, want := range wantOrder {
		if cc.Messages[i].Content != want {
			t.Errorf("Messages[%d].Content = %q, want %q", i, cc.Messages[i].Content, want)
		}
	}
}

func TestBuilder_Build_OnboardingUsesOnboardingPromptAndPlatformHint(t *testing.T) {
	events, _ := newEvents()
	b := chatcontext.NewBuilder(
		config.EnricherConfig{},
		events,
		nil, nil, nil, nil, nil,
		"system v1", "system v2", "onboarding prompt",
	)

	cc, err := b.Build(context.Background(), chatcontext.BuildRequest{
		SessionID:    "sess-1",
		Onboarding:   true,
		PlatformHint: "native",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cc.Messages) < 2 {
		t.Fatalf("expected at least prompt+platform hint, got %+v", cc.Messages)
	}
	if cc.Messages[0].Content != "onboarding prompt" {
		t.Errorf("Messages[0] = %+v, want onboarding prompt", cc.Messages[0])
	}
	if cc.Messages[1].Content != "platform: native" {
		t.Errorf("Messages[1] = %+v, want platform hint", cc.Messages[1])
	}
}

func TestBuilder_Prefetch_DisabledEnricherEmitsSkippedCompleted(t *testing.T) {
	events, sink := newEvents()
	b := chatcontext.NewBuilder(
		config.EnricherConfig{}, // all disabled
		events,
		fakeProfile{text: "should not be used"},
		nil, nil, nil, nil,
		"", "", "",
	)

	bundle, err := b.Prefetch(context.Background(), chatcontext.PrefetchRequest{
		PipelineRunID: "run-1",
		SessionID:     "sess-1",
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if bundle.ProfileText != "" {
		t.Errorf("expected disabled profile enricher to contribute nothing, got %q", bundle.ProfileText)
	}

	var sawCompleted bool
	for _, e := range sink.events {
		if e.Type == "enricher.profile.completed" {
			sawCompleted = true
			if e.Data["enabled"] != false || e.Data["status"] != "skipped" {
				t.Errorf("expected skipped/disabled completed event, got %+v", e.Data)
			}
		}
		if e.Type == "enricher.profile.started" {
			t.Errorf("disabled enricher should not emit a started event, got %+v", e)
		}
	}
	if !sawCompleted {
		t.Errorf("expected an enricher.profile.completed event, got %+v", sink.events)
	}
}

func TestBuilder_Prefetch_EnabledEnricherEmitsStartedAndCompleted(t *testing.T) {
	events, sink := newEvents()
	b := chatcontext.NewBuilder(
		config.EnricherConfig{ProfileEnabled: true},
		events,
		fakeProfile{text: "profile text"},
		nil, nil, nil, nil,
		"", "", "",
	)

	bundle, err := b.Prefetch(context.Background(), chatcontext.PrefetchRequest{
		PipelineRunID: "run-1",
		SessionID:     "sess-1",
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if bundle.ProfileText != "profile text" {
		t.Errorf("ProfileText = %q, want %q", bundle.ProfileText, "profile text")
	}

	var sawStarted, sawCompleted bool
	for _, e := range sink.events {
		switch e.Type {
		case "enricher.profile.started":
			sawStarted = true
		case "enricher.profile.completed":
			sawCompleted = true
			if e.Data["status"] != "complete" {
				t.Errorf("expected status=complete, got %+v", e.Data)
			}
		}
	}
	if !sawStarted || !sawCompleted {
		t.Errorf("expected both started and completed events, got %+v", sink.events)
	}
}
