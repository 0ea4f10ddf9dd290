package chatcontext

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hellosales/coachkernel/internal/config"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
)

// Builder assembles ChatContext values. A Builder is safe for concurrent
// use; each store dependency is optional — a nil store contributes no text
// (its enricher, when enabled, still reports status=complete), so
// partially-wired deployments (e.g. no skills table yet) degrade gracefully
// instead of panicking.
type Builder struct {
	enrichers config.EnricherConfig
	events    *observability.PipelineEventLogger

	profile     ProfileStore
	metaSummary MetaSummaryStore
	summary     SummaryStore
	skills      SkillsStore
	messages    MessageStore

	promptV1, promptV2, onboardingPrompt string
}

// NewBuilder constructs a Builder. The prompt strings are the configured
// system prompt variants; onboardingPrompt is used instead of promptV1/
// promptV2 whenever the request is an onboarding session.
func NewBuilder(
	enrichers config.EnricherConfig,
	events *observability.PipelineEventLogger,
	profile ProfileStore,
	metaSummary MetaSummaryStore,
	summary SummaryStore,
	skills SkillsStore,
	messages MessageStore,
	promptV1, promptV2, onboardingPrompt string,
) *Builder {
	return &Builder{
		enrichers:        enrichers,
		events:           events,
		profile:          profile,
		metaSummary:      metaSummary,
		summary:          summary,
		skills:           skills,
		messages:         messages,
		promptV1:         promptV1,
		promptV2:         promptV2,
		onboardingPrompt: onboardingPrompt,
	}
}

// Prefetch runs every enabled enricher concurrently and returns the
// combined bundle, so callers can overlap this work with STT. Each
// enricher emits enricher.{name}.started/completed through the event
// logger; a store-level error degrades that one enricher to status=error
// rather than failing the whole prefetch.
func (b *Builder) Prefetch(ctx context.Context, req PrefetchRequest) (*PrefetchedEnrichers, error) {
	bundle := &PrefetchedEnrichers{Onboarding: req.Onboarding}
	meta := observability.EventMeta{
		Service:   req.Meta.Service,
		SessionID: req.Meta.SessionID,
		UserID:    req.Meta.UserID,
		OrgID:     req.Meta.OrgID,
		RequestID: req.Meta.RequestID,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		text, err := runEnricher(egCtx, b.events, req.PipelineRunID, "meta_summary", meta, b.enrichers.MetaSummaryEnabled, func() (string, error) {
			if b.metaSummary == nil {
				return "", nil
			}
			return b.metaSummary.GetMetaSummary(egCtx, req.UserID)
		})
		bundle.MetaSummary = text
		_ = err // enricher failures are reported via events, not propagated
		return nil
	})

	eg.Go(func() error {
		var cutoff time.Time
		text, err := runEnricher(egCtx, b.events, req.PipelineRunID, "summary", meta, b.enrichers.SummaryEnabled, func() (string, error) {
			if b.summary == nil {
				return "", nil
			}
			var summaryErr error
			text, cutoff, summaryErr = b.summary.GetSessionSummary(egCtx, req.SessionID)
			return text, summaryErr
		})
		bundle.SummaryText = text
		bundle.SummaryCutoff = cutoff
		_ = err
		return nil
	})

	eg.Go(func() error {
		text, err := runEnricher(egCtx, b.events, req.PipelineRunID, "profile", meta, b.enrichers.ProfileEnabled, func() (string, error) {
			if b.profile == nil {
				return "", nil
			}
			return b.profile.GetProfileText(egCtx, req.UserID)
		})
		bundle.ProfileText = text
		_ = err
		return nil
	})

	eg.Go(func() error {
		text, err := runEnricher(egCtx, b.events, req.PipelineRunID, "skills", meta, b.enrichers.SkillsEnabled, func() (string, error) {
			if b.skills == nil {
				return "", nil
			}
			return b.skills.GetSkillsContext(egCtx, req.UserID, req.SkillIDs)
		})
		bundle.SkillsText = text
		_ = err
		return nil
	})

	_ = eg.Wait() // the goroutines above never return a non-nil error
	return bundle, nil
}

// runEnricher times a single enricher call and emits its started/completed
// events. Disabled enrichers emit only a completed{enabled=false,
// status=skipped, duration_ms=0} event, per spec.md §4.6.
func runEnricher(ctx context.Context, events *observability.PipelineEventLogger, pipelineRunID, name string, meta observability.EventMeta, enabled bool, fn func() (string, error)) (string, error) {
	if !enabled {
		emitEnricherCompleted(ctx, events, pipelineRunID, name, meta, false, "skipped", 0, "")
		return "", nil
	}

	emitEnricherStarted(ctx, events, pipelineRunID, name, meta)

	start := time.Now()
	text, err := fn()
	duration := time.Since(start)

	status := "complete"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	emitEnricherCompleted(ctx, events, pipelineRunID, name, meta, true, status, duration, errMsg)
	return text, err
}

func emitEnricherStarted(ctx context.Context, events *observability.PipelineEventLogger, pipelineRunID, name string, meta observability.EventMeta) {
	if events == nil {
		return
	}
	_ = events.Emit(ctx, pipelineRunID, "enricher."+name+".started", map[string]any{"enabled": true}, meta)
}

func emitEnricherCompleted(ctx context.Context, events *observability.PipelineEventLogger, pipelineRunID, name string, meta observability.EventMeta, enabled bool, status string, duration time.Duration, errMsg string) {
	if events == nil {
		return
	}
	data := map[string]any{
		"enabled":     enabled,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	_ = events.Emit(ctx, pipelineRunID, "enricher."+name+".completed", data, meta)
}

// Build assembles the 7-step ordered ChatContext per spec.md §4.6. When
// req.Prefetched is nil, Build calls Prefetch itself before assembling, so
// the enrichers run concurrently with each other but not overlapped with
// any work the caller does before Build; callers who want that overlap call
// Prefetch first and pass its result here.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*ChatContext, error) {
	prefetched := req.Prefetched
	if prefetched == nil {
		bundle, err := b.Prefetch(ctx, PrefetchRequest{
			PipelineRunID: req.PipelineRunID,
			SessionID:     req.SessionID,
			UserID:        req.UserID,
			SkillIDs:      req.SkillIDs,
			Onboarding:    req.Onboarding,
			Meta:          req.Meta,
		})
		if err != nil {
			return nil, err
		}
		prefetched = bundle
	}

	cc := &ChatContext{
		SummaryText:   prefetched.SummaryText,
		SummaryCutoff: prefetched.SummaryCutoff,
	}

	// 1. System prompt variant.
	systemPrompt := b.promptV1
	if req.PromptVersion == "v2" {
		systemPrompt = b.promptV2
	}
	if req.Onboarding && b.onboardingPrompt != "" {
		systemPrompt = b.onboardingPrompt
	}
	if systemPrompt != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: systemPrompt})
	}

	// 2. Platform hints (onboarding-only).
	if req.Onboarding && req.PlatformHint != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: "platform: " + req.PlatformHint})
	}

	// 3. Skills context.
	if prefetched.SkillsText != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: prefetched.SkillsText})
	}

	// 4. User profile text.
	if prefetched.ProfileText != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: prefetched.ProfileText})
	}

	// 5. Cross-session meta-summary.
	if prefetched.MetaSummary != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: prefetched.MetaSummary})
	}

	// 6. Intra-session rolling summary with its cutoff timestamp.
	if prefetched.SummaryText != "" {
		cc.Messages = append(cc.Messages, Message{Role: "system", Content: prefetched.SummaryText})
	}

	// 7. Conversation history: after-cutoff messages plus the last-N,
	// deduplicated, sorted chronologically, with inline assessments
	// injected as system messages immediately after the user turn they
	// assessed.
	history, assessments, err := b.loadHistory(ctx, req.SessionID, prefetched.SummaryCutoff, req.LastN)
	if err != nil {
		return nil, err
	}
	cc.Messages = append(cc.Messages, renderHistory(history, assessments)...)

	return cc, nil
}

func (b *Builder) loadHistory(ctx context.Context, sessionID string, cutoff time.Time, lastN int) ([]StoredMessage, []Assessment, error) {
	if b.messages == nil {
		return nil, nil, nil
	}
	if lastN <= 0 {
		lastN = defaultLastN
	}

	afterCutoff, err := b.messages.After(ctx, sessionID, cutoff)
	if err != nil {
		return nil, nil, err
	}
	recent, err := b.messages.LastN(ctx, sessionID, lastN)
	if err != nil {
		return nil, nil, err
	}
	assessments, err := b.messages.Assessments(ctx, sessionID, cutoff)
	if err != nil {
		return nil, nil, err
	}

	merged := dedupeMessages(afterCutoff, recent)
	return merged, assessments, nil
}

// dedupeMessages merges two message slices by ID and returns them sorted
// chronologically.
func dedupeMessages(a, b []StoredMessage) []StoredMessage {
	seen := make(map[string]StoredMessage, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))
	for _, m := range a {
		if _, ok := seen[m.ID]; !ok {
			order = append(order, m.ID)
		}
		seen[m.ID] = m
	}
	for _, m := range b {
		if _, ok := seen[m.ID]; !ok {
			order = append(order, m.ID)
		}
		seen[m.ID] = m
	}
	merged := make([]StoredMessage, 0, len(order))
	for _, id := range order {
		merged = append(merged, seen[id])
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// renderHistory converts stored messages into Message entries, injecting
// each assessment as a system message immediately after the user turn it
// assessed.
func renderHistory(history []StoredMessage, assessments []Assessment) []Message {
	byMessage := make(map[string][]Assessment, len(assessments))
	for _, a := range assessments {
		byMessage[a.AfterMessageID] = append(byMessage[a.AfterMessageID], a)
	}

	out := make([]Message, 0, len(history)+len(assessments))
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Content: m.Content})
		for _, a := range byMessage[m.ID] {
			out = append(out, Message{Role: "system", Content: a.Content})
		}
	}
	return out
}
