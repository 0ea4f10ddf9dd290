package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProviderCallStore persists provider_calls rows. A concrete implementation
// lives in internal/storage/postgres.
type ProviderCallStore interface {
	RecordCall(ctx context.Context, call ProviderCallRecord) error
	UpdateCall(ctx context.Context, callID string, patch ProviderCallPatch) error
}

// ProviderCallLogger times and records a single provider invocation.
type ProviderCallLogger struct {
	calls ProviderCallStore
	log   *slog.Logger
}

// NewProviderCallLogger builds a call logger over calls. log defaults to
// [slog.Default] when nil.
func NewProviderCallLogger(calls ProviderCallStore, log *slog.Logger) *ProviderCallLogger {
	if log == nil {
		log = slog.Default()
	}
	return &ProviderCallLogger{calls: calls, log: log}
}

// CallScope is the handle returned by [ProviderCallLogger.TimeCall]. Callers
// must invoke [CallScope.Finish] exactly once when the provider call
// completes (successfully or not).
type CallScope struct {
	logger  *ProviderCallLogger
	record  ProviderCallRecord
	started time.Time
}

// TimeCall begins timing a provider invocation and persists its initial
// row. The row is then patched in place by [CallScope.Finish] — this mirrors
// the teacher's scoped-timing convention (capture start, record on exit)
// generalized from an in-memory histogram to a durable, two-phase row.
func (l *ProviderCallLogger) TimeCall(ctx context.Context, record ProviderCallRecord) (*CallScope, error) {
	record.StartedAt = time.Now()
	if err := l.calls.RecordCall(ctx, record); err != nil {
		return nil, fmt.Errorf("observability: record provider call: %w", err)
	}
	return &CallScope{logger: l, record: record, started: record.StartedAt}, nil
}

// Finish patches the call's row with its outcome and logs completion.
// callErr, when non-nil, marks the call unsuccessful; its Error() string is
// recorded verbatim.
func (s *CallScope) Finish(ctx context.Context, patch ProviderCallPatch, callErr error) error {
	patch.Latency = time.Since(s.started)
	patch.Success = callErr == nil
	if callErr != nil {
		patch.Error = callErr.Error()
	}

	if err := s.logger.calls.UpdateCall(ctx, s.record.CallID, patch); err != nil {
		return fmt.Errorf("observability: update provider call: %w", err)
	}

	s.logger.log.LogAttrs(ctx, slog.LevelInfo, "provider call completed",
		slog.String("pipeline_run_id", s.record.PipelineRunID),
		slog.String("service", s.record.Service),
		slog.String("operation", s.record.Operation),
		slog.String("provider", s.record.Provider),
		slog.String("model", s.record.Model),
		slog.Duration("latency", patch.Latency),
		slog.Bool("success", patch.Success),
	)
	return nil
}
