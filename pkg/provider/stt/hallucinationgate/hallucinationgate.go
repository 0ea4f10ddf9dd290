// Package hallucinationgate decorates an stt.Provider with the post-processing
// pass every STT backend in this system must apply to near-silent or noisy
// audio: whisper-family models routinely hallucinate stock phrases
// ("thank you", "subtitles by ...") on silence, and this gate filters them out
// before a transcript ever reaches context assembly.
package hallucinationgate

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

// FilterReason identifies why a transcript was dropped, used as the
// stt.transcript_filtered event's reason code.
type FilterReason string

const (
	ReasonNoSpeechProbGate FilterReason = "no_speech_prob_gate"
	ReasonPhraseFilter     FilterReason = "phrase_filter"
	ReasonLowConfidence    FilterReason = "low_confidence"
)

// defaultNoSpeechThreshold is the effective-no-speech-probability cutoff
// above which a non-greeting transcript is dropped outright.
const defaultNoSpeechThreshold = 0.6

// silenceLikelyThreshold gates the conditional phrase list: above this
// no-speech probability (or with no segments at all), the longer phrase
// list applies.
const silenceLikelyThreshold = 0.3

// shortDurationMs is the audio-duration cutoff under which the conditional
// phrase list also applies, regardless of no-speech probability.
const shortDurationMs = 3000

// lowConfidenceMaxChars bounds the "very short transcript" check.
const lowConfidenceMaxChars = 3

// lowConfidenceLogProbThreshold is the average log-probability below which a
// very short transcript is considered low-confidence noise.
const lowConfidenceLogProbThreshold = -1.0

// unconditionalPhrases are dropped whenever matched as a whole phrase,
// regardless of silence likelihood or duration.
var unconditionalPhrases = []string{
	"thanks for watching",
	"subtitles by",
	"transcript",
}

// conditionalPhrases are dropped only when silence is likely or the audio is
// short.
var conditionalPhrases = []string{
	"thank you",
	"thanks for watching",
	"subtitles by",
}

// greetingPrefixes are the allow-listed tokens that exempt a transcript from
// the no-speech-probability gate even when the probability is high.
var greetingPrefixes = []string{"hello", "hi", "hey"}

// EventSink receives structured stt.transcript_filtered events when the gate
// drops a transcript.
type EventSink interface {
	Emit(ctx context.Context, eventType string, data map[string]any)
}

// Config tunes the gate's thresholds. The zero value uses the spec defaults.
type Config struct {
	NoSpeechThreshold float64
	Sink              EventSink
}

// Gate wraps an stt.Provider, filtering likely hallucinations out of its
// results before they reach the caller.
type Gate struct {
	next stt.Provider
	cfg  Config
}

// Compile-time assertion that Gate implements stt.Provider.
var _ stt.Provider = (*Gate)(nil)

// Wrap returns a Gate decorating next with the hallucination-filtering
// post-processing contract.
func Wrap(next stt.Provider, cfg Config) *Gate {
	if cfg.NoSpeechThreshold <= 0 {
		cfg.NoSpeechThreshold = defaultNoSpeechThreshold
	}
	return &Gate{next: next, cfg: cfg}
}

// Transcribe delegates to the wrapped provider, then applies the four-step
// hallucination-filtering contract to the result.
func (g *Gate) Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	result, err := g.next.Transcribe(ctx, audio, format, language, keywords)
	if err != nil {
		return stt.STTResult{}, err
	}
	if result.Text == "" {
		return result, nil
	}

	effectiveNoSpeechProb := g.effectiveNoSpeechProb(result)

	// Step 2: high no-speech probability, non-greeting transcript.
	if effectiveNoSpeechProb > g.cfg.NoSpeechThreshold && !startsWithGreeting(result.Text) {
		g.drop(ctx, ReasonNoSpeechProbGate, result)
		return stt.STTResult{Language: result.Language, DurationMs: result.DurationMs}, nil
	}

	// Step 3: phrase filter.
	silenceLikely := effectiveNoSpeechProb > silenceLikelyThreshold || len(result.Segments) == 0
	shortAudio := result.DurationMs > 0 && result.DurationMs <= shortDurationMs
	normalized := strings.ToLower(strings.TrimSpace(result.Text))

	if matchesWholePhrase(normalized, unconditionalPhrases) {
		g.drop(ctx, ReasonPhraseFilter, result)
		return stt.STTResult{Language: result.Language, DurationMs: result.DurationMs}, nil
	}
	if (silenceLikely || shortAudio) && matchesWholePhrase(normalized, conditionalPhrases) {
		g.drop(ctx, ReasonPhraseFilter, result)
		return stt.STTResult{Language: result.Language, DurationMs: result.DurationMs}, nil
	}

	// Step 4: very short, low-confidence transcript.
	if len(normalized) <= lowConfidenceMaxChars && result.AvgLogProb < lowConfidenceLogProbThreshold {
		g.drop(ctx, ReasonLowConfidence, result)
		return stt.STTResult{Language: result.Language, DurationMs: result.DurationMs}, nil
	}

	return result, nil
}

// effectiveNoSpeechProb implements step 1: the maximum of the top-level and
// any per-segment no-speech probability.
func (g *Gate) effectiveNoSpeechProb(result stt.STTResult) float64 {
	effective := result.NoSpeechProb
	for _, seg := range result.Segments {
		effective = math.Max(effective, seg.NoSpeechProb)
	}
	return effective
}

func startsWithGreeting(text string) bool {
	first := firstToken(text)
	for _, g := range greetingPrefixes {
		if first == g {
			return true
		}
	}
	return false
}

// firstToken extracts the first whitespace-delimited, lower-cased, punctuation-
// stripped token of text.
func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], ".,!?;:"))
}

func matchesWholePhrase(normalized string, phrases []string) bool {
	for _, phrase := range phrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

func (g *Gate) drop(ctx context.Context, reason FilterReason, result stt.STTResult) {
	slog.Info("stt transcript filtered", "reason", reason, "text", result.Text)
	if g.cfg.Sink != nil {
		g.cfg.Sink.Emit(ctx, "stt.transcript_filtered", map[string]any{
			"reason": string(reason),
		})
	}
}
