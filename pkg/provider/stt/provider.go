// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Unlike the teacher's streaming, session-oriented STT contract, the kernel
// performs turn-based voice capture: a client records a complete utterance and
// the kernel submits it as one unary Transcribe call. Incremental partial
// transcripts are not part of this contract — see internal/kernel/stages for
// how a single unary result is turned into pipeline events.
package stt

import (
	"context"
)

// KeywordBoost biases recognition toward a specific vocabulary term, used for
// coaching-domain terms (skill names, technical vocabulary) that a general
// acoustic model would otherwise misrecognise.
type KeywordBoost struct {
	// Term is the word or phrase to boost.
	Term string

	// Intensity is a provider-normalised boost strength in [0.0, 1.0].
	Intensity float64
}

// Segment is one provider-reported span of the transcribed audio, carrying
// per-span confidence and silence signals used by the hallucination gate.
type Segment struct {
	EndSeconds    float64
	NoSpeechProb  float64
	AvgLogProb    float64
}

// STTResult is the outcome of a single Transcribe call.
type STTResult struct {
	// Text is the recognised transcript. Empty when the provider judged the
	// audio to contain no speech.
	Text string

	// Language is the BCP-47 language tag the provider detected or was told to
	// use.
	Language string

	// DurationMs is the audio duration in milliseconds.
	DurationMs int

	// NoSpeechProb is the provider's top-level (or segment-aggregated)
	// probability that the audio contained no speech, used by the
	// hallucination gate.
	NoSpeechProb float64

	// AvgLogProb is the average token log-probability across the result,
	// used by the hallucination gate's short+low-confidence check.
	AvgLogProb float64

	// Segments carries the provider's per-span breakdown, when available.
	Segments []Segment
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Transcribe submits a complete utterance for recognition and blocks
	// until a result is available or ctx is cancelled.
	//
	// audio is the raw encoded audio payload; format names its container/codec
	// (e.g. "webm", "wav", "ogg"). language is a BCP-47 tag, or empty to let
	// the provider auto-detect.
	Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []KeywordBoost) (STTResult, error)
}
