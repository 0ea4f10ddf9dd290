// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hellosales/coachkernel/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const defaultNativeChannels = 1

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all Transcribe calls; each call opens its own
// whisper.cpp context since a context is not safe for concurrent use.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	channels int
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default BCP-47 language code used when
// Transcribe is called with an empty language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeChannels sets the channel count of incoming raw PCM audio, used
// to down-mix to mono before inference. Defaults to 1 (mono).
func WithNativeChannels(channels int) NativeOption {
	return func(p *NativeProvider) { p.channels = channels }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent Transcribe calls. The caller must call Close when the provider
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		channels: defaultNativeChannels,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. audio must be raw 16-bit signed
// little-endian PCM, or a WAV container wrapping such PCM (format == "wav"),
// in which case the 44-byte RIFF header is stripped. keywords are accepted
// for interface compatibility but are not forwarded: whisper.cpp does not
// expose a keyword-boosting API.
func (p *NativeProvider) Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	if err := ctx.Err(); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	pcm := audio
	if format == "wav" && len(audio) > 44 {
		pcm = audio[44:]
	}

	lang := language
	if lang == "" {
		lang = p.language
	}

	samples := pcmToFloat32Mono(pcm, p.channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts      []string
		maxEnd     float64
		maxNoSpeech float64
		sumLogProb float64
		segCount   int
		segments   []stt.Segment
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.STTResult{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}

		end := segment.End.Seconds()
		if end > maxEnd {
			maxEnd = end
		}
		segments = append(segments, stt.Segment{EndSeconds: end})
		segCount++
	}

	result := stt.STTResult{
		Text:         strings.Join(parts, " "),
		Language:     lang,
		DurationMs:   int(maxEnd * 1000),
		NoSpeechProb: maxNoSpeech,
		Segments:     segments,
	}
	if segCount > 0 {
		result.AvgLogProb = sumLogProb / float64(segCount)
	}
	return result, nil
}
