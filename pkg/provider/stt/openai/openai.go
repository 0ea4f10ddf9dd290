// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper-compatible), an alternative to the
// whisper.cpp-backed adapters. The kernel uses the one configured STT
// provider; this adapter is not a fallback for another.
package openai

import (
	"bytes"
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the default transcription model ("whisper-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	p := &Provider{client: client, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider by submitting the audio payload to the
// OpenAI audio transcriptions endpoint. keywords are folded into the
// prompt field as a hint string, since the endpoint has no dedicated
// keyword-boosting parameter.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	ext := format
	if ext == "" {
		ext = "wav"
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), "audio."+ext, ""),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}
	if prompt := keywordPrompt(keywords); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("openai: transcription: %w", err)
	}

	result := stt.STTResult{
		Text:     resp.Text,
		Language: resp.Language,
	}

	var maxNoSpeech, sumLogProb float64
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, stt.Segment{
			EndSeconds:   seg.End,
			NoSpeechProb: seg.NoSpeechProb,
			AvgLogProb:   seg.AvgLogprob,
		})
		if seg.NoSpeechProb > maxNoSpeech {
			maxNoSpeech = seg.NoSpeechProb
		}
		sumLogProb += seg.AvgLogprob
		result.DurationMs = int(seg.End * 1000)
	}
	result.NoSpeechProb = maxNoSpeech
	if len(resp.Segments) > 0 {
		result.AvgLogProb = sumLogProb / float64(len(resp.Segments))
	}

	return result, nil
}

// keywordPrompt renders keyword boosts as a comma-separated list of their
// terms, in input order, which Transcribe sends as the transcription
// prompt. Intensity is not used.
func keywordPrompt(keywords []stt.KeywordBoost) string {
	if len(keywords) == 0 {
		return ""
	}
	var buf bytes.Buffer
	for i, kw := range keywords {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(kw.Term)
	}
	return buf.String()
}
