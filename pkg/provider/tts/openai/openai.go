// Package openai provides a TTS provider backed by the OpenAI speech
// synthesis API.
package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hellosales/coachkernel/pkg/provider/tts"
)

const (
	defaultModel  = "tts-1"
	defaultVoice  = "alloy"
	defaultFormat = "mp3"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI speech synthesis API.
type Provider struct {
	client oai.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the default synthesis model ("tts-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// New constructs a new OpenAI TTS Provider.
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

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string, format string, speed float64) (tts.TTSResult, error) {
	if text == "" {
		return tts.TTSResult{}, fmt.Errorf("openai: text must not be empty")
	}

	v := voice
	if v == "" {
		v = defaultVoice
	}
	f := format
	if f == "" {
		f = defaultFormat
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(f),
	}
	if speed > 0 {
		params.Speed = param.NewOpt(speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.TTSResult{}, fmt.Errorf("openai: speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.TTSResult{}, fmt.Errorf("openai: read audio body: %w", err)
	}

	return tts.TTSResult{
		AudioData: audio,
		Format:    f,
	}, nil
}
