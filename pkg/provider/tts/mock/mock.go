// Package mock provides a minimal tts.Provider test double.
package mock

import (
	"context"

	"github.com/hellosales/coachkernel/pkg/provider/tts"
)

// Call records the arguments of one Synthesize invocation.
type Call struct {
	Text   string
	Voice  string
	Format string
	Speed  float64
}

// Provider is a configurable tts.Provider test double.
type Provider struct {
	Result tts.TTSResult
	Err    error

	Calls []Call
}

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Synthesize implements tts.Provider, recording the call and returning the
// configured Result/Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string, format string, speed float64) (tts.TTSResult, error) {
	p.Calls = append(p.Calls, Call{Text: text, Voice: voice, Format: format, Speed: speed})
	if p.Err != nil {
		return tts.TTSResult{}, p.Err
	}
	return p.Result, nil
}
