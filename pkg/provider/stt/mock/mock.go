// Package mock provides a minimal stt.Provider test double.
package mock

import (
	"context"

	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

// Call records the arguments of one Transcribe invocation.
type Call struct {
	Audio    []byte
	Format   string
	Language string
	Keywords []stt.KeywordBoost
}

// Provider is a configurable stt.Provider test double.
type Provider struct {
	Result stt.STTResult
	Err    error

	Calls []Call
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider, recording the call and returning the
// configured Result/Err.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	p.Calls = append(p.Calls, Call{Audio: audio, Format: format, Language: language, Keywords: keywords})
	if p.Err != nil {
		return stt.STTResult{}, p.Err
	}
	return p.Result, nil
}
