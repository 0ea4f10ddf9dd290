package openai_test

import (
	"testing"

	"github.com/hellosales/coachkernel/pkg/provider/tts"
	"github.com/hellosales/coachkernel/pkg/provider/tts/openai"
)

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	_, err := openai.New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestNew_ValidAPIKey_ReturnsProvider(t *testing.T) {
	p, err := openai.New("sk-test", openai.WithModel("tts-1-hd"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

func TestProvider_ImplementsTTSProvider(t *testing.T) {
	var _ tts.Provider = (*openai.Provider)(nil)
}
