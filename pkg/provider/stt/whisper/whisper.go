// Package whisper provides local whisper.cpp-backed STT providers: an
// HTTP-based Provider that calls a running whisper-server's /inference
// endpoint, and a NativeProvider (native.go) that links whisper.cpp directly
// via CGO bindings. Both implement the kernel's unary stt.Provider contract:
// the client has already recorded a complete utterance, so there is no
// silence-detection buffering to do here — each call is one inference.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	result, err := p.Transcribe(ctx, audioBytes, "webm", "en", nil)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hellosales/coachkernel/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio whisper.cpp expects when the caller submits raw PCM rather than a
	// pre-encoded container (wav/webm/ogg).
	bitsPerSample = 16

	defaultLanguage = "en"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code sent to the
// whisper.cpp server when Transcribe is called with an empty language.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout overrides the default 30s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP
// server (whisper-server's /inference endpoint).
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider by POSTing the audio payload to the
// whisper.cpp server's /inference endpoint as multipart/form-data and
// parsing the verbose_json response. keywords are accepted for interface
// compatibility but are not forwarded: whisper.cpp does not expose a
// keyword-boosting API.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string, language string, keywords []stt.KeywordBoost) (stt.STTResult, error) {
	lang := language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	ext := format
	if ext == "" {
		ext = "wav"
	}
	fw, err := mw.CreateFormFile("file", "audio."+ext)
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: write audio data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return stt.STTResult{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return stt.STTResult{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.STTResult{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			End          float64 `json:"end"`
			NoSpeechProb float64 `json:"no_speech_prob"`
			AvgLogprob   float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return stt.STTResult{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	result := stt.STTResult{
		Text:     payload.Text,
		Language: payload.Language,
	}
	var maxNoSpeech, sumLogProb float64
	for _, seg := range payload.Segments {
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
	if len(payload.Segments) > 0 {
		result.AvgLogProb = sumLogProb / float64(len(payload.Segments))
	}

	return result, nil
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container, for callers that submit raw PCM rather than a
// pre-encoded container format.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
