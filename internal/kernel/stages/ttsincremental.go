package stages

import (
	"regexp"
	"strings"

	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/stage"
	"github.com/hellosales/coachkernel/pkg/provider/tts"
)

// earlyTTSCharThreshold bounds time-to-first-audio: a buffer that reaches
// this length without a sentence boundary is flushed at the nearest clause
// boundary instead, per spec.md §4.8 step 2.
const earlyTTSCharThreshold = 80

// spokenPunctuationPhrases strips literal punctuation-name artifacts that
// occasionally leak into LLM output (the model "reads aloud" a symbol
// instead of using it) before the text reaches the TTS adapter.
var spokenPunctuationPhrases = regexp.MustCompile(`(?i)\b(quote mark|asterisk|percent sign|pound sign|hash(tag)?)\b`)

var markdownMarkers = strings.NewReplacer("`", "", "*", "", "“", "", "”", "", "\"", "")

var whitespaceRun = regexp.MustCompile(`\s+`)

// TTSIncrementalStage consumes ctx.Ports.PartialText as the LLM stage
// writes into it and synthesizes audio per completed sentence/clause,
// per spec.md §4.8. It deliberately does not depend on llm_stream: were it
// to, the graph would not invoke Run until the LLM stage's own Run has
// returned, by which point the stream — and the channel — are already
// closed, defeating the entire point of the bounded hand-off. Instead it
// runs concurrently, started alongside llm_stream by sharing an upstream
// dependency such as context_build.
type TTSIncrementalStage struct {
	Voice  string
	Format string
	Speed  float64

	Provider     tts.Provider
	ProviderName string
	Model        string

	Breakers *breaker.Registry
	Calls    *observability.ProviderCallLogger

	// Filler, when non-empty, is synthesized immediately as isFiller=true
	// before any LLM text arrives — spec.md §4.8 step 5's accurate_filler
	// behavior. Leave empty for fast/accurate behavior.
	Filler string
}

func (s *TTSIncrementalStage) Name() string          { return "tts_incremental" }
func (s *TTSIncrementalStage) Kind() stage.Kind      { return stage.KindWork }
func (s *TTSIncrementalStage) Dependencies() []string { return []string{"context_build"} }
func (s *TTSIncrementalStage) Optional() bool         { return false }

func (s *TTSIncrementalStage) Run(ctx stage.Context) (stage.Output, error) {
	if ctx.Canceled() {
		return stage.Output{Status: stage.StatusCanceled}, nil
	}
	if ctx.Ports.PartialText == nil {
		return stage.Output{Status: stage.StatusSkipped, Data: map[string]any{"reason": stage.ReasonMissingInput}}, nil
	}

	firstChunkSeen := false
	chunkCount := 0

	if s.Filler != "" {
		s.synthesizeAndSend(ctx, s.Filler, true, false, &firstChunkSeen)
		chunkCount++
	}

	var buf strings.Builder
	for {
		select {
		case text, ok := <-ctx.Ports.PartialText:
			if !ok {
				if buf.Len() > 0 {
					s.synthesizeAndSend(ctx, buf.String(), false, true, &firstChunkSeen)
					chunkCount++
				}
				return stage.Output{Status: stage.StatusOK, Data: map[string]any{"chunk_count": chunkCount}}, nil
			}
			buf.WriteString(text)
			s.drainCompleteChunks(ctx, &buf, &firstChunkSeen, &chunkCount)
		case <-ctx.Done():
			return stage.Output{Status: stage.StatusCanceled}, nil
		}
	}
}

// drainCompleteChunks flushes every complete sentence in buf, then — if
// buf alone has grown past earlyTTSCharThreshold without a sentence
// boundary — flushes it at the nearest clause boundary or whitespace.
func (s *TTSIncrementalStage) drainCompleteChunks(ctx stage.Context, buf *strings.Builder, firstChunkSeen *bool, chunkCount *int) {
	for {
		text := buf.String()
		idx := firstSentenceBoundary(text)
		if idx < 0 {
			break
		}
		sentence := text[:idx+1]
		rest := strings.TrimLeft(text[idx+1:], " \t\n\r")
		buf.Reset()
		buf.WriteString(rest)
		s.synthesizeAndSend(ctx, sentence, false, false, firstChunkSeen)
		*chunkCount++
	}

	if buf.Len() >= earlyTTSCharThreshold {
		text := buf.String()
		cut := lastClauseBoundary(text)
		if cut < 0 {
			cut = strings.LastIndexAny(text, " \t\n\r")
		}
		if cut < 0 {
			return // no boundary at all yet; keep buffering
		}
		chunk := text[:cut+1]
		rest := strings.TrimLeft(text[cut+1:], " \t\n\r")
		buf.Reset()
		buf.WriteString(rest)
		s.synthesizeAndSend(ctx, chunk, false, false, firstChunkSeen)
		*chunkCount++
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 if none exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// lastClauseBoundary returns the index of the last ',', ':', or ';' in s,
// or -1 if none exists.
func lastClauseBoundary(s string) int {
	return strings.LastIndexAny(s, ",:;")
}

// sanitizeForTTS strips markdown markers, quotes, and spoken-punctuation
// phrases, then normalizes whitespace, per spec.md §4.8 step 3.
func sanitizeForTTS(text string) string {
	text = markdownMarkers.Replace(text)
	text = spokenPunctuationPhrases.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (s *TTSIncrementalStage) synthesizeAndSend(ctx stage.Context, text string, isFiller, isFinal bool, firstChunkSeen *bool) {
	clean := sanitizeForTTS(text)
	if clean == "" {
		return
	}

	key := breaker.Key{Operation: "tts", Provider: s.ProviderName, Model: s.Model}

	var scope *observability.CallScope
	if s.Calls != nil {
		if sc, err := s.Calls.TimeCall(ctx.Context, observability.ProviderCallRecord{
			Service: "tts", Operation: "tts", Provider: s.ProviderName, Model: s.Model,
			PipelineRunID: ctx.Snapshot.PipelineRunID, SessionID: ctx.Snapshot.SessionID,
			RequestID: ctx.Snapshot.RequestID,
		}); err == nil {
			scope = sc
		}
	}

	var result tts.TTSResult
	callErr := s.Breakers.Execute(key, func() error {
		var err error
		result, err = s.Provider.Synthesize(ctx.Context, clean, s.Voice, s.Format, s.Speed)
		return err
	})

	if scope != nil {
		_ = scope.Finish(ctx.Context, observability.ProviderCallPatch{
			Output: map[string]any{"duration_ms": result.DurationMs},
		}, callErr)
	}

	if callErr != nil {
		if ctx.Ports.Emit != nil {
			ctx.Ports.Emit("tts.chunk_failed", map[string]any{"provider": s.ProviderName, "error": callErr.Error()})
		}
		return
	}

	if !*firstChunkSeen {
		*firstChunkSeen = true
		if ctx.Ports.Emit != nil {
			ctx.Ports.Emit("llm.first_chunk", map[string]any{"purpose": "tts"})
		}
	}

	if ctx.Ports.SendAudioChunk != nil {
		ctx.Ports.SendAudioChunk(result.AudioData, result.Format, result.DurationMs, isFinal)
	}
	if ctx.Ports.Emit != nil && isFiller {
		ctx.Ports.Emit("tts.chunk_synthesized", map[string]any{"is_filler": true})
	}
}
