// Package correction implements the phonetic-correction enricher: before
// context assembly, transcribed user text is fuzzy-matched against the
// configured skill/vocabulary terms using Double Metaphone phonetic coding
// combined with Jaro-Winkler string similarity, correcting STT
// misrecognitions of domain terms before they reach the LLM.
//
// This is a direct generalization of the teacher's
// internal/transcript/phonetic package, which performs the identical
// correction for NPC/place names instead of vocabulary terms.
package correction

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Correction records one word replaced in a transcript.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Matcher corrects STT-misrecognized vocabulary terms in transcribed text.
// Read-only after construction, safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds, overridden by opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Correct scans text word-by-word and replaces any word whose best
// phonetic or fuzzy match against vocabulary clears the configured
// threshold. Words that already match a vocabulary term exactly
// (case-insensitive) are left untouched. Returns the corrected text and the
// list of replacements made, in order.
func (m *Matcher) Correct(text string, vocabulary []string) (string, []Correction) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	exact := make(map[string]struct{}, len(vocabulary))
	for _, v := range vocabulary {
		exact[strings.ToLower(v)] = struct{}{}
	}

	words := strings.Fields(text)
	var corrections []Correction
	for i, word := range words {
		trimmed := strings.Trim(word, ".,!?;:")
		if trimmed == "" {
			continue
		}
		if _, ok := exact[strings.ToLower(trimmed)]; ok {
			continue
		}

		corrected, confidence, matched := m.match(trimmed, vocabulary)
		if !matched || strings.EqualFold(corrected, trimmed) {
			continue
		}

		words[i] = strings.Replace(word, trimmed, corrected, 1)
		corrections = append(corrections, Correction{
			Original:   trimmed,
			Corrected:  corrected,
			Confidence: confidence,
		})
	}

	return strings.Join(words, " "), corrections
}

// match finds the vocabulary entry most phonetically similar to word.
func (m *Matcher) match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	wordLower := strings.ToLower(word)
	wordCode1, wordCode2 := matchr.DoubleMetaphone(wordLower)

	var best string
	var bestScore float64
	var bestPhonetic bool

	for _, entry := range vocabulary {
		entryLower := strings.ToLower(strings.TrimSpace(entry))
		if entryLower == "" {
			continue
		}
		entryCode1, entryCode2 := matchr.DoubleMetaphone(entryLower)

		phoneticMatch := codesOverlap(wordCode1, wordCode2, entryCode1, entryCode2)
		score := matchr.JaroWinkler(wordLower, entryLower, false)

		if phoneticMatch {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = entry, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = entry, score
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

func codesOverlap(aPrimary, aSecondary, bPrimary, bSecondary string) bool {
	for _, a := range [2]string{aPrimary, aSecondary} {
		if a == "" {
			continue
		}
		for _, b := range [2]string{bPrimary, bSecondary} {
			if a == b && b != "" {
				return true
			}
		}
	}
	return false
}
