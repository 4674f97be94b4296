package extraction

import (
	"context"
	"strings"
)

// MaxFallbackKeywords caps the lexicon's output.
const MaxFallbackKeywords = 5

var (
	moodWords     = []string{"happy", "sad", "energetic", "calm", "romantic", "melancholy"}
	genreWords    = []string{"rock", "pop", "jazz", "classical", "electronic", "hip-hop", "country"}
	activityWords = []string{"workout", "study", "party", "sleep", "driving", "running"}
)

// Lexicon is the local fallback: it matches a fixed mood, genre and
// activity vocabulary against the lowercased text. It never fails and makes
// no network calls.
type Lexicon struct {
	words []string
	limit int
}

var _ Extractor = (*Lexicon)(nil)

// NewLexicon returns the default lexicon.
func NewLexicon() *Lexicon {
	words := make([]string, 0, len(moodWords)+len(genreWords)+len(activityWords))
	words = append(words, moodWords...)
	words = append(words, genreWords...)
	words = append(words, activityWords...)
	return &Lexicon{words: words, limit: MaxFallbackKeywords}
}

// Extract returns the lexicon words that appear in text, in lexicon order.
// The result may be empty.
func (l *Lexicon) Extract(_ context.Context, text string) ([]string, error) {
	lower := strings.ToLower(text)
	var out []string
	for _, w := range l.words {
		if strings.Contains(lower, w) {
			out = append(out, w)
			if len(out) == l.limit {
				break
			}
		}
	}
	return out, nil
}
