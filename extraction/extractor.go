// Package extraction turns free text into a small set of music keywords,
// either through a hosted chat-completion model or a fixed local lexicon.
package extraction

import (
	"context"
	"strings"
)

// MaxKeywords caps what any extractor returns.
const MaxKeywords = 10

// Extractor pulls keywords out of text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) ([]string, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// ParseKeywords splits a comma separated list, trims and lowercases each
// entry, drops empties and duplicates, and keeps at most limit entries.
func ParseKeywords(s string, limit int) []string {
	s = strings.Trim(strings.TrimSpace(s), "\"'`.")
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		kw := strings.ToLower(strings.TrimSpace(part))
		kw = strings.Trim(kw, "\"'`.-*• ")
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
