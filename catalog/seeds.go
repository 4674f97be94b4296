package catalog

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// DefaultSeedGenre seeds a request whose keywords map to no genre.
const DefaultSeedGenre = "pop"

const maxSeedGenres = 5

type genreMapping struct {
	word  string
	genre string
}

// Ordered so matching is deterministic; the first hit per keyword wins.
var genreMappings = []genreMapping{
	{"rock", "rock"}, {"pop", "pop"}, {"jazz", "jazz"}, {"classical", "classical"},
	{"electronic", "electronic"}, {"hip-hop", "hip-hop"}, {"rap", "hip-hop"},
	{"country", "country"}, {"blues", "blues"}, {"reggae", "reggae"},
	{"folk", "folk"}, {"metal", "metal"}, {"punk", "punk"}, {"indie", "indie"},
	{"alternative", "alternative"}, {"r&b", "r-n-b"}, {"soul", "soul"},
	{"funk", "funk"}, {"disco", "disco"}, {"house", "house"}, {"techno", "techno"},
	{"trance", "trance"}, {"ambient", "ambient"}, {"lofi", "lofi"},
	{"chill", "chill"}, {"energetic", "dance"}, {"party", "dance"},
	{"romantic", "romance"}, {"sad", "sad"}, {"happy", "happy"},
	{"calm", "calm"}, {"relaxing", "relaxing"},
}

// SeedGenres maps keywords onto catalog genres, at most five, falling back
// to DefaultSeedGenre.
func SeedGenres(keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, m := range genreMappings {
			if strings.Contains(kw, m.word) {
				if !slices.Contains(out, m.genre) {
					out = append(out, m.genre)
				}
				break
			}
		}
		if len(out) == maxSeedGenres {
			break
		}
	}
	if len(out) == 0 {
		out = []string{DefaultSeedGenre}
	}
	return out
}

func containsAny(keywords []string, words ...string) bool {
	for _, kw := range keywords {
		if slices.Contains(words, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// AudioTargets derives energy and valence bounds from mood keywords.
func AudioTargets(keywords []string) url.Values {
	v := url.Values{}
	set := func(k string, f float64) { v.Set(k, strconv.FormatFloat(f, 'f', 1, 64)) }
	switch {
	case containsAny(keywords, "energetic", "upbeat", "fast", "dance", "party", "workout"):
		set("target_energy", 0.8)
		set("min_energy", 0.6)
	case containsAny(keywords, "calm", "relaxing", "chill", "sleep", "study"):
		set("target_energy", 0.3)
		set("max_energy", 0.5)
	}
	switch {
	case containsAny(keywords, "happy", "joyful", "cheerful", "upbeat"):
		set("target_valence", 0.8)
		set("min_valence", 0.6)
	case containsAny(keywords, "sad", "melancholy", "depressing"):
		set("target_valence", 0.3)
		set("max_valence", 0.5)
	}
	return v
}
