// Package catalog fetches track recommendations from a catalog service
// authenticated with client credentials.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// Track is one recommended item.
type Track struct {
	Title      string        `json:"title" msgpack:"title" yaml:"title"`
	Artist     string        `json:"artist" msgpack:"artist" yaml:"artist"`
	Album      string        `json:"album" msgpack:"album" yaml:"album"`
	ExternalID string        `json:"external_id" msgpack:"external_id" yaml:"external_id"`
	URL        string        `json:"url,omitempty" msgpack:"url,omitempty" yaml:"url,omitempty"`
	PreviewURL string        `json:"preview_url,omitempty" msgpack:"preview_url,omitempty" yaml:"preview_url,omitempty"`
	Popularity int           `json:"popularity" msgpack:"popularity" yaml:"popularity"`
	Duration   time.Duration `json:"duration" msgpack:"duration" yaml:"duration"`
}

// DurationString renders Duration as m:ss.
func (t Track) DurationString() string {
	secs := int(t.Duration.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func clampPopularity(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Catalog returns up to limit tracks matching keywords.
type Catalog interface {
	Recommend(ctx context.Context, keywords []string, limit int) ([]Track, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context, keywords []string, limit int) ([]Track, error)

func (f CatalogFunc) Recommend(ctx context.Context, keywords []string, limit int) ([]Track, error) {
	return f(ctx, keywords, limit)
}
