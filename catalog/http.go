package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-recommend/api"
	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
)

const (
	DefaultAPIURL = "https://api.spotify.com/v1/recommendations"
	DefaultMarket = "US"
	DefaultLimit  = 5
	maxLimit      = 100
)

type HTTPConfig struct {
	APIURL string
	Market string
}

// HTTPCatalog calls the catalog recommendations endpoint.
type HTTPCatalog struct {
	client *api.Client
	tokens *TokenSource
	config HTTPConfig
	logger logger.Logger
}

var _ Catalog = (*HTTPCatalog)(nil)

func NewHTTPCatalog(client *api.Client, tokens *TokenSource, log logger.Logger, config HTTPConfig) *HTTPCatalog {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Market == "" {
		config.Market = DefaultMarket
	}
	return &HTTPCatalog{client: client, tokens: tokens, config: config, logger: log.WithPrefix("[catalog]")}
}

type apiTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
	DurationMS int64  `json:"duration_ms"`
	PreviewURL string `json:"preview_url"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	ExternalURLs map[string]string `json:"external_urls"`
}

type recommendationsResponse struct {
	Tracks []apiTrack `json:"tracks"`
}

func (t apiTrack) toTrack() Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return Track{
		Title:      t.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      t.Album.Name,
		ExternalID: t.ID,
		URL:        t.ExternalURLs["spotify"],
		PreviewURL: t.PreviewURL,
		Popularity: clampPopularity(t.Popularity),
		Duration:   time.Duration(t.DurationMS) * time.Millisecond,
	}
}

func (c *HTTPCatalog) query(keywords []string, limit int) url.Values {
	q := AudioTargets(keywords)
	q.Set("seed_genres", strings.Join(SeedGenres(keywords), ","))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("market", c.config.Market)
	return q
}

// Recommend fetches up to limit tracks. A 401 drops the cached token and
// retries once with a fresh one.
func (c *HTTPCatalog) Recommend(ctx context.Context, keywords []string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := c.query(keywords, limit)

	var resp recommendationsResponse
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "catalog token")
		}
		_, err = c.client.Do(ctx, api.Request{
			Method:      http.MethodGet,
			URL:         c.config.APIURL,
			Query:       q,
			BearerToken: token,
		}, &resp)
		if err == nil {
			break
		}
		if api.StatusOf(err) == http.StatusUnauthorized && attempt == 0 {
			c.logger.Info("catalog rejected token, refreshing")
			c.tokens.Invalidate(ctx)
			continue
		}
		return nil, errors.Wrap(err, "catalog recommendations")
	}

	tracks := make([]Track, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		tracks = append(tracks, t.toTrack())
		if len(tracks) == limit {
			break
		}
	}
	c.logger.Debug("catalog returned %d tracks for seeds %s", len(tracks), q.Get("seed_genres"))
	return tracks, nil
}
