package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentuity/go-recommend/api"
	"github.com/agentuity/go-recommend/cache"
	"github.com/agentuity/go-recommend/clock"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/resilience"
	cstr "github.com/agentuity/go-recommend/string"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAuthURL         = "https://accounts.spotify.com/api/token"
	DefaultRefreshFraction = 0.1
)

// Token is a cached bearer token.
type Token struct {
	AccessToken string    `msgpack:"access_token"`
	IssuedAt    time.Time `msgpack:"issued_at"`
	ExpiresAt   time.Time `msgpack:"expires_at"`
}

// needsRefresh reports whether less than fraction of the lifetime is left.
func (t Token) needsRefresh(now time.Time, fraction float64) bool {
	lifetime := t.ExpiresAt.Sub(t.IssuedAt)
	return t.ExpiresAt.Sub(now) < time.Duration(float64(lifetime)*fraction)
}

type TokenConfig struct {
	AuthURL      string
	ClientID     string
	ClientSecret cstr.MaskedString
	// RefreshFraction triggers a refresh when less than this share of the
	// token's lifetime remains.
	RefreshFraction float64
}

// TokenSource hands out catalog bearer tokens. Tokens live in the token
// cache namespace keyed by a hash of the client id, with a TTL equal to the
// token's stated lifetime. Concurrent refreshes for the same credential
// share one authenticate call.
type TokenSource struct {
	client *api.Client
	cache  cache.Cache
	clock  clock.Clock
	config TokenConfig
	key    string
	group  singleflight.Group
	logger logger.Logger
}

func NewTokenSource(client *api.Client, c cache.Cache, clk clock.Clock, log logger.Logger, config TokenConfig) *TokenSource {
	if config.AuthURL == "" {
		config.AuthURL = DefaultAuthURL
	}
	if config.RefreshFraction <= 0 || config.RefreshFraction >= 1 {
		config.RefreshFraction = DefaultRefreshFraction
	}
	if clk == nil {
		clk = clock.Real
	}
	return &TokenSource{
		client: client,
		cache:  c,
		clock:  clk,
		config: config,
		key:    "catalog-token:" + strconv.FormatUint(xxhash.Sum64String(config.ClientID), 16),
		logger: log.WithPrefix("[token]"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a usable bearer token, authenticating when none is cached or
// the cached one is inside its refresh margin.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	found, tok, err := cache.GetContext[Token](ctx, s.cache, s.key)
	if err != nil {
		s.logger.Warn("ignoring unreadable cached token: %s", err)
		found = false
	}
	now := s.clock.Now()
	if found && !tok.needsRefresh(now, s.config.RefreshFraction) {
		return tok.AccessToken, nil
	}
	fresh, err := s.refresh(ctx)
	if err != nil {
		if found && now.Before(tok.ExpiresAt) {
			s.logger.Warn("token refresh failed, using current token until it expires: %s", err)
			return tok.AccessToken, nil
		}
		return "", err
	}
	return fresh.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the catalog rejects it.
func (s *TokenSource) Invalidate(ctx context.Context) {
	s.cache.ExpireContext(ctx, s.key)
}

func (s *TokenSource) refresh(ctx context.Context) (Token, error) {
	v, err, shared := s.group.Do(s.key, func() (any, error) {
		return s.authenticate(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	if shared {
		s.logger.Trace("shared an in-flight token refresh")
	}
	return v.(Token), nil
}

func (s *TokenSource) authenticate(ctx context.Context) (Token, error) {
	var resp tokenResponse
	_, err := s.client.Do(ctx, api.Request{
		Method: http.MethodPost,
		URL:    s.config.AuthURL,
		Form:   url.Values{"grant_type": {"client_credentials"}},
		Basic:  &api.BasicAuth{Username: s.config.ClientID, Password: s.config.ClientSecret.Text()},
	}, &resp)
	if err != nil {
		return Token{}, errors.Wrap(err, "authenticate")
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return Token{}, resilience.Permanent(errors.New("authenticate: response missing access_token or expires_in"))
	}
	now := s.clock.Now()
	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	tok := Token{AccessToken: resp.AccessToken, IssuedAt: now, ExpiresAt: now.Add(lifetime)}
	if err := cache.SetEncoded(ctx, s.cache, s.key, tok, lifetime); err != nil {
		s.logger.Warn("failed to cache token: %s", err)
	}
	s.logger.Debug("obtained catalog token valid for %s", lifetime)
	return tok, nil
}
