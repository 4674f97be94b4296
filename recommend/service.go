package recommend

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-recommend/cache"
	"github.com/agentuity/go-recommend/catalog"
	"github.com/agentuity/go-recommend/extraction"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/ratelimit"
	"github.com/agentuity/go-recommend/resilience"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

const (
	stepExtraction = "extraction"
	stepCatalog    = "catalog"
)

// Outcome is the terminal state of a request.
type Outcome int

const (
	OutcomeRateLimited Outcome = iota
	OutcomeCacheHit
	OutcomeUpstreamSuccess
	OutcomeDegraded
	OutcomeUpstreamFailure
	OutcomeInvalid
	// OutcomeCancelled is counted when the caller leaves before the
	// upstream work finishes. No Result is returned for it.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeCacheHit:
		return "cache_hit"
	case OutcomeUpstreamSuccess:
		return "upstream_success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeUpstreamFailure:
		return "upstream_failure"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Source says where a step's value came from.
type Source int

const (
	SourceNone Source = iota
	SourceCache
	SourceUpstream
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceUpstream:
		return "upstream"
	case SourceFallback:
		return "fallback"
	default:
		return "none"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a step of the request lifecycle.
type State string

const (
	StateReceived               State = "received"
	StateRateChecked            State = "rate_checked"
	StateExtractionResolved     State = "extraction_resolved"
	StateRecommendationResolved State = "recommendation_resolved"
	StateCompleted              State = "completed"
)

// Step records one lifecycle transition.
type Step struct {
	State  State         `json:"state" yaml:"state"`
	Detail string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	After  time.Duration `json:"after" yaml:"after"`
}

// Result is what Recommend hands back for every request, including the
// rejected ones.
type Result struct {
	RequestID        string          `json:"request_id" yaml:"request_id"`
	UserID           string          `json:"user_id" yaml:"user_id"`
	Outcome          Outcome         `json:"outcome" yaml:"outcome"`
	Keywords         []string        `json:"keywords" yaml:"keywords"`
	Tracks           []catalog.Track `json:"tracks" yaml:"tracks"`
	Degraded         bool            `json:"degraded" yaml:"degraded"`
	ExtractionSource Source          `json:"extraction_source" yaml:"extraction_source"`
	CatalogSource    Source          `json:"catalog_source" yaml:"catalog_source"`
	RetryAfter       time.Duration   `json:"retry_after,omitempty" yaml:"retry_after,omitempty"`
	Latency          time.Duration   `json:"latency" yaml:"latency"`
	Steps            []Step          `json:"steps" yaml:"steps"`

	started time.Time
}

func (r *Result) step(s State, detail string) {
	r.Steps = append(r.Steps, Step{State: s, Detail: detail, After: time.Since(r.started)})
}

// Config tunes the orchestrator.
type Config struct {
	// Limit is the number of tracks asked of the catalog.
	Limit int `mapstructure:"limit" yaml:"limit"`
	// RequestTimeout bounds the upstream work of one request. Zero leaves
	// only the per-call timeouts and retry budgets in force.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// Coalesce shares one upstream call between concurrent requests that
	// miss on the same cache key.
	Coalesce bool `mapstructure:"coalesce" yaml:"coalesce"`
}

// Service is the recommendation pipeline: admission, keyword extraction,
// catalog lookup, each step read through its cache namespace.
type Service struct {
	config    Config
	limiter   *ratelimit.Limiter
	caches    *cache.Namespaces
	extractor extraction.Extractor
	fallback  extraction.Extractor
	catalog   catalog.Catalog
	group     singleflight.Group
	metrics   *Metrics
	tracer    trace.Tracer
	logger    logger.Logger
}

// New wires a Service. The fallback extractor is used whenever the primary
// one fails or finds nothing; nil selects the default lexicon.
func New(config Config, limiter *ratelimit.Limiter, caches *cache.Namespaces, extractor, fallback extraction.Extractor, cat catalog.Catalog, log logger.Logger) *Service {
	if config.Limit <= 0 {
		config.Limit = catalog.DefaultLimit
	}
	if fallback == nil {
		fallback = extraction.NewLexicon()
	}
	return &Service{
		config:    config,
		limiter:   limiter,
		caches:    caches,
		extractor: extractor,
		fallback:  fallback,
		catalog:   cat,
		metrics:   NewMetrics(),
		tracer:    otel.Tracer("github.com/agentuity/go-recommend/recommend"),
		logger:    log.WithPrefix("[recommend]"),
	}
}

var folder = cases.Fold()

// Normalize case-folds text and collapses whitespace runs.
func Normalize(text string) string {
	return strings.Join(strings.Fields(folder.String(text)), " ")
}

func hashKey(prefix, s string) string {
	return prefix + strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// ExtractionKey is the cache key for the keywords of normalized text.
func ExtractionKey(normalized string) string {
	return hashKey("ext:", normalized)
}

// CanonicalKeywords sorts and deduplicates keywords so that the same set in
// any order maps to one recommendation entry.
func CanonicalKeywords(keywords []string) []string {
	out := slices.Clone(keywords)
	slices.Sort(out)
	return slices.Compact(out)
}

// RecommendationKey is the cache key for canonical keywords and a limit.
func RecommendationKey(canonical []string, limit int) string {
	return hashKey("rec:"+strconv.Itoa(limit)+":", strings.Join(canonical, "\x1f"))
}

// Recommend runs one request for userID. The Result is filled in for every
// outcome; the error is non-nil for rate-limited, invalid and failed
// requests and carries one of the package sentinels.
//
// Once admitted, upstream work is detached from ctx: if the caller goes
// away the in-flight calls still finish and fill the caches, but Recommend
// returns ctx's error straight away.
func (s *Service) Recommend(ctx context.Context, userID, text string) (*Result, error) {
	res := &Result{RequestID: uuid.NewString(), UserID: userID, started: time.Now()}
	ctx, span := s.tracer.Start(ctx, "recommend", trace.WithAttributes(
		attribute.String("request.id", res.RequestID),
		attribute.String("user.id", userID),
	))
	defer span.End()
	log := s.logger.WithContext(ctx).With(map[string]interface{}{"request_id": res.RequestID, "user": userID})

	s.metrics.recordRequest()
	res.step(StateReceived, "")

	normalized := Normalize(text)
	if normalized == "" {
		res.Outcome = OutcomeInvalid
		s.finish(span, res, ErrEmptyRequest)
		return res, ErrEmptyRequest
	}

	decision := s.limiter.Admit(userID)
	if !decision.Allowed {
		res.RetryAfter = decision.RetryAfter
		res.Outcome = OutcomeRateLimited
		res.step(StateRateChecked, "rejected")
		err := &AdmissionError{UserID: userID, RetryAfter: decision.RetryAfter}
		log.Info("rate limited, retry after %s", decision.RetryAfter)
		s.finish(span, res, err)
		return res, err
	}
	detail := "admitted"
	if decision.UsedBurst {
		detail = "admitted on burst"
	}
	res.step(StateRateChecked, detail)

	work := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if s.config.RequestTimeout > 0 {
		work, cancel = context.WithTimeout(work, s.config.RequestTimeout)
	}

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- s.resolve(work, log, res, normalized)
	}()

	select {
	case err := <-done:
		s.finish(span, res, err)
		if err != nil {
			log.Error("request failed: %s", err)
		} else if res.Degraded {
			log.Warn("served degraded result with %d tracks", len(res.Tracks))
		} else {
			log.Debug("served %d tracks (%s)", len(res.Tracks), res.Outcome)
		}
		return res, err
	case <-ctx.Done():
		log.Debug("caller went away, upstream work continues in the background")
		s.metrics.countOutcome(OutcomeCancelled)
		span.SetAttributes(attribute.String("outcome", OutcomeCancelled.String()))
		span.SetStatus(codes.Error, OutcomeCancelled.String())
		return nil, errors.Wrap(ctx.Err(), "recommend")
	}
}

func (s *Service) finish(span trace.Span, res *Result, err error) {
	res.Latency = time.Since(res.started)
	res.step(StateCompleted, res.Outcome.String())
	s.metrics.recordOutcome(res.Outcome, res.Latency)
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()), attribute.Int("tracks", len(res.Tracks)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}
}

// resolve runs the extraction and catalog steps, filling res.
func (s *Service) resolve(ctx context.Context, log logger.Logger, res *Result, normalized string) error {
	keywords, src := s.extract(ctx, log, normalized)
	res.Keywords = keywords
	res.ExtractionSource = src
	res.Degraded = src == SourceFallback
	s.metrics.recordSource(stepExtraction, src)
	res.step(StateExtractionResolved, src.String()+": "+strings.Join(keywords, ","))

	tracks, src, err := s.recommend(ctx, keywords)
	if err != nil {
		kind := resilience.Classify(err)
		s.metrics.recordUpstreamError(stepCatalog, kind)
		res.Outcome = OutcomeUpstreamFailure
		res.step(StateRecommendationResolved, "failed: "+kind.String())
		return &UpstreamError{Service: stepCatalog, Kind: kind, Err: err}
	}
	res.Tracks = tracks
	res.CatalogSource = src
	s.metrics.recordSource(stepCatalog, src)
	res.step(StateRecommendationResolved, src.String())

	switch {
	case res.Degraded:
		res.Outcome = OutcomeDegraded
	case res.ExtractionSource == SourceCache && res.CatalogSource == SourceCache:
		res.Outcome = OutcomeCacheHit
	default:
		res.Outcome = OutcomeUpstreamSuccess
	}
	return nil
}

// coalesce runs fn under key in the singleflight group when coalescing is on.
func coalesce[T any](s *Service, key string, fn func() (T, error)) (T, error) {
	if !s.config.Coalesce {
		return fn()
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

type extracted struct {
	source   cache.Source
	keywords []string
}

// extract resolves keywords for normalized text. It never fails: a failed
// or empty extraction falls back to the lexicon and that result is not
// cached.
func (s *Service) extract(ctx context.Context, log logger.Logger, normalized string) ([]string, Source) {
	ctx, span := s.tracer.Start(ctx, "recommend.extract")
	defer span.End()

	key := ExtractionKey(normalized)
	out, err := coalesce(s, key, func() (extracted, error) {
		src, kw, err := cache.Exec(ctx, cache.CacheConfig{Key: key, Encode: true}, s.caches.Get(cache.NamespaceExtraction),
			func(ctx context.Context) ([]string, bool, error) {
				kw, err := s.extractor.Extract(ctx, normalized)
				if err != nil {
					return nil, false, err
				}
				return kw, len(kw) > 0, nil
			})
		return extracted{source: src, keywords: kw}, err
	})
	if err == nil && len(out.keywords) > 0 {
		src := SourceUpstream
		if out.source == cache.SourceCache {
			src = SourceCache
		}
		span.SetAttributes(attribute.String("source", src.String()))
		return slices.Clone(out.keywords), src
	}

	if err != nil {
		kind := resilience.Classify(err)
		s.metrics.recordUpstreamError(stepExtraction, kind)
		span.RecordError(err)
		log.Warn("keyword extraction failed (%s), using fallback: %s", kind, err)
	} else {
		log.Debug("keyword extraction found nothing, using fallback")
	}
	kw, ferr := s.fallback.Extract(ctx, normalized)
	if ferr != nil {
		log.Warn("fallback extraction failed: %s", ferr)
	}
	span.SetAttributes(attribute.String("source", SourceFallback.String()))
	return kw, SourceFallback
}

type recommended struct {
	source cache.Source
	tracks []catalog.Track
}

func (s *Service) recommend(ctx context.Context, keywords []string) ([]catalog.Track, Source, error) {
	ctx, span := s.tracer.Start(ctx, "recommend.catalog")
	defer span.End()

	canonical := CanonicalKeywords(keywords)
	key := RecommendationKey(canonical, s.config.Limit)
	out, err := coalesce(s, key, func() (recommended, error) {
		src, tracks, err := cache.Exec(ctx, cache.CacheConfig{Key: key, Encode: true}, s.caches.Get(cache.NamespaceRecommendation),
			func(ctx context.Context) ([]catalog.Track, bool, error) {
				tracks, err := s.catalog.Recommend(ctx, canonical, s.config.Limit)
				if err != nil {
					return nil, false, err
				}
				return tracks, true, nil
			})
		return recommended{source: src, tracks: tracks}, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog")
		return nil, SourceNone, err
	}
	src := SourceUpstream
	if out.source == cache.SourceCache {
		src = SourceCache
	}
	span.SetAttributes(attribute.String("source", src.String()), attribute.Int("tracks", len(out.tracks)))
	return slices.Clone(out.tracks), src, nil
}

// ServiceStats is a snapshot of the pipeline and its components.
type ServiceStats struct {
	Metrics MetricsSnapshot                 `json:"metrics" yaml:"metrics"`
	Caches  map[cache.Namespace]cache.Stats `json:"caches" yaml:"caches"`
	Limiter ratelimit.Stats                 `json:"limiter" yaml:"limiter"`
}

func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Metrics: s.metrics.Snapshot(),
		Caches:  s.caches.Stats(),
		Limiter: s.limiter.Stats(),
	}
}

// UserStats reports userID's rate limit state without consuming quota.
func (s *Service) UserStats(userID string) ratelimit.UserStats {
	return s.limiter.UserStats(userID)
}
