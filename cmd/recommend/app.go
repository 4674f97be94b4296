package main

import (
	"context"
	"time"

	"github.com/agentuity/go-recommend/api"
	"github.com/agentuity/go-recommend/cache"
	"github.com/agentuity/go-recommend/catalog"
	"github.com/agentuity/go-recommend/clock"
	"github.com/agentuity/go-recommend/config"
	"github.com/agentuity/go-recommend/extraction"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/monitor"
	"github.com/agentuity/go-recommend/ratelimit"
	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/resilience"
	"github.com/agentuity/go-recommend/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
)

// app holds the wired pipeline and its background workers.
type app struct {
	config   *config.Config
	service  *recommend.Service
	caches   *cache.Namespaces
	limiter  *ratelimit.Limiter
	monitor  *monitor.Monitor
	logger   logger.Logger
	cancel   context.CancelFunc
	workers  conc.WaitGroup
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	log, shutdown, err := telemetry.New(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.Token, cfg.Telemetry.ServiceName, log)
	if err != nil {
		return nil, errors.Wrap(err, "starting telemetry")
	}

	clk := clock.Real
	caches := cache.NewNamespaces(ctx, cfg.Namespaces(), clk)
	limiter := ratelimit.New(cfg.RateLimiter, clk)

	client := func(name string) *api.Client {
		return api.New(log.WithPrefix("["+name+"]"),
			api.WithTimeout(cfg.Client.Timeout),
			api.WithRetry(cfg.Retry()),
			api.WithBreaker(resilience.NewCircuitBreaker(name, cfg.Breaker(), clk)),
		)
	}

	extractor := extraction.NewHTTPExtractor(client("extraction"), log, extraction.HTTPConfig{
		URL:         cfg.Extraction.URL,
		Model:       cfg.Extraction.Model,
		APIKey:      cfg.Credentials.ExtractionKey,
		MaxTokens:   cfg.Extraction.MaxTokens,
		Temperature: cfg.Extraction.Temperature,
	})
	catalogClient := client("catalog")
	tokens := catalog.NewTokenSource(catalogClient, caches.Get(cache.NamespaceToken), clk, log, catalog.TokenConfig{
		AuthURL:      cfg.Catalog.AuthURL,
		ClientID:     cfg.Credentials.CatalogClientID,
		ClientSecret: cfg.Credentials.CatalogClientSecret,
	})
	cat := catalog.NewHTTPCatalog(catalogClient, tokens, log, catalog.HTTPConfig{
		APIURL: cfg.Catalog.APIURL,
		Market: cfg.Catalog.Market,
	})

	a := &app{
		config:   cfg,
		service:  recommend.New(cfg.Orchestrator, limiter, caches, extractor, extraction.NewLexicon(), cat, log),
		caches:   caches,
		limiter:  limiter,
		logger:   log,
		shutdown: shutdown,
	}
	if sampler, err := monitor.NewSystemSampler(ctx); err == nil {
		a.monitor = monitor.New(sampler, cfg.Monitor.Threshold, log)
	} else {
		log.Debug("resource monitor disabled: %s", err)
	}
	return a, nil
}

// start launches the sweepers and the resource monitor.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	interval := a.config.Cache.SweepInterval
	a.workers.Go(func() { cache.RunSweeper(ctx, interval, a.caches, a.logger.WithPrefix("[cache]")) })
	a.workers.Go(func() { cache.RunSweeper(ctx, interval, a.limiter, a.logger.WithPrefix("[ratelimit]")) })
	if a.monitor != nil {
		a.workers.Go(func() { a.monitor.Run(ctx, a.config.Monitor.Interval) })
	}
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.workers.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.caches.Close(ctx); err != nil {
		a.logger.Warn("error closing caches: %s", err)
	}
	a.shutdown()
}
