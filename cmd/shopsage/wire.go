package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/shopsage/internal/config"
	"github.com/FranksOps/shopsage/internal/enricher"
	"github.com/FranksOps/shopsage/internal/fingerprint"
	"github.com/FranksOps/shopsage/internal/judge"
	"github.com/FranksOps/shopsage/internal/llm"
	"github.com/FranksOps/shopsage/internal/pipeline"
	"github.com/FranksOps/shopsage/internal/scout"
	"github.com/FranksOps/shopsage/internal/scraper"
	"github.com/FranksOps/shopsage/internal/serp"
	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/FranksOps/shopsage/internal/storage/jsonbackend"
	"github.com/FranksOps/shopsage/internal/storage/postgres"
	"github.com/FranksOps/shopsage/internal/storage/sqlite"
	"github.com/FranksOps/shopsage/pkg/proxy"
	"github.com/FranksOps/shopsage/pkg/ratelimit"
	"github.com/FranksOps/shopsage/pkg/useragent"
)

// app holds the long-lived collaborators shared by every request.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	audit    storage.Backend
	scout    *scout.Scout
	enricher *enricher.Enricher
	judge    *judge.Judge
	pipeline *pipeline.Pipeline
	limiters []*ratelimit.Limiter
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	profile, err := fingerprint.ParseProfile(cfg.FetchFingerprint)
	if err != nil {
		return nil, err
	}
	mode, err := enricher.ParseMode(cfg.EnrichMode)
	if err != nil {
		return nil, err
	}

	audit, err := openAudit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.audit = audit

	proxies, err := proxyPool(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	uas := useragent.NewPool(nil)
	fetchLimiter := a.limiter(cfg.FetchRPS, cfg.FetchJitter)
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     cfg.EnrichItemTimeout,
		ProxyPool:   proxies,
		UAPool:      uas,
		Fingerprint: profile,
		Limiter:     fetchLimiter,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create page fetcher: %w", err)
	}

	var reasoner llm.Reasoner
	if cfg.HasReasoner() {
		o, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		reasoner = o
	} else {
		logger.Warn("OPENAI_API_KEY not set, ranking requests will fail")
	}

	provider, err := a.searchChain(profile, uas)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.scout = scout.New(provider, logger)
	a.enricher = enricher.New(enricher.Config{
		Mode:          mode,
		Concurrency:   cfg.EnrichConcurrency,
		ItemTimeout:   cfg.EnrichItemTimeout,
		RespectRobots: cfg.FetchRespectRobots,
	}, fetcher, reasoner, audit, logger)
	a.judge = judge.New(reasoner, cfg.JudgeRetries, logger)
	a.pipeline = pipeline.New(a.scout, a.enricher, a.judge, pipeline.Config{}, logger)
	return a, nil
}

func (a *app) limiter(rps, jitter float64) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rps, jitter)
	a.limiters = append(a.limiters, l)
	return l
}

func (a *app) searchChain(profile fingerprint.Profile, uas *useragent.Pool) (*serp.Chain, error) {
	searchLimiter := a.limiter(a.cfg.SearchRPS, 0)

	var providers []serp.Provider
	for _, name := range a.cfg.SearchProviders {
		switch name {
		case "tavily":
			if a.cfg.TavilyAPIKey == "" {
				a.logger.Warn("TAVILY_API_KEY not set, skipping tavily search provider")
				continue
			}
			t, err := serp.NewTavily(serp.TavilyConfig{
				APIKey:  a.cfg.TavilyAPIKey,
				BaseURL: a.cfg.TavilyBaseURL,
				Timeout: a.cfg.SearchTimeout,
				Limiter: searchLimiter,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, t)
		case "ddg":
			f, err := scraper.NewFetcher(scraper.FetchConfig{
				Timeout:     a.cfg.SearchTimeout,
				UAPool:      uas,
				Fingerprint: profile,
				Limiter:     searchLimiter,
			})
			if err != nil {
				return nil, fmt.Errorf("create search fetcher: %w", err)
			}
			providers = append(providers, serp.NewDuckDuckGo(f, ""))
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no usable search provider configured")
	}
	return serp.NewChain(a.logger, providers...), nil
}

// Close releases the audit backend and limiter tickers.
func (a *app) Close() {
	for _, l := range a.limiters {
		l.Stop()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit backend", "err", err)
		}
	}
}

// openAudit opens the configured fetch audit backend, or returns nil when
// auditing is disabled.
func openAudit(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.AuditBackend {
	case "", "none":
		return nil, nil
	case "sqlite":
		b, err = sqlite.New(cfg.AuditDSN)
	case "postgres":
		b, err = postgres.New(ctx, cfg.AuditDSN)
	case "jsonl":
		b, err = jsonbackend.New(cfg.AuditDSN)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s audit backend: %w", cfg.AuditBackend, err)
	}
	return b, nil
}

func proxyPool(cfg config.Config) (*proxy.Pool, error) {
	if len(cfg.FetchProxies) == 0 && cfg.FetchProxyFile == "" {
		return nil, nil
	}
	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(cfg.FetchProxies...); err != nil {
		return nil, err
	}
	if cfg.FetchProxyFile != "" {
		if err := pool.LoadFile(cfg.FetchProxyFile); err != nil {
			return nil, err
		}
	}
	if pool.Len() == 0 {
		return nil, nil
	}
	return pool, nil
}
