// Package app wires the moexbonds components from a loaded configuration.
// The CLI and the HTTP server share one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/advisor"
	"github.com/moexbonds/moexbonds/internal/config"
	"github.com/moexbonds/moexbonds/internal/datasource"
	"github.com/moexbonds/moexbonds/internal/llm"
	"github.com/moexbonds/moexbonds/internal/metrics"
	"github.com/moexbonds/moexbonds/internal/screener"
	"github.com/moexbonds/moexbonds/internal/store"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// KeyRateSource supplies the current key rate. *datasource.CBR satisfies it.
type KeyRateSource interface {
	KeyRate(ctx context.Context) (datasource.KeyRate, error)
}

// ModelLister lists chat models. *llm.ModelCatalog satisfies it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Service  *screener.Service
	Store    store.Store
	Advisor  *advisor.Advisor
	Router   *llm.Router // nil without any LLM key
	Catalog  ModelLister
	KeyRates KeyRateSource // nil when scraping is disabled

	closers []func() error
}

// New builds every component from cfg. A missing LLM key is not an error:
// analysis calls then fail with llm.ErrNoAPIKey.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	}
	a.Metrics = metrics.New(a.Registry)

	moexOpts := []datasource.MOEXOption{}
	if cfg.Redis.URL != "" {
		rc, err := datasource.NewRedisSnapshotCache(ctx, cfg.Redis.URL, cfg.Redis.Prefix, time.Duration(cfg.Redis.TTLSec)*time.Second)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process cache only")
		} else {
			moexOpts = append(moexOpts, datasource.WithSnapshotCache(rc))
			a.closers = append(a.closers, rc.Close)
		}
	}
	moex := datasource.NewMOEX(cfg.Feed, moexOpts...)
	agg := datasource.NewAggregator(moex, cfg.Feed.Boards)

	pipeline := screener.NewPipeline(screener.WithPipelineMetrics(a.Metrics))
	a.Service = screener.NewService(agg,
		screener.WithPipeline(pipeline),
		screener.WithMetrics(a.Metrics),
	)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st

	var chat advisor.Chatter
	router, err := llm.NewRouterFromConfig(cfg.LLM, a.Metrics)
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		log.Debug().Msg("no LLM key configured, analysis disabled")
	case err != nil:
		return nil, fmt.Errorf("LLM setup failed: %w", err)
	default:
		a.Router = router
		chat = router
	}

	advOpts := []advisor.Option{advisor.WithMetrics(a.Metrics)}
	if len(cfg.News.Feeds) > 0 {
		advOpts = append(advOpts, advisor.WithNews(datasource.NewNews(cfg.News.Feeds, nil)))
	}
	a.Advisor, err = advisor.New(chat, cfg.Advisor, cfg.LLM, advOpts...)
	if err != nil {
		return nil, err
	}

	a.Catalog = llm.NewModelCatalog(cfg.LLM.OpenRouterURL, nil)
	if cfg.Macro.Scrape {
		a.KeyRates = datasource.NewCBR(cfg.Macro.CBRURL, nil)
	}

	a.Service.OnRefresh(func(ev screener.RefreshEvent) {
		if ev.Err == nil && !ev.Discarded {
			a.Advisor.Purge()
		}
	})
	return a, nil
}

// Macro resolves the macro context: the stored one when present, else the
// configured defaults with the scraped key rate when available.
func (a *App) Macro(ctx context.Context) models.MacroContext {
	if m, ok, err := a.Store.Macro(); err == nil && ok {
		return m
	}
	m := models.MacroContext{
		KeyRate:   a.Config.Macro.KeyRate,
		Inflation: a.Config.Macro.Inflation,
		Date:      civil.DateOf(time.Now()),
		Source:    "default",
	}
	if a.KeyRates == nil {
		return m
	}
	kr, err := a.KeyRates.KeyRate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("key rate scrape failed, using defaults")
		return m
	}
	m.KeyRate = kr.Rate
	m.Date = kr.Date
	m.Source = "cbr"
	return m
}

// Favorites returns the stored favorites, logging and ignoring read errors.
func (a *App) Favorites() models.Favorites {
	favs, err := a.Store.Favorites()
	if err != nil {
		log.Warn().Err(err).Msg("favorites unavailable")
		return nil
	}
	return favs
}

// Close releases external connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
