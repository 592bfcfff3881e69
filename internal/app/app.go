// Package app assembles the pipeline from configuration: storage, mapping
// backend, resolver, source adapters, and the ingestion service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"EpiScanner/internal/config"
	"EpiScanner/internal/domain"
	"EpiScanner/internal/httpx"
	"EpiScanner/internal/infrastructure/extract"
	"EpiScanner/internal/infrastructure/source"
	"EpiScanner/internal/infrastructure/storage"
	"EpiScanner/internal/infrastructure/storage/csvstore"
	"EpiScanner/internal/logging"
	"EpiScanner/internal/ports"
	"EpiScanner/internal/resolver"
	"EpiScanner/internal/retry"
	"EpiScanner/internal/usecase"
)

// App holds the wired components a command needs.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    *storage.Store
	Mappings ports.MappingStore
	Resolver *resolver.Resolver
	Service  *usecase.Service
}

// New wires the application. The relational store is always opened: facts and
// the run ledger live there even when mappings come from CSV files.
func New(cfg config.Config) (*App, error) {
	logger := logging.New(cfg.Logging.Level)

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, logging.Component(logger, "storage"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var mappings ports.MappingStore = store
	if cfg.Mappings.Backend == "csv" {
		csvStore, err := csvstore.New(cfg.Mappings.CSVDir, logging.Component(logger, "csvstore"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open csv mappings: %w", err)
		}
		mappings = csvStore
	}

	res := resolver.New(mappings, resolver.Config{
		FuzzyLanguages:     cfg.Resolver.FuzzyLanguages,
		ShortNameThreshold: cfg.Resolver.ShortNameThreshold,
		LongNameThreshold:  cfg.Resolver.LongNameThreshold,
		ShortNameLength:    cfg.Resolver.ShortNameLength,
		ReviewMargin:       cfg.Resolver.ReviewMargin,
	}, logging.Component(logger, "resolver"))

	client := httpx.New(
		&http.Client{Timeout: cfg.HTTP.Timeout()},
		cfg.HTTP.UserAgent,
		retry.Policy{MaxAttempts: cfg.HTTP.MaxRetries, BaseDelay: cfg.HTTP.Backoff()},
		logging.Component(logger, "http"),
	)

	registry := source.NewRegistry()
	bindings := make([]usecase.SourceBinding, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		adapter, err := registry.Build(sc, client, logging.Component(logger, "source."+sc.Name))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configure source %s: %w", sc.Name, err)
		}
		bindings = append(bindings, usecase.SourceBinding{
			Source: adapter,
			Scope:  scopeFor(sc, cfg.Ingest.Country),
			Label:  sc.Label,
		})
	}

	service := usecase.NewService(
		bindings,
		client,
		extract.New(logging.Component(logger, "extract")),
		res,
		store,
		mappings,
		store,
		cfg.Ingest.Country,
		cfg.Ingest.Concurrency,
		logging.Component(logger, "ingest"),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Mappings: mappings,
		Resolver: res,
		Service:  service,
	}, nil
}

// Migrate applies the schema.
func (a *App) Migrate(ctx context.Context) error {
	return a.Store.Migrate(ctx)
}

// Close releases held resources.
func (a *App) Close() error {
	return a.Store.Close()
}

// scopeFor fills in the run country when a source does not pin its own.
func scopeFor(sc config.SourceConfig, fallbackCountry string) domain.Scope {
	scope := domain.Scope{Country: sc.Country, Language: sc.Language}
	if scope.Country == "" {
		scope.Country = fallbackCountry
	}
	if scope.Language == "" {
		scope.Language = "en"
	}
	return scope
}
