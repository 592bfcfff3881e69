// Package source implements discovery of bulletin listings from the
// configured upstream providers. Adapters do the light parsing only: title,
// URL, publication period. Heavy table extraction happens later, per item.
package source

import (
	"fmt"
	"log/slog"

	"EpiScanner/internal/config"
	"EpiScanner/internal/httpx"
	"EpiScanner/internal/ports"
)

// DiscoveryError wraps a per-source failure so the orchestrator can log and
// skip it without aborting discovery of the remaining sources.
type DiscoveryError struct {
	SourceTag string
	Cause     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for %s: %v", e.SourceTag, e.Cause)
}

func (e *DiscoveryError) Unwrap() error { return e.Cause }

// Factory builds a source adapter from its configuration.
type Factory func(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) ports.Source

// Registry keeps a mapping from adapter kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a registry with the built-in adapter kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("weekly-html", func(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) ports.Source {
		return NewWeeklyHTMLSource(cfg, client, logger)
	})
	r.Register("bulletin-api", func(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) ports.Source {
		return NewBulletinAPISource(cfg, client, logger)
	})
	r.Register("rss", func(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) ports.Source {
		return NewRSSSource(cfg, client, logger)
	})
	return r
}

// Register adds or replaces a factory for an adapter kind.
func (r *Registry) Register(kind string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = factory
}

// Build constructs the adapter for one configured source.
func (r *Registry) Build(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) (ports.Source, error) {
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("source kind %s is not registered", cfg.Kind)
	}
	return factory(cfg, client, logger), nil
}
