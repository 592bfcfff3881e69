package ports

import (
	"context"
	"time"

	"EpiScanner/internal/domain"
)

// Source discovers bulletin listings from one upstream provider.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]domain.DiscoveredItem, error)
}

// ContentFetcher retrieves the raw page content of a discovered item.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor pulls the (name, cases, deaths) table out of raw page content.
type Extractor interface {
	Extract(content []byte, languageHint string) domain.TableResult
}

// Resolver maps a free-text local disease name to a canonical entity ID.
// ok=false means unresolved: an expected outcome recorded for curation,
// not an error.
type Resolver interface {
	Resolve(ctx context.Context, localName string, scope domain.Scope) (entityID string, ok bool, err error)
}

// MappingStore backs the resolver and the curation workflow. Implementations
// exist for the relational store and for operator-maintained CSV files.
type MappingStore interface {
	MappingsForScope(ctx context.Context, scope domain.Scope) ([]domain.LocalMapping, error)
	Entities(ctx context.Context) ([]domain.CanonicalEntity, error)
	TouchMapping(ctx context.Context, scope domain.Scope, localName string) error
	RecordSuggestion(ctx context.Context, scope domain.Scope, localName string) error
	PendingSuggestions(ctx context.Context, scope domain.Scope, limit int) ([]domain.MappingSuggestion, error)
	PendingSuggestionCount(ctx context.Context, scope domain.Scope) (int, error)
	AddEntity(ctx context.Context, entity domain.CanonicalEntity) error
	AddMapping(ctx context.Context, mapping domain.LocalMapping) error
	ApproveSuggestion(ctx context.Context, scope domain.Scope, localName, entityID string) error
	MappingStatistics(ctx context.Context, scope domain.Scope) (domain.MappingStatistics, error)
}

// FactStore persists resolved time-series facts with idempotent upserts.
type FactStore interface {
	Upsert(ctx context.Context, facts []domain.Fact) (written int, err error)
	HighWaterMark(ctx context.Context, country string) (time.Time, bool, error)
	QueryFacts(ctx context.Context, country string, from, to time.Time) ([]domain.Fact, error)
	Statistics(ctx context.Context, country string) (domain.FactStatistics, error)
}

// RunStore keeps the crawl-run audit ledger.
type RunStore interface {
	StartRun(ctx context.Context, run domain.CrawlRun) error
	FinishRun(ctx context.Context, run domain.CrawlRun) error
}
