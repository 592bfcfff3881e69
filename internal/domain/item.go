package domain

import (
	"fmt"
	"time"
)

// Scope partitions mapping tables and fact uniqueness by country and the
// language the source publishes in.
type Scope struct {
	Country  string
	Language string
}

// Key is the storage key for mapping lookups, e.g. "CN_zh".
func (s Scope) Key() string {
	return fmt.Sprintf("%s_%s", s.Country, s.Language)
}

func (s Scope) String() string {
	return s.Key()
}

// DiscoveredItem is one bulletin found by a source adapter. Ephemeral: it is
// never persisted directly, only the facts extracted from it.
type DiscoveredItem struct {
	SourceTag   string
	Title       string
	URL         string
	PublishedAt *time.Time
	PeriodLabel string // e.g. "2024 January"
}

// Dated reports whether the adapter managed to extract a publication date.
func (d DiscoveredItem) Dated() bool {
	return d.PublishedAt != nil
}

// CrawlRun is the audit record for one ingestion run.
type CrawlRun struct {
	ID           string
	Country      string
	Source       string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	Discovered   int
	NewItems     int
	FactsWritten int
	Error        string
}

// RunStatus enumerates crawl-run lifecycle states.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)
