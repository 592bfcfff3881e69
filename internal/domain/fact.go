package domain

import "time"

// SentinelUnknown is the numeric placeholder upstream sources use for "not
// reported". It must map to an absent value, never to zero.
const SentinelUnknown = -10

// RawRow is one table row as extracted, before entity resolution. The count
// cells keep their source text so coercion failures can be reported with the
// original value.
type RawRow struct {
	LocalName string
	Cases     string
	Deaths    string
}

// TableStatus distinguishes a failed extraction from a valid empty one.
type TableStatus int

const (
	TableOK TableStatus = iota
	TableEmpty
	TableFailed
)

// TableResult is the outcome of extracting a bulletin page. Zero data rows is
// a valid result (TableEmpty), distinct from TableFailed.
type TableResult struct {
	Status TableStatus
	Rows   []RawRow
	Reason string
}

// Provenance links a fact back to the page and row it came from.
type Provenance struct {
	SourceURL   string
	SourceLabel string
	RawRowRef   string
}

// Fact is one time-series measurement: at most one per canonical entity per
// scope per timestamp. Nil counts mean "not reported", never zero.
type Fact struct {
	Time       time.Time
	EntityID   string
	Country    string
	Region     string
	Cases      *int64
	Deaths     *int64
	Incidence  *float64
	Mortality  *float64
	Provenance Provenance
}

// FactStatistics is the read-side summary exposed to report generators.
type FactStatistics struct {
	TotalFacts       int
	DistinctEntities int
	EarliestTime     *time.Time
	LatestTime       *time.Time
}

// IngestSummary counts the outcome of ingesting a single item.
type IngestSummary struct {
	RowsExtracted  int
	RowsResolved   int
	RowsUnresolved int
	FactsWritten   int
}

// Add folds another summary into this one.
func (s *IngestSummary) Add(other IngestSummary) {
	s.RowsExtracted += other.RowsExtracted
	s.RowsResolved += other.RowsResolved
	s.RowsUnresolved += other.RowsUnresolved
	s.FactsWritten += other.FactsWritten
}

// RunReport is what a full ingestion run hands back to the operator.
type RunReport struct {
	Discovered         int
	NewItems           int
	SkippedItems       int
	FailedItems        int
	Summary            IngestSummary
	PendingSuggestions int
}
