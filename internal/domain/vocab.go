package domain

import "time"

// CanonicalEntity is the stable identity a local disease name resolves to,
// e.g. "D004". Descriptive fields may change; the ID never does once facts
// reference it.
type CanonicalEntity struct {
	ID        string
	NameEn    string
	NameLocal string
	Category  string
	ICD10     string
	ICD11     string
}

// LocalMapping associates one free-text local name, within a scope, with a
// canonical entity. Unique on (scope, local name).
type LocalMapping struct {
	Scope      Scope
	LocalName  string
	EntityID   string
	IsPrimary  bool
	IsAlias    bool
	Priority   int
	UsageCount int
	LastUsedAt *time.Time
}

// SuggestionStatus tracks the curation state of a learning suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

// MappingSuggestion accumulates occurrences of a local name the resolver could
// not map. Identity is the natural key (scope, local name); re-recording the
// same name increments OccurrenceCount instead of inserting a second row.
type MappingSuggestion struct {
	Scope           Scope
	LocalName       string
	OccurrenceCount int
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	Status          SuggestionStatus
}

// MappingStatistics summarizes the reference tables for one scope.
type MappingStatistics struct {
	Entities           int
	Mappings           int
	PrimaryMappings    int
	AliasMappings      int
	PendingSuggestions int
}
