// Package resolver maps free-text local disease names, scoped by country and
// language, to canonical entity IDs. Resolution order: exact match,
// normalized-key match, fuzzy match, then a learning suggestion for human
// curation.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

// Config carries the fuzzy-match heuristics. The thresholds are heuristic
// starting values; near-threshold candidates are logged for review.
type Config struct {
	FuzzyLanguages     []string
	ShortNameThreshold float64
	LongNameThreshold  float64
	ShortNameLength    int
	ReviewMargin       float64
}

// DefaultConfig mirrors the curated reference configuration.
func DefaultConfig() Config {
	return Config{
		FuzzyLanguages:     []string{"en"},
		ShortNameThreshold: 0.90,
		LongNameThreshold:  0.85,
		ShortNameLength:    10,
		ReviewMargin:       0.05,
	}
}

// Resolver resolves local names against a mapping store through a per-process
// cache. Safe for concurrent use; mutations invalidate the affected scope.
type Resolver struct {
	store  ports.MappingStore
	cache  *scopeCache
	cfg    Config
	logger *slog.Logger
}

var _ ports.Resolver = (*Resolver)(nil)

// New wires a mapping store into a resolver.
func New(store ports.MappingStore, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.ShortNameThreshold == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: newScopeCache(), cfg: cfg, logger: logger}
}

// Resolve maps a local name to a canonical entity ID. ok=false with a nil
// error means unresolved: the name was recorded as a learning suggestion.
func (r *Resolver) Resolve(ctx context.Context, localName string, scope domain.Scope) (string, bool, error) {
	entry, err := r.scopeEntry(ctx, scope)
	if err != nil {
		return "", false, fmt.Errorf("load mappings for %s: %w", scope, err)
	}

	// 1. Exact match.
	if m, ok := entry.exact[localName]; ok {
		r.touch(ctx, scope, m.LocalName)
		return m.EntityID, true, nil
	}

	// 2. Normalized-key match recovers formatting drift without fuzzing.
	if m, ok := entry.normalized[normalizeKey(localName)]; ok {
		r.touch(ctx, scope, m.LocalName)
		return m.EntityID, true, nil
	}

	// 3. Fuzzy match, for languages it is trusted on.
	if slices.Contains(r.cfg.FuzzyLanguages, scope.Language) {
		if id, ok, err := r.fuzzyResolve(ctx, localName, entry); err != nil {
			return "", false, err
		} else if ok {
			return id, true, nil
		}
	}

	// 4. Unresolved: accumulate a suggestion for curation. Not an error.
	if err := r.store.RecordSuggestion(ctx, scope, localName); err != nil {
		r.logger.Warn("record suggestion failed", "scope", scope.Key(), "name", localName, "error", err)
	}
	return "", false, nil
}

func (r *Resolver) fuzzyResolve(ctx context.Context, localName string, entry *scopeEntry) (string, bool, error) {
	candidates, err := r.fuzzyCandidates(ctx, entry)
	if err != nil {
		return "", false, err
	}

	input := cleanLatin(localName)
	if input == "" {
		return "", false, nil
	}
	threshold := r.cfg.LongNameThreshold
	if len(input) <= r.cfg.ShortNameLength {
		threshold = r.cfg.ShortNameThreshold
	}

	var matches []fuzzyMatch
	for _, candidate := range candidates {
		clean := cleanLatin(candidate.Name)
		if clean == "" {
			continue
		}
		if clean == input {
			matches = append(matches, fuzzyMatch{fuzzyCandidate: candidate, Similarity: 1})
			continue
		}
		if tooSpecific(input, clean) {
			r.logger.Debug("fuzzy candidate rejected as too specific",
				"input", localName, "candidate", candidate.Name)
			continue
		}
		score := similarity(input, clean)
		if score >= threshold {
			matches = append(matches, fuzzyMatch{fuzzyCandidate: candidate, Similarity: score})
		} else if score >= threshold-r.cfg.ReviewMargin {
			// The thresholds are heuristic; surface near misses so curators
			// can tune them.
			r.logger.Info("near-threshold fuzzy candidate",
				"input", localName, "candidate", candidate.Name,
				"similarity", score, "threshold", threshold)
		}
	}

	if len(matches) == 0 {
		return "", false, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Priority > matches[j].Priority
	})

	best := matches[0]
	r.logger.Info("fuzzy matched",
		"input", localName, "candidate", best.Name,
		"entity", best.EntityID, "similarity", best.Similarity)
	return best.EntityID, true, nil
}

// fuzzyCandidates gathers every known local name in scope plus every
// canonical English name.
func (r *Resolver) fuzzyCandidates(ctx context.Context, entry *scopeEntry) ([]fuzzyCandidate, error) {
	entities, err := r.entities(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]fuzzyCandidate, 0, len(entry.mappings)+len(entities))
	for _, m := range entry.mappings {
		candidates = append(candidates, fuzzyCandidate{EntityID: m.EntityID, Name: m.LocalName, Priority: m.Priority})
	}
	for _, e := range entities {
		candidates = append(candidates, fuzzyCandidate{EntityID: e.ID, Name: e.NameEn})
	}
	return candidates, nil
}

// AddEntity promotes a new canonical entity and invalidates the entity cache.
func (r *Resolver) AddEntity(ctx context.Context, entity domain.CanonicalEntity) error {
	if err := r.store.AddEntity(ctx, entity); err != nil {
		return err
	}
	r.cache.invalidateEntities()
	return nil
}

// AddMapping registers a local name for an entity and invalidates the scope.
func (r *Resolver) AddMapping(ctx context.Context, mapping domain.LocalMapping) error {
	if err := r.store.AddMapping(ctx, mapping); err != nil {
		return err
	}
	r.cache.invalidate(mapping.Scope)
	return nil
}

// ApproveSuggestion turns a pending suggestion into a mapping and invalidates
// the scope.
func (r *Resolver) ApproveSuggestion(ctx context.Context, scope domain.Scope, localName, entityID string) error {
	if err := r.store.ApproveSuggestion(ctx, scope, localName, entityID); err != nil {
		return err
	}
	r.cache.invalidate(scope)
	return nil
}

// Invalidate drops the cached mapping table for a scope.
func (r *Resolver) Invalidate(scope domain.Scope) {
	r.cache.invalidate(scope)
}

func (r *Resolver) scopeEntry(ctx context.Context, scope domain.Scope) (*scopeEntry, error) {
	if entry, ok := r.cache.get(scope); ok {
		return entry, nil
	}
	mappings, err := r.store.MappingsForScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	return r.cache.put(scope, mappings), nil
}

func (r *Resolver) entities(ctx context.Context) ([]domain.CanonicalEntity, error) {
	if entities, ok := r.cache.cachedEntities(); ok {
		return entities, nil
	}
	entities, err := r.store.Entities(ctx)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []domain.CanonicalEntity{}
	}
	r.cache.putEntities(entities)
	return entities, nil
}

// touch bumps usage statistics for a matched mapping. Best effort: a failure
// must not fail the resolution.
func (r *Resolver) touch(ctx context.Context, scope domain.Scope, localName string) {
	if err := r.store.TouchMapping(ctx, scope, localName); err != nil {
		r.logger.Debug("usage stats update failed", "scope", scope.Key(), "name", localName, "error", err)
	}
}
