package resolver

import (
	"strings"
	"sync"

	"EpiScanner/internal/domain"
)

// scopeEntry is the materialized mapping table for one scope: exact and
// normalized-key indexes plus the raw slice for fuzzy candidates.
type scopeEntry struct {
	exact      map[string]domain.LocalMapping
	normalized map[string]domain.LocalMapping
	mappings   []domain.LocalMapping
}

// scopeCache holds mapping tables per scope. Mapping tables change rarely
// relative to ingestion volume, so entries live for the process lifetime and
// are invalidated explicitly on mutation, never time-expired.
type scopeCache struct {
	mu       sync.RWMutex
	scopes   map[string]*scopeEntry
	entities []domain.CanonicalEntity
}

func newScopeCache() *scopeCache {
	return &scopeCache{scopes: map[string]*scopeEntry{}}
}

func (c *scopeCache) get(scope domain.Scope) (*scopeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.scopes[scope.Key()]
	return entry, ok
}

func (c *scopeCache) put(scope domain.Scope, mappings []domain.LocalMapping) *scopeEntry {
	entry := &scopeEntry{
		exact:      make(map[string]domain.LocalMapping, len(mappings)),
		normalized: make(map[string]domain.LocalMapping, len(mappings)),
		mappings:   mappings,
	}
	for _, m := range mappings {
		entry.exact[m.LocalName] = preferMapping(entry.exact[m.LocalName], m)
		key := normalizeKey(m.LocalName)
		entry.normalized[key] = preferMapping(entry.normalized[key], m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[scope.Key()] = entry
	return entry
}

func (c *scopeCache) invalidate(scope domain.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scopes, scope.Key())
}

func (c *scopeCache) cachedEntities() ([]domain.CanonicalEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entities, c.entities != nil
}

func (c *scopeCache) putEntities(entities []domain.CanonicalEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = entities
}

func (c *scopeCache) invalidateEntities() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = nil
}

// preferMapping keeps the higher-priority mapping when two local names
// collide on the same key.
func preferMapping(existing, candidate domain.LocalMapping) domain.LocalMapping {
	if existing.EntityID == "" {
		return candidate
	}
	if candidate.Priority > existing.Priority {
		return candidate
	}
	return existing
}

// normalizeKey lowercases, trims, and strips internal whitespace, hyphens,
// and underscores so spelling drift still hits the mapping table without a
// fuzzy pass.
func normalizeKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_':
			return -1
		}
		return r
	}, name)
}
