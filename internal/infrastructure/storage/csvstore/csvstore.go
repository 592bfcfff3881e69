// Package csvstore backs the mapping store with operator-maintained CSV
// files. It exists for deployments without a database: entities.csv and
// mappings.csv are curated by hand, suggestions.csv is written back by the
// pipeline for review.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

const (
	entitiesFile    = "entities.csv"
	mappingsFile    = "mappings.csv"
	suggestionsFile = "suggestions.csv"
)

var (
	entityHeader     = []string{"id", "name_en", "name_local", "category", "icd10", "icd11"}
	mappingHeader    = []string{"scope", "local_name", "entity_id", "is_primary", "is_alias", "priority"}
	suggestionHeader = []string{"scope", "local_name", "occurrence_count", "first_seen_at", "last_seen_at", "status"}
)

// Store implements the mapping store over three CSV files in one directory.
// Every write rewrites the affected file whole; the files are small reference
// tables, not fact data.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.MappingStore = (*Store)(nil)

// New opens a CSV-backed store rooted at dir, creating it when absent.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mapping dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// MappingsForScope reads mappings.csv and filters to one scope.
func (s *Store) MappingsForScope(_ context.Context, scope domain.Scope) ([]domain.LocalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readMappings()
	if err != nil {
		return nil, err
	}
	var mappings []domain.LocalMapping
	for _, m := range all {
		if m.Scope == scope {
			mappings = append(mappings, m)
		}
	}
	return mappings, nil
}

// Entities reads the canonical vocabulary from entities.csv.
func (s *Store) Entities(context.Context) ([]domain.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readEntities()
}

// TouchMapping is a no-op: usage counters are a database feature, and CSV
// files edited by operators should not churn on every resolution.
func (s *Store) TouchMapping(context.Context, domain.Scope, string) error {
	return nil
}

// RecordSuggestion appends or increments a row in suggestions.csv.
func (s *Store) RecordSuggestion(_ context.Context, scope domain.Scope, localName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	suggestions, err := s.readSuggestions()
	if err != nil {
		return err
	}
	now := s.now()
	found := false
	for i := range suggestions {
		if suggestions[i].Scope == scope && suggestions[i].LocalName == localName {
			suggestions[i].OccurrenceCount++
			suggestions[i].LastSeenAt = now
			found = true
			break
		}
	}
	if !found {
		suggestions = append(suggestions, domain.MappingSuggestion{
			Scope:           scope,
			LocalName:       localName,
			OccurrenceCount: 1,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			Status:          domain.SuggestionPending,
		})
	}
	return s.writeSuggestions(suggestions)
}

// PendingSuggestions lists pending rows for a scope, most frequent first.
func (s *Store) PendingSuggestions(_ context.Context, scope domain.Scope, limit int) ([]domain.MappingSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readSuggestions()
	if err != nil {
		return nil, err
	}
	var pending []domain.MappingSuggestion
	for _, sg := range all {
		if sg.Scope == scope && sg.Status == domain.SuggestionPending {
			pending = append(pending, sg)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].OccurrenceCount != pending[j].OccurrenceCount {
			return pending[i].OccurrenceCount > pending[j].OccurrenceCount
		}
		return pending[i].LocalName < pending[j].LocalName
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// PendingSuggestionCount counts pending rows for a scope.
func (s *Store) PendingSuggestionCount(ctx context.Context, scope domain.Scope) (int, error) {
	pending, err := s.PendingSuggestions(ctx, scope, 0)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// AddEntity inserts or updates a row in entities.csv.
func (s *Store) AddEntity(_ context.Context, entity domain.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities, err := s.readEntities()
	if err != nil {
		return err
	}
	found := false
	for i := range entities {
		if entities[i].ID == entity.ID {
			entities[i] = entity
			found = true
			break
		}
	}
	if !found {
		entities = append(entities, entity)
	}
	return s.writeEntities(entities)
}

// AddMapping inserts or repoints a row in mappings.csv.
func (s *Store) AddMapping(_ context.Context, mapping domain.LocalMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMapping(mapping)
}

func (s *Store) upsertMapping(mapping domain.LocalMapping) error {
	mappings, err := s.readMappings()
	if err != nil {
		return err
	}
	found := false
	for i := range mappings {
		if mappings[i].Scope == mapping.Scope && mappings[i].LocalName == mapping.LocalName {
			mappings[i] = mapping
			found = true
			break
		}
	}
	if !found {
		mappings = append(mappings, mapping)
	}
	return s.writeMappings(mappings)
}

// ApproveSuggestion flips a pending suggestion to approved and adds the
// mapping.
func (s *Store) ApproveSuggestion(_ context.Context, scope domain.Scope, localName, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	suggestions, err := s.readSuggestions()
	if err != nil {
		return err
	}
	found := false
	for i := range suggestions {
		if suggestions[i].Scope == scope && suggestions[i].LocalName == localName &&
			suggestions[i].Status == domain.SuggestionPending {
			suggestions[i].Status = domain.SuggestionApproved
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no pending suggestion %q in scope %s", localName, scope)
	}
	if err := s.writeSuggestions(suggestions); err != nil {
		return err
	}
	return s.upsertMapping(domain.LocalMapping{
		Scope:     scope,
		LocalName: localName,
		EntityID:  entityID,
		IsPrimary: true,
	})
}

// MappingStatistics summarizes the reference files for one scope.
func (s *Store) MappingStatistics(ctx context.Context, scope domain.Scope) (domain.MappingStatistics, error) {
	var stats domain.MappingStatistics

	entities, err := s.Entities(ctx)
	if err != nil {
		return stats, err
	}
	stats.Entities = len(entities)

	mappings, err := s.MappingsForScope(ctx, scope)
	if err != nil {
		return stats, err
	}
	stats.Mappings = len(mappings)
	for _, m := range mappings {
		if m.IsPrimary {
			stats.PrimaryMappings++
		}
		if m.IsAlias {
			stats.AliasMappings++
		}
	}

	pending, err := s.PendingSuggestionCount(ctx, scope)
	if err != nil {
		return stats, err
	}
	stats.PendingSuggestions = pending
	return stats, nil
}

func (s *Store) readEntities() ([]domain.CanonicalEntity, error) {
	records, err := s.readFile(entitiesFile, len(entityHeader))
	if err != nil {
		return nil, err
	}
	entities := make([]domain.CanonicalEntity, 0, len(records))
	for _, rec := range records {
		entities = append(entities, domain.CanonicalEntity{
			ID:        rec[0],
			NameEn:    rec[1],
			NameLocal: rec[2],
			Category:  rec[3],
			ICD10:     rec[4],
			ICD11:     rec[5],
		})
	}
	return entities, nil
}

func (s *Store) writeEntities(entities []domain.CanonicalEntity) error {
	records := make([][]string, 0, len(entities))
	for _, e := range entities {
		records = append(records, []string{e.ID, e.NameEn, e.NameLocal, e.Category, e.ICD10, e.ICD11})
	}
	return s.writeFile(entitiesFile, entityHeader, records)
}

func (s *Store) readMappings() ([]domain.LocalMapping, error) {
	records, err := s.readFile(mappingsFile, len(mappingHeader))
	if err != nil {
		return nil, err
	}
	mappings := make([]domain.LocalMapping, 0, len(records))
	for _, rec := range records {
		scope, err := parseScope(rec[0])
		if err != nil {
			s.logger.Warn("skipping mapping row", "file", mappingsFile, "scope", rec[0], "error", err)
			continue
		}
		priority, _ := strconv.Atoi(rec[5])
		mappings = append(mappings, domain.LocalMapping{
			Scope:     scope,
			LocalName: rec[1],
			EntityID:  rec[2],
			IsPrimary: parseBool(rec[3]),
			IsAlias:   parseBool(rec[4]),
			Priority:  priority,
		})
	}
	return mappings, nil
}

func (s *Store) writeMappings(mappings []domain.LocalMapping) error {
	records := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		records = append(records, []string{
			m.Scope.Key(), m.LocalName, m.EntityID,
			strconv.FormatBool(m.IsPrimary), strconv.FormatBool(m.IsAlias),
			strconv.Itoa(m.Priority),
		})
	}
	return s.writeFile(mappingsFile, mappingHeader, records)
}

func (s *Store) readSuggestions() ([]domain.MappingSuggestion, error) {
	records, err := s.readFile(suggestionsFile, len(suggestionHeader))
	if err != nil {
		return nil, err
	}
	suggestions := make([]domain.MappingSuggestion, 0, len(records))
	for _, rec := range records {
		scope, err := parseScope(rec[0])
		if err != nil {
			s.logger.Warn("skipping suggestion row", "file", suggestionsFile, "scope", rec[0], "error", err)
			continue
		}
		count, _ := strconv.Atoi(rec[2])
		firstSeen, _ := time.Parse(time.RFC3339, rec[3])
		lastSeen, _ := time.Parse(time.RFC3339, rec[4])
		suggestions = append(suggestions, domain.MappingSuggestion{
			Scope:           scope,
			LocalName:       rec[1],
			OccurrenceCount: count,
			FirstSeenAt:     firstSeen,
			LastSeenAt:      lastSeen,
			Status:          domain.SuggestionStatus(rec[5]),
		})
	}
	return suggestions, nil
}

func (s *Store) writeSuggestions(suggestions []domain.MappingSuggestion) error {
	records := make([][]string, 0, len(suggestions))
	for _, sg := range suggestions {
		records = append(records, []string{
			sg.Scope.Key(), sg.LocalName,
			strconv.Itoa(sg.OccurrenceCount),
			sg.FirstSeenAt.Format(time.RFC3339),
			sg.LastSeenAt.Format(time.RFC3339),
			string(sg.Status),
		})
	}
	return s.writeFile(suggestionsFile, suggestionHeader, records)
}

// readFile returns data records (header excluded). A missing file is an empty
// table.
func (s *Store) readFile(name string, want int) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = want
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

// writeFile rewrites a table atomically via a temp file in the same dir.
func (s *Store) writeFile(name string, header []string, records [][]string) error {
	tmp, err := os.CreateTemp(s.dir, name+".*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if err := writer.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// parseScope splits a "CN_zh" key back into a scope.
func parseScope(key string) (domain.Scope, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '_' {
			return domain.Scope{Country: key[:i], Language: key[i+1:]}, nil
		}
	}
	return domain.Scope{}, fmt.Errorf("malformed scope key %q", key)
}

// parseBool accepts true/false and 0/1 so hand-edited files stay forgiving.
func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
