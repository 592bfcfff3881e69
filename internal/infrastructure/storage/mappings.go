package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

var _ ports.MappingStore = (*Store)(nil)

// MappingsForScope loads the full mapping table for one scope.
func (s *Store) MappingsForScope(ctx context.Context, scope domain.Scope) ([]domain.LocalMapping, error) {
	query, args, err := s.sb.Select("local_name", "entity_id", "is_primary", "is_alias", "priority", "usage_count", "last_used_at").
		From("local_mappings").
		Where(sq.Eq{"scope": scope.Key()}).
		OrderBy("priority DESC", "local_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build mappings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings for %s: %w", scope, err)
	}
	defer rows.Close()

	var mappings []domain.LocalMapping
	for rows.Next() {
		m := domain.LocalMapping{Scope: scope}
		var lastUsed sql.NullTime
		if err := rows.Scan(&m.LocalName, &m.EntityID, &m.IsPrimary, &m.IsAlias, &m.Priority, &m.UsageCount, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if lastUsed.Valid {
			t := lastUsed.Time.UTC()
			m.LastUsedAt = &t
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Entities returns the whole canonical vocabulary.
func (s *Store) Entities(ctx context.Context) ([]domain.CanonicalEntity, error) {
	query, args, err := s.sb.Select("id", "name_en", "name_local", "category", "icd10", "icd11").
		From("canonical_entities").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entities query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.CanonicalEntity
	for rows.Next() {
		var e domain.CanonicalEntity
		if err := rows.Scan(&e.ID, &e.NameEn, &e.NameLocal, &e.Category, &e.ICD10, &e.ICD11); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// TouchMapping bumps usage statistics for a mapping that just matched.
func (s *Store) TouchMapping(ctx context.Context, scope domain.Scope, localName string) error {
	query, args, err := s.sb.Update("local_mappings").
		Set("usage_count", sq.Expr("usage_count + 1")).
		Set("last_used_at", s.now()).
		Where(sq.Eq{"scope": scope.Key(), "local_name": localName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch mapping %s/%s: %w", scope, localName, err)
	}
	return nil
}

// RecordSuggestion stores an unresolved local name for curation. Repeats of
// the same name within a scope increment occurrence_count on the one row.
func (s *Store) RecordSuggestion(ctx context.Context, scope domain.Scope, localName string) error {
	now := s.now()
	query, args, err := s.sb.Insert("mapping_suggestions").
		Columns("scope", "local_name", "occurrence_count", "first_seen_at", "last_seen_at", "status").
		Values(scope.Key(), localName, 1, now, now, string(domain.SuggestionPending)).
		Suffix(`ON CONFLICT (scope, local_name) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = excluded.last_seen_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build suggestion upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record suggestion %s/%s: %w", scope, localName, err)
	}
	return nil
}

// PendingSuggestions lists unresolved names for a scope, most frequent first.
func (s *Store) PendingSuggestions(ctx context.Context, scope domain.Scope, limit int) ([]domain.MappingSuggestion, error) {
	builder := s.sb.Select("local_name", "occurrence_count", "first_seen_at", "last_seen_at", "status").
		From("mapping_suggestions").
		Where(sq.Eq{"scope": scope.Key(), "status": string(domain.SuggestionPending)}).
		OrderBy("occurrence_count DESC", "local_name")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build suggestions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions for %s: %w", scope, err)
	}
	defer rows.Close()

	var suggestions []domain.MappingSuggestion
	for rows.Next() {
		sg := domain.MappingSuggestion{Scope: scope}
		var status string
		if err := rows.Scan(&sg.LocalName, &sg.OccurrenceCount, &sg.FirstSeenAt, &sg.LastSeenAt, &status); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		sg.Status = domain.SuggestionStatus(status)
		sg.FirstSeenAt = sg.FirstSeenAt.UTC()
		sg.LastSeenAt = sg.LastSeenAt.UTC()
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

// PendingSuggestionCount counts unresolved names awaiting curation.
func (s *Store) PendingSuggestionCount(ctx context.Context, scope domain.Scope) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From("mapping_suggestions").
		Where(sq.Eq{"scope": scope.Key(), "status": string(domain.SuggestionPending)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build suggestion count query: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count suggestions for %s: %w", scope, err)
	}
	return count, nil
}

// AddEntity inserts or updates a canonical entity. The ID is stable; only the
// descriptive fields may change.
func (s *Store) AddEntity(ctx context.Context, entity domain.CanonicalEntity) error {
	query, args, err := s.sb.Insert("canonical_entities").
		Columns("id", "name_en", "name_local", "category", "icd10", "icd11").
		Values(entity.ID, entity.NameEn, entity.NameLocal, entity.Category, entity.ICD10, entity.ICD11).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name_en = excluded.name_en,
			name_local = excluded.name_local,
			category = excluded.category,
			icd10 = excluded.icd10,
			icd11 = excluded.icd11`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build entity upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
	}
	return nil
}

// AddMapping inserts or repoints a local-name mapping.
func (s *Store) AddMapping(ctx context.Context, mapping domain.LocalMapping) error {
	return s.addMapping(ctx, s.db, mapping)
}

func (s *Store) addMapping(ctx context.Context, db execer, mapping domain.LocalMapping) error {
	query, args, err := s.sb.Insert("local_mappings").
		Columns("scope", "local_name", "entity_id", "is_primary", "is_alias", "priority").
		Values(mapping.Scope.Key(), mapping.LocalName, mapping.EntityID, mapping.IsPrimary, mapping.IsAlias, mapping.Priority).
		Suffix(`ON CONFLICT (scope, local_name) DO UPDATE SET
			entity_id = excluded.entity_id,
			is_primary = excluded.is_primary,
			is_alias = excluded.is_alias,
			priority = excluded.priority`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mapping upsert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert mapping %s/%s: %w", mapping.Scope, mapping.LocalName, err)
	}
	return nil
}

// ApproveSuggestion promotes a pending suggestion into a live mapping. The
// status flip and the mapping insert commit together or not at all.
func (s *Store) ApproveSuggestion(ctx context.Context, scope domain.Scope, localName, entityID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Update("mapping_suggestions").
		Set("status", string(domain.SuggestionApproved)).
		Where(sq.Eq{"scope": scope.Key(), "local_name": localName, "status": string(domain.SuggestionPending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build approval query: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("approve suggestion %s/%s: %w", scope, localName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve suggestion %s/%s: %w", scope, localName, err)
	}
	if affected == 0 {
		return fmt.Errorf("no pending suggestion %q in scope %s", localName, scope)
	}

	if err := s.addMapping(ctx, tx, domain.LocalMapping{
		Scope:     scope,
		LocalName: localName,
		EntityID:  entityID,
		IsPrimary: true,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// MappingStatistics summarizes the reference tables for one scope.
func (s *Store) MappingStatistics(ctx context.Context, scope domain.Scope) (domain.MappingStatistics, error) {
	var stats domain.MappingStatistics

	entityQuery, _, err := s.sb.Select("COUNT(*)").From("canonical_entities").ToSql()
	if err != nil {
		return stats, fmt.Errorf("build entity count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, entityQuery).Scan(&stats.Entities); err != nil {
		return stats, fmt.Errorf("count entities: %w", err)
	}

	query, args, err := s.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN is_primary THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN is_alias THEN 1 ELSE 0 END), 0)").
		From("local_mappings").
		Where(sq.Eq{"scope": scope.Key()}).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build mapping count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Mappings, &stats.PrimaryMappings, &stats.AliasMappings); err != nil {
		return stats, fmt.Errorf("count mappings for %s: %w", scope, err)
	}

	pending, err := s.PendingSuggestionCount(ctx, scope)
	if err != nil {
		return stats, err
	}
	stats.PendingSuggestions = pending
	return stats, nil
}
