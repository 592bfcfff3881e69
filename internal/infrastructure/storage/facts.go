package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

var _ ports.FactStore = (*Store)(nil)

var factColumns = []string{
	"time", "entity_id", "country", "region",
	"cases", "deaths", "incidence", "mortality",
	"source_url", "source_label", "raw_row_ref",
}

const factConflict = `ON CONFLICT (time, entity_id, country, region) DO UPDATE SET
	cases = excluded.cases,
	deaths = excluded.deaths,
	incidence = excluded.incidence,
	mortality = excluded.mortality,
	source_url = excluded.source_url,
	source_label = excluded.source_label,
	raw_row_ref = excluded.raw_row_ref`

// Upsert writes facts keyed by (time, entity, country, region). Re-ingesting
// the same bulletin overwrites rows in place, so the call is idempotent. The
// whole slice goes in one transaction first; if that keeps failing, rows are
// retried individually so one bad row cannot sink a bulletin.
func (s *Store) Upsert(ctx context.Context, facts []domain.Fact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	err := s.retry.Do(ctx, func() error {
		return s.upsertBatch(ctx, facts)
	})
	if err == nil {
		return len(facts), nil
	}
	s.logger.Warn("batch upsert failed, retrying rows individually", "rows", len(facts), "error", err)

	written := 0
	for _, f := range facts {
		if rowErr := s.upsertOne(ctx, s.db, f); rowErr != nil {
			s.logger.Error("fact rejected",
				"time", f.Time.Format(time.DateOnly),
				"entity", f.EntityID,
				"country", f.Country,
				"source", f.Provenance.SourceURL,
				"error", rowErr)
			continue
		}
		written++
	}
	if written == 0 {
		return 0, fmt.Errorf("upsert facts: %w", err)
	}
	return written, nil
}

func (s *Store) upsertBatch(ctx context.Context, facts []domain.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, f := range facts {
		if err := s.upsertOne(ctx, tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertOne(ctx context.Context, db execer, f domain.Fact) error {
	query, args, err := s.sb.Insert("facts").
		Columns(factColumns...).
		Values(f.Time.UTC(), f.EntityID, f.Country, f.Region,
			f.Cases, f.Deaths, f.Incidence, f.Mortality,
			f.Provenance.SourceURL, f.Provenance.SourceLabel, f.Provenance.RawRowRef).
		Suffix(factConflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert fact %s/%s: %w", f.EntityID, f.Time.Format(time.DateOnly), err)
	}
	return nil
}

// HighWaterMark returns the latest fact timestamp for a country. Rows dated in
// the future are ignored so one bad upstream date cannot block all later
// bulletins from being seen as new.
func (s *Store) HighWaterMark(ctx context.Context, country string) (time.Time, bool, error) {
	cutoff := s.now().Truncate(24 * time.Hour).Add(24 * time.Hour)

	query, args, err := s.sb.Select("time").
		From("facts").
		Where(sq.Eq{"country": country}).
		Where(sq.Lt{"time": cutoff}).
		OrderBy("time DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build high-water query: %w", err)
	}

	var mark time.Time
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&mark); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("high-water mark for %s: %w", country, err)
	}
	return mark.UTC(), true, nil
}

// QueryFacts returns facts for a country in [from, to], ordered by time then
// entity.
func (s *Store) QueryFacts(ctx context.Context, country string, from, to time.Time) ([]domain.Fact, error) {
	query, args, err := s.sb.Select(factColumns...).
		From("facts").
		Where(sq.Eq{"country": country}).
		Where(sq.GtOrEq{"time": from.UTC()}).
		Where(sq.LtOrEq{"time": to.UTC()}).
		OrderBy("time", "entity_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build facts query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts for %s: %w", country, err)
	}
	defer rows.Close()

	var facts []domain.Fact
	for rows.Next() {
		var f domain.Fact
		if err := rows.Scan(&f.Time, &f.EntityID, &f.Country, &f.Region,
			&f.Cases, &f.Deaths, &f.Incidence, &f.Mortality,
			&f.Provenance.SourceURL, &f.Provenance.SourceLabel, &f.Provenance.RawRowRef); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Time = f.Time.UTC()
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Statistics summarizes the fact table for one country.
func (s *Store) Statistics(ctx context.Context, country string) (domain.FactStatistics, error) {
	var stats domain.FactStatistics

	query, args, err := s.sb.Select("COUNT(*)", "COUNT(DISTINCT entity_id)").
		From("facts").
		Where(sq.Eq{"country": country}).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build stats query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalFacts, &stats.DistinctEntities); err != nil {
		return stats, fmt.Errorf("fact counts for %s: %w", country, err)
	}
	if stats.TotalFacts == 0 {
		return stats, nil
	}

	earliest, err := s.boundaryTime(ctx, country, "time ASC")
	if err != nil {
		return stats, err
	}
	latest, err := s.boundaryTime(ctx, country, "time DESC")
	if err != nil {
		return stats, err
	}
	stats.EarliestTime = earliest
	stats.LatestTime = latest
	return stats, nil
}

// boundaryTime selects the first timestamp under the given order. Kept as a
// plain column select so both drivers scan it as time.Time.
func (s *Store) boundaryTime(ctx context.Context, country, order string) (*time.Time, error) {
	query, args, err := s.sb.Select("time").
		From("facts").
		Where(sq.Eq{"country": country}).
		OrderBy(order).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build boundary query: %w", err)
	}
	var t time.Time
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("boundary time for %s: %w", country, err)
	}
	t = t.UTC()
	return &t, nil
}
