package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

var _ ports.RunStore = (*Store)(nil)

// StartRun records a crawl run in the "running" state.
func (s *Store) StartRun(ctx context.Context, run domain.CrawlRun) error {
	query, args, err := s.sb.Insert("crawl_runs").
		Columns("id", "country", "source", "status", "started_at").
		Values(run.ID, run.Country, run.Source, string(run.Status), run.StartedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun closes out a run with its final status and counters.
func (s *Store) FinishRun(ctx context.Context, run domain.CrawlRun) error {
	builder := s.sb.Update("crawl_runs").
		Set("status", string(run.Status)).
		Set("discovered", run.Discovered).
		Set("new_items", run.NewItems).
		Set("facts_written", run.FactsWritten).
		Set("error", run.Error).
		Where(sq.Eq{"id": run.ID})
	if run.FinishedAt != nil {
		builder = builder.Set("finished_at", run.FinishedAt.UTC())
	} else {
		builder = builder.Set("finished_at", s.now())
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build run update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}
