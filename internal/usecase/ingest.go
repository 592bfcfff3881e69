// Package usecase orchestrates one ingestion run: discover bulletins, diff
// them against the high-water mark, extract and resolve their tables, and
// upsert the resulting facts.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

// SourceBinding ties a source adapter to the scope its bulletins belong to
// and the label stamped into fact provenance.
type SourceBinding struct {
	Source ports.Source
	Scope  domain.Scope
	Label  string
}

// RunOptions tune a single invocation.
type RunOptions struct {
	// Force re-ingests items at or below the high-water mark.
	Force bool
	// SourceFilter restricts the run to one source by name; empty runs all.
	SourceFilter string
}

// Service runs the pipeline end to end.
type Service struct {
	bindings    []SourceBinding
	fetcher     ports.ContentFetcher
	extractor   ports.Extractor
	resolver    ports.Resolver
	facts       ports.FactStore
	mappings    ports.MappingStore
	runs        ports.RunStore
	country     string
	concurrency int
	logger      *slog.Logger
	newRunID    func() string
	now         func() time.Time
}

// NewService wires the pipeline. Concurrency bounds the item workers; values
// below one are treated as one.
func NewService(
	bindings []SourceBinding,
	fetcher ports.ContentFetcher,
	extractor ports.Extractor,
	resolver ports.Resolver,
	facts ports.FactStore,
	mappings ports.MappingStore,
	runs ports.RunStore,
	country string,
	concurrency int,
	logger *slog.Logger,
) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		bindings:    bindings,
		fetcher:     fetcher,
		extractor:   extractor,
		resolver:    resolver,
		facts:       facts,
		mappings:    mappings,
		runs:        runs,
		country:     country,
		concurrency: concurrency,
		logger:      logger,
		newRunID:    uuid.NewString,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one ingestion pass and returns its report. Failures of single
// sources or items degrade the report; Run itself fails only when nothing
// could be done at all.
func (s *Service) Run(ctx context.Context, opts RunOptions) (domain.RunReport, error) {
	bindings := s.selectBindings(opts.SourceFilter)
	if len(bindings) == 0 {
		return domain.RunReport{}, fmt.Errorf("no source matches %q", opts.SourceFilter)
	}

	run := domain.CrawlRun{
		ID:        s.newRunID(),
		Country:   s.country,
		Source:    sourceNames(bindings),
		Status:    domain.RunRunning,
		StartedAt: s.now(),
	}
	if err := s.runs.StartRun(ctx, run); err != nil {
		s.logger.Warn("run ledger unavailable", "run", run.ID, "error", err)
	}

	report, err := s.execute(ctx, bindings, opts)

	run.Status = domain.RunCompleted
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		if ctx.Err() != nil {
			run.Status = domain.RunCancelled
		}
	}
	finished := s.now()
	run.FinishedAt = &finished
	run.Discovered = report.Discovered
	run.NewItems = report.NewItems
	run.FactsWritten = report.Summary.FactsWritten
	if ferr := s.runs.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		s.logger.Warn("run ledger update failed", "run", run.ID, "error", ferr)
	}
	return report, err
}

func (s *Service) execute(ctx context.Context, bindings []SourceBinding, opts RunOptions) (domain.RunReport, error) {
	var report domain.RunReport

	discovered, sourceErrs := s.discover(ctx, bindings)
	report.Discovered = len(discovered)
	if len(discovered) == 0 && len(sourceErrs) == len(bindings) {
		return report, fmt.Errorf("all sources failed: %w", sourceErrs[0])
	}

	mark, haveMark, err := s.facts.HighWaterMark(ctx, s.country)
	if err != nil {
		return report, fmt.Errorf("high-water mark: %w", err)
	}
	diff := Diff(discovered, mark, haveMark, opts.Force, s.logger)
	report.NewItems = len(diff.New)
	report.SkippedItems = diff.Skipped + diff.Undated

	s.logger.Info("diff complete",
		"discovered", report.Discovered, "new", report.NewItems,
		"skipped", diff.Skipped, "undated", diff.Undated, "force", opts.Force)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range diff.New {
		binding, ok := s.bindingFor(bindings, item.SourceTag)
		if !ok {
			continue
		}
		g.Go(func() error {
			summary, err := s.ingestItem(gctx, binding, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.FailedItems++
				s.logger.Error("item failed", "source", item.SourceTag, "url", item.URL, "error", err)
				return nil // one bad bulletin must not stop the rest
			}
			report.Summary.Add(summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.PendingSuggestions = s.pendingSuggestions(ctx, bindings)
	return report, nil
}

// discover queries all sources in parallel. A failing source contributes
// nothing; its error is collected, not fatal.
func (s *Service) discover(ctx context.Context, bindings []SourceBinding) ([]domain.DiscoveredItem, []error) {
	var (
		mu    sync.Mutex
		items []domain.DiscoveredItem
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		g.Go(func() error {
			found, err := b.Source.Discover(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				s.logger.Error("source discovery failed", "source", b.Source.Name(), "error", err)
				return nil
			}
			items = append(items, found...)
			s.logger.Info("source discovered", "source", b.Source.Name(), "items", len(found))
			return nil
		})
	}
	_ = g.Wait()
	return items, errs
}

// ingestItem runs fetch, extract, resolve, upsert for one bulletin.
func (s *Service) ingestItem(ctx context.Context, binding SourceBinding, item domain.DiscoveredItem) (domain.IngestSummary, error) {
	var summary domain.IngestSummary

	content, err := s.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return summary, fmt.Errorf("fetch: %w", err)
	}

	result := s.extractor.Extract(content, binding.Scope.Language)
	switch result.Status {
	case domain.TableFailed:
		return summary, fmt.Errorf("extract: %s", result.Reason)
	case domain.TableEmpty:
		s.logger.Info("bulletin has no data rows", "url", item.URL, "period", item.PeriodLabel)
		return summary, nil
	}

	facts := make([]domain.Fact, 0, len(result.Rows))
	for _, row := range result.Rows {
		summary.RowsExtracted++

		entityID, ok, err := s.resolver.Resolve(ctx, row.LocalName, binding.Scope)
		if err != nil {
			return summary, fmt.Errorf("resolve %q: %w", row.LocalName, err)
		}
		if !ok {
			summary.RowsUnresolved++
			continue
		}
		summary.RowsResolved++

		facts = append(facts, domain.Fact{
			Time:     item.PublishedAt.UTC(),
			EntityID: entityID,
			Country:  binding.Scope.Country,
			Cases:    parseCount(row.Cases),
			Deaths:   parseCount(row.Deaths),
			Provenance: domain.Provenance{
				SourceURL:   item.URL,
				SourceLabel: binding.Label,
				RawRowRef:   row.LocalName,
			},
		})
	}

	written, err := s.facts.Upsert(ctx, facts)
	if err != nil {
		return summary, fmt.Errorf("upsert: %w", err)
	}
	summary.FactsWritten = written

	s.logger.Info("bulletin ingested",
		"url", item.URL, "period", item.PeriodLabel,
		"rows", summary.RowsExtracted, "resolved", summary.RowsResolved,
		"unresolved", summary.RowsUnresolved, "written", written)
	return summary, nil
}

func (s *Service) selectBindings(filter string) []SourceBinding {
	if filter == "" {
		return s.bindings
	}
	var selected []SourceBinding
	for _, b := range s.bindings {
		if b.Source.Name() == filter {
			selected = append(selected, b)
		}
	}
	return selected
}

func (s *Service) bindingFor(bindings []SourceBinding, sourceTag string) (SourceBinding, bool) {
	for _, b := range bindings {
		if b.Source.Name() == sourceTag {
			return b, true
		}
	}
	return SourceBinding{}, false
}

// pendingSuggestions sums the curation backlog over the distinct scopes in
// play. Best effort for reporting only.
func (s *Service) pendingSuggestions(ctx context.Context, bindings []SourceBinding) int {
	seen := map[string]struct{}{}
	total := 0
	for _, b := range bindings {
		if _, ok := seen[b.Scope.Key()]; ok {
			continue
		}
		seen[b.Scope.Key()] = struct{}{}
		count, err := s.mappings.PendingSuggestionCount(ctx, b.Scope)
		if err != nil {
			s.logger.Warn("suggestion count unavailable", "scope", b.Scope.Key(), "error", err)
			continue
		}
		total += count
	}
	return total
}

func sourceNames(bindings []SourceBinding) string {
	names := make([]string, 0, len(bindings))
	for _, b := range bindings {
		names = append(names, b.Source.Name())
	}
	return strings.Join(names, ",")
}

// parseCount coerces a raw table cell into a count. The upstream sentinel for
// "not reported" and anything non-numeric map to absent, never to zero.
func parseCount(raw string) *int64 {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return nil
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || n == domain.SentinelUnknown {
		return nil
	}
	return &n
}
