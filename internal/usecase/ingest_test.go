package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

var scopeCN = domain.Scope{Country: "CN", Language: "zh"}

type fakeSource struct {
	name  string
	items []domain.DiscoveredItem
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Discover(context.Context) ([]domain.DiscoveredItem, error) {
	return f.items, f.err
}

type fakeFetcher struct {
	pages map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	content, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return content, nil
}

// fakeExtractor maps page content verbatim to a prepared result.
type fakeExtractor struct {
	results map[string]domain.TableResult
}

func (f *fakeExtractor) Extract(content []byte, _ string) domain.TableResult {
	result, ok := f.results[string(content)]
	if !ok {
		return domain.TableResult{Status: domain.TableFailed, Reason: "no table"}
	}
	return result
}

type fakeResolver struct {
	mu      sync.Mutex
	table   map[string]string
	pending map[string]int
}

func (f *fakeResolver) Resolve(_ context.Context, localName string, _ domain.Scope) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.table[localName]; ok {
		return id, true, nil
	}
	f.pending[localName]++
	return "", false, nil
}

type fakeFactStore struct {
	mu    sync.Mutex
	facts map[string]domain.Fact
}

func newFakeFactStore() *fakeFactStore {
	return &fakeFactStore{facts: map[string]domain.Fact{}}
}

func factKey(f domain.Fact) string {
	return f.Time.Format(time.DateOnly) + "|" + f.EntityID + "|" + f.Country + "|" + f.Region
}

func (f *fakeFactStore) Upsert(_ context.Context, facts []domain.Fact) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fact := range facts {
		f.facts[factKey(fact)] = fact
	}
	return len(facts), nil
}

func (f *fakeFactStore) HighWaterMark(_ context.Context, country string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mark time.Time
	found := false
	for _, fact := range f.facts {
		if fact.Country == country && fact.Time.After(mark) {
			mark = fact.Time
			found = true
		}
	}
	return mark, found, nil
}

func (f *fakeFactStore) QueryFacts(context.Context, string, time.Time, time.Time) ([]domain.Fact, error) {
	return nil, nil
}

func (f *fakeFactStore) Statistics(context.Context, string) (domain.FactStatistics, error) {
	return domain.FactStatistics{}, nil
}

func (f *fakeFactStore) get(t *testing.T, key string) domain.Fact {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[key]
	require.True(t, ok, "fact %s not written", key)
	return fact
}

// fakeMappingStore only backs the pending-suggestion count; the resolver fake
// tracks suggestions itself.
type fakeMappingStore struct {
	ports.MappingStore
	resolver *fakeResolver
}

func (f *fakeMappingStore) PendingSuggestionCount(context.Context, domain.Scope) (int, error) {
	f.resolver.mu.Lock()
	defer f.resolver.mu.Unlock()
	return len(f.resolver.pending), nil
}

type fakeRunStore struct {
	mu       sync.Mutex
	started  []domain.CrawlRun
	finished []domain.CrawlRun
}

func (f *fakeRunStore) StartRun(_ context.Context, run domain.CrawlRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, run)
	return nil
}

func (f *fakeRunStore) FinishRun(_ context.Context, run domain.CrawlRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return nil
}

type fixture struct {
	service  *Service
	source   *fakeSource
	resolver *fakeResolver
	facts    *fakeFactStore
	runs     *fakeRunStore
}

func newFixture(source *fakeSource, fetcher *fakeFetcher, extractor *fakeExtractor, table map[string]string) *fixture {
	resolver := &fakeResolver{table: table, pending: map[string]int{}}
	facts := newFakeFactStore()
	runs := &fakeRunStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewService(
		[]SourceBinding{{Source: source, Scope: scopeCN, Label: "monthly bulletin"}},
		fetcher, extractor, resolver, facts,
		&fakeMappingStore{resolver: resolver}, runs,
		"CN", 2, logger,
	)
	return &fixture{service: service, source: source, resolver: resolver, facts: facts, runs: runs}
}

func TestRunIngestsNewBulletin(t *testing.T) {
	t.Parallel()

	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

	source := &fakeSource{name: "ndcpa-bulletin", items: []domain.DiscoveredItem{
		{SourceTag: "ndcpa-bulletin", Title: "feb", URL: "https://b.example/feb", PublishedAt: &feb, PeriodLabel: "2024 February"},
		{SourceTag: "ndcpa-bulletin", Title: "jan", URL: "https://b.example/jan", PublishedAt: &jan},
		{SourceTag: "ndcpa-bulletin", Title: "draft", URL: "https://b.example/draft"},
	}}
	fetcher := &fakeFetcher{pages: map[string][]byte{"https://b.example/feb": []byte("feb-page")}}
	extractor := &fakeExtractor{results: map[string]domain.TableResult{
		"feb-page": {Status: domain.TableOK, Rows: []domain.RawRow{
			{LocalName: "新型冠状病毒感染", Cases: "120", Deaths: "5"},
			{LocalName: "登革热", Cases: "-10", Deaths: ""},
			{LocalName: "不明原因肺炎", Cases: "3", Deaths: "0"},
		}},
	}}
	fx := newFixture(source, fetcher, extractor, map[string]string{
		"新型冠状病毒感染": "D004",
		"登革热":      "D010",
	})

	// Seed one January fact so the mark sits at 2024-01-01.
	_, err := fx.facts.Upsert(context.Background(), []domain.Fact{{Time: jan, EntityID: "D001", Country: "CN"}})
	require.NoError(t, err)

	report, err := fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, 3, report.Discovered)
	require.Equal(t, 1, report.NewItems, "only February is past the mark")
	require.Equal(t, 2, report.SkippedItems, "January at the mark plus the undated draft")
	require.Zero(t, report.FailedItems)
	require.Equal(t, 3, report.Summary.RowsExtracted)
	require.Equal(t, 2, report.Summary.RowsResolved)
	require.Equal(t, 1, report.Summary.RowsUnresolved)
	require.Equal(t, 2, report.Summary.FactsWritten)
	require.Equal(t, 1, report.PendingSuggestions)

	covid := fx.facts.get(t, "2024-02-01|D004|CN|")
	require.Equal(t, int64(120), *covid.Cases)
	require.Equal(t, int64(5), *covid.Deaths)
	require.Equal(t, "monthly bulletin", covid.Provenance.SourceLabel)
	require.Equal(t, "https://b.example/feb", covid.Provenance.SourceURL)

	dengue := fx.facts.get(t, "2024-02-01|D010|CN|")
	require.Nil(t, dengue.Cases, "sentinel must become absent, not a number")
	require.Nil(t, dengue.Deaths, "blank cell must become absent")

	require.Len(t, fx.runs.finished, 1)
	require.Equal(t, domain.RunCompleted, fx.runs.finished[0].Status)
	require.Equal(t, 2, fx.runs.finished[0].FactsWritten)

	// A second pass finds nothing new: the mark has advanced to February.
	report, err = fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Zero(t, report.NewItems)
	require.Zero(t, report.Summary.FactsWritten)
}

func TestRunForceReingestsBelowMark(t *testing.T) {
	t.Parallel()

	jan := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{name: "cdc-weekly", items: []domain.DiscoveredItem{
		{SourceTag: "cdc-weekly", Title: "jan", URL: "https://b.example/jan", PublishedAt: &jan},
	}}
	fetcher := &fakeFetcher{pages: map[string][]byte{"https://b.example/jan": []byte("jan-page")}}
	extractor := &fakeExtractor{results: map[string]domain.TableResult{
		"jan-page": {Status: domain.TableOK, Rows: []domain.RawRow{{LocalName: "登革热", Cases: "8", Deaths: "0"}}},
	}}
	fx := newFixture(source, fetcher, extractor, map[string]string{"登革热": "D010"})

	report, err := fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.NewItems)

	report, err = fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Zero(t, report.NewItems)

	report, err = fx.service.Run(context.Background(), RunOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.NewItems)
	require.Equal(t, 1, report.Summary.FactsWritten, "re-ingest overwrites in place")
}

func TestRunIsolatesFailedItems(t *testing.T) {
	t.Parallel()

	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{name: "cdc-weekly", items: []domain.DiscoveredItem{
		{SourceTag: "cdc-weekly", Title: "feb", URL: "https://b.example/feb", PublishedAt: &feb},
		{SourceTag: "cdc-weekly", Title: "mar", URL: "https://b.example/mar", PublishedAt: &mar},
	}}
	// February's page is missing; March extracts fine.
	fetcher := &fakeFetcher{pages: map[string][]byte{"https://b.example/mar": []byte("mar-page")}}
	extractor := &fakeExtractor{results: map[string]domain.TableResult{
		"mar-page": {Status: domain.TableOK, Rows: []domain.RawRow{{LocalName: "登革热", Cases: "2", Deaths: "0"}}},
	}}
	fx := newFixture(source, fetcher, extractor, map[string]string{"登革热": "D010"})

	report, err := fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.FailedItems)
	require.Equal(t, 1, report.Summary.FactsWritten)
}

func TestRunEmptyTableIsNotAFailure(t *testing.T) {
	t.Parallel()

	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{name: "cdc-weekly", items: []domain.DiscoveredItem{
		{SourceTag: "cdc-weekly", Title: "feb", URL: "https://b.example/feb", PublishedAt: &feb},
	}}
	fetcher := &fakeFetcher{pages: map[string][]byte{"https://b.example/feb": []byte("empty-page")}}
	extractor := &fakeExtractor{results: map[string]domain.TableResult{
		"empty-page": {Status: domain.TableEmpty},
	}}
	fx := newFixture(source, fetcher, extractor, nil)

	report, err := fx.service.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Zero(t, report.FailedItems)
	require.Zero(t, report.Summary.RowsExtracted)
}

func TestRunSurvivesOneFailedSource(t *testing.T) {
	t.Parallel()

	feb := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	healthy := &fakeSource{name: "cdc-weekly", items: []domain.DiscoveredItem{
		{SourceTag: "cdc-weekly", Title: "feb", URL: "https://b.example/feb", PublishedAt: &feb},
	}}
	broken := &fakeSource{name: "rss", err: errors.New("upstream down")}

	fetcher := &fakeFetcher{pages: map[string][]byte{"https://b.example/feb": []byte("feb-page")}}
	extractor := &fakeExtractor{results: map[string]domain.TableResult{
		"feb-page": {Status: domain.TableOK, Rows: []domain.RawRow{{LocalName: "登革热", Cases: "2", Deaths: "0"}}},
	}}
	resolver := &fakeResolver{table: map[string]string{"登革热": "D010"}, pending: map[string]int{}}
	facts := newFakeFactStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewService(
		[]SourceBinding{
			{Source: healthy, Scope: scopeCN, Label: "weekly"},
			{Source: broken, Scope: scopeCN, Label: "rss"},
		},
		fetcher, extractor, resolver, facts,
		&fakeMappingStore{resolver: resolver}, &fakeRunStore{},
		"CN", 2, logger,
	)

	report, err := service.Run(context.Background(), RunOptions{})
	require.NoError(t, err, "one healthy source keeps the run alive")
	require.Equal(t, 1, report.Summary.FactsWritten)

	service = NewService(
		[]SourceBinding{{Source: broken, Scope: scopeCN, Label: "rss"}},
		fetcher, extractor, resolver, facts,
		&fakeMappingStore{resolver: resolver}, &fakeRunStore{},
		"CN", 2, logger,
	)
	_, err = service.Run(context.Background(), RunOptions{})
	require.Error(t, err, "a run where every source failed must fail")
}

func TestRunSourceFilter(t *testing.T) {
	t.Parallel()

	source := &fakeSource{name: "cdc-weekly"}
	fx := newFixture(source, &fakeFetcher{}, &fakeExtractor{}, nil)

	_, err := fx.service.Run(context.Background(), RunOptions{SourceFilter: "nonexistent"})
	require.Error(t, err)

	report, err := fx.service.Run(context.Background(), RunOptions{SourceFilter: "cdc-weekly"})
	require.NoError(t, err)
	require.Zero(t, report.Discovered)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(91200), *parseCount("91,200"))
	require.Equal(t, int64(0), *parseCount("0"))
	require.Nil(t, parseCount("-10"), "upstream sentinel means not reported")
	require.Nil(t, parseCount(""))
	require.Nil(t, parseCount("n/a"))
	require.Nil(t, parseCount("—"))
}
