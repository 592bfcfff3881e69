package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/retry"
)

var (
	testScope = domain.Scope{Country: "CN", Language: "en"}
	testNow   = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite3", ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	store.now = func() time.Time { return testNow }
	store.retry = retry.Policy{MaxAttempts: 2}

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func fact(day int, entity string, cases *int64) domain.Fact {
	return domain.Fact{
		Time:     time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC),
		EntityID: entity,
		Country:  "CN",
		Cases:    cases,
		Deaths:   i64(0),
		Provenance: domain.Provenance{
			SourceURL:   "https://example.org/bulletin",
			SourceLabel: "cdc-weekly",
		},
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	facts := []domain.Fact{fact(1, "D004", i64(120)), fact(1, "D010", i64(8))}

	written, err := store.Upsert(ctx, facts)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	// Same key, new payload: the row must be replaced, not duplicated.
	facts[0].Cases = i64(125)
	written, err = store.Upsert(ctx, facts)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	got, err := store.QueryFacts(ctx, "CN",
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "D004", got[0].EntityID)
	require.Equal(t, int64(125), *got[0].Cases)
}

func TestUpsertPreservesMissingCounts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	f := fact(2, "D021", nil)
	f.Deaths = nil
	f.Incidence = f64(0.37)

	_, err := store.Upsert(ctx, []domain.Fact{f})
	require.NoError(t, err)

	got, err := store.QueryFacts(ctx, "CN", f.Time, f.Time)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Cases, "absent count must stay absent, not become zero")
	require.Nil(t, got[0].Deaths)
	require.InDelta(t, 0.37, *got[0].Incidence, 1e-9)
}

func TestUpsertFallsBackToRowWrites(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	bad := fact(3, "", i64(10)) // violates the entity_id check
	facts := []domain.Fact{fact(3, "D001", i64(1)), bad, fact(3, "D002", i64(2))}

	written, err := store.Upsert(ctx, facts)
	require.NoError(t, err)
	require.Equal(t, 2, written, "good rows survive a poisoned batch")

	got, err := store.QueryFacts(ctx, "CN", bad.Time, bad.Time)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestHighWaterMarkIgnoresFutureDates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.HighWaterMark(ctx, "CN")
	require.NoError(t, err)
	require.False(t, ok, "empty table has no high-water mark")

	future := fact(1, "D001", i64(5))
	future.Time = time.Date(2099, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.Upsert(ctx, []domain.Fact{fact(1, "D001", i64(5)), future})
	require.NoError(t, err)

	mark, ok, err := store.HighWaterMark(ctx, "CN")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), mark,
		"a mistyped future date must not become the mark")
}

func TestRecordSuggestionAccumulates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSuggestion(ctx, testScope, "Camel flu"))
	require.NoError(t, store.RecordSuggestion(ctx, testScope, "Camel flu"))

	suggestions, err := store.PendingSuggestions(ctx, testScope, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, 2, suggestions[0].OccurrenceCount)
	require.Equal(t, domain.SuggestionPending, suggestions[0].Status)

	count, err := store.PendingSuggestionCount(ctx, testScope)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestApproveSuggestionPromotesToMapping(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddEntity(ctx, domain.CanonicalEntity{ID: "D055", NameEn: "Monkeypox"}))
	require.NoError(t, store.RecordSuggestion(ctx, testScope, "Monkeypox"))

	require.NoError(t, store.ApproveSuggestion(ctx, testScope, "Monkeypox", "D055"))

	mappings, err := store.MappingsForScope(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, "D055", mappings[0].EntityID)
	require.True(t, mappings[0].IsPrimary)

	count, err := store.PendingSuggestionCount(ctx, testScope)
	require.NoError(t, err)
	require.Zero(t, count)

	err = store.ApproveSuggestion(ctx, testScope, "Monkeypox", "D055")
	require.Error(t, err, "a suggestion can be approved once")
}

func TestAddEntityAndMappingUpsert(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddEntity(ctx, domain.CanonicalEntity{ID: "D004", NameEn: "COVID 19"}))
	require.NoError(t, store.AddEntity(ctx, domain.CanonicalEntity{ID: "D004", NameEn: "COVID-19", ICD10: "U07.1"}))

	entities, err := store.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "COVID-19", entities[0].NameEn)
	require.Equal(t, "U07.1", entities[0].ICD10)

	m := domain.LocalMapping{Scope: testScope, LocalName: "Corona", EntityID: "D004", Priority: 1}
	require.NoError(t, store.AddMapping(ctx, m))
	m.EntityID = "D999"
	require.NoError(t, store.AddMapping(ctx, m))

	mappings, err := store.MappingsForScope(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, "D999", mappings[0].EntityID)
}

func TestTouchMappingBumpsUsage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddMapping(ctx, domain.LocalMapping{
		Scope: testScope, LocalName: "Cholera", EntityID: "D002",
	}))
	require.NoError(t, store.TouchMapping(ctx, testScope, "Cholera"))
	require.NoError(t, store.TouchMapping(ctx, testScope, "Cholera"))

	mappings, err := store.MappingsForScope(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, 2, mappings[0].UsageCount)
	require.NotNil(t, mappings[0].LastUsedAt)
}

func TestFactStatistics(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.Statistics(ctx, "CN")
	require.NoError(t, err)
	require.Zero(t, stats.TotalFacts)
	require.Nil(t, stats.EarliestTime)

	_, err = store.Upsert(ctx, []domain.Fact{
		fact(1, "D001", i64(1)),
		fact(1, "D002", i64(2)),
		fact(15, "D001", i64(3)),
	})
	require.NoError(t, err)

	stats, err = store.Statistics(ctx, "CN")
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalFacts)
	require.Equal(t, 2, stats.DistinctEntities)
	require.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), *stats.EarliestTime)
	require.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), *stats.LatestTime)
}

func TestMappingStatistics(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddEntity(ctx, domain.CanonicalEntity{ID: "D001", NameEn: "Measles"}))
	require.NoError(t, store.AddMapping(ctx, domain.LocalMapping{
		Scope: testScope, LocalName: "Measles", EntityID: "D001", IsPrimary: true,
	}))
	require.NoError(t, store.AddMapping(ctx, domain.LocalMapping{
		Scope: testScope, LocalName: "Rubeola", EntityID: "D001", IsAlias: true,
	}))
	require.NoError(t, store.RecordSuggestion(ctx, testScope, "Morbilli"))

	stats, err := store.MappingStatistics(ctx, testScope)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Entities)
	require.Equal(t, 2, stats.Mappings)
	require.Equal(t, 1, stats.PrimaryMappings)
	require.Equal(t, 1, stats.AliasMappings)
	require.Equal(t, 1, stats.PendingSuggestions)
}

func TestRunLedger(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	run := domain.CrawlRun{
		ID:        "run-1",
		Country:   "CN",
		Source:    "cdc-weekly",
		Status:    domain.RunRunning,
		StartedAt: testNow,
	}
	require.NoError(t, store.StartRun(ctx, run))

	run.Status = domain.RunCompleted
	run.Discovered = 10
	run.NewItems = 3
	run.FactsWritten = 120
	require.NoError(t, store.FinishRun(ctx, run))

	var status string
	var factsWritten int
	var finishedAt time.Time
	err := store.db.QueryRow(
		`SELECT status, facts_written, finished_at FROM crawl_runs WHERE id = ?`, run.ID,
	).Scan(&status, &factsWritten, &finishedAt)
	require.NoError(t, err)
	require.Equal(t, string(domain.RunCompleted), status)
	require.Equal(t, 120, factsWritten)
	require.Equal(t, testNow, finishedAt.UTC())
}
