package usecase

import (
	"log/slog"
	"sort"
	"time"

	"EpiScanner/internal/domain"
)

// DiffResult partitions discovered items against the stored high-water mark.
type DiffResult struct {
	New     []domain.DiscoveredItem
	Skipped int
	Undated int
}

// Diff selects the items to ingest. An item is new when its publication date
// is strictly after the mark; without a mark everything dated is new. Undated
// items are excluded outright since they cannot be ordered against the mark.
// Force bypasses the mark but never admits undated items. New items come back
// newest first.
func Diff(items []domain.DiscoveredItem, mark time.Time, haveMark, force bool, logger *slog.Logger) DiffResult {
	if logger == nil {
		logger = slog.Default()
	}

	var result DiffResult
	for _, item := range items {
		if !item.Dated() {
			result.Undated++
			logger.Warn("item has no publication date, excluded",
				"source", item.SourceTag, "title", item.Title, "url", item.URL)
			continue
		}
		if !force && haveMark && !item.PublishedAt.After(mark) {
			result.Skipped++
			continue
		}
		result.New = append(result.New, item)
	}

	sort.SliceStable(result.New, func(i, j int) bool {
		return result.New[i].PublishedAt.After(*result.New[j].PublishedAt)
	})
	return result
}
