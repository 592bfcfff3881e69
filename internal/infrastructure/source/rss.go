package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"EpiScanner/internal/config"
	"EpiScanner/internal/domain"
	"EpiScanner/internal/httpx"
	"EpiScanner/internal/ports"
)

// RSSSource lists bulletins from an RSS 2.0 search feed. Items that expose a
// PMC identifier link to the full-text article instead of the abstract page.
type RSSSource struct {
	cfg    config.SourceConfig
	client *httpx.Client
	logger *slog.Logger
}

var _ ports.Source = (*RSSSource)(nil)

// NewRSSSource wires the shared HTTP client into the feed adapter.
func NewRSSSource(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) *RSSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RSSSource{cfg: cfg, client: client, logger: logger}
}

// Name identifies the source inside the run report.
func (s *RSSSource) Name() string { return s.cfg.Name }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Identifiers []string `xml:"identifier"`
}

// Discover fetches the feed and returns one item per entry whose title
// carries a period.
func (s *RSSSource) Discover(ctx context.Context) ([]domain.DiscoveredItem, error) {
	body, err := s.client.Get(ctx, s.cfg.URL)
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: err}
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: fmt.Errorf("decode feed: %w", err)}
	}

	var items []domain.DiscoveredItem
	for _, entry := range feed.Channel.Items {
		published, label, ok := extractPeriodEN(entry.Title)
		if !ok {
			s.logger.Debug("feed entry without period", "title", entry.Title)
			continue
		}

		itemURL := entry.Link
		if pmc := articleURL(entry.Identifiers); pmc != "" {
			itemURL = pmc
		}

		items = append(items, domain.DiscoveredItem{
			SourceTag:   s.cfg.Name,
			Title:       entry.Title,
			URL:         itemURL,
			PublishedAt: timePtr(published),
			PeriodLabel: label,
		})
	}

	s.logger.Debug("feed scanned", "source", s.cfg.Name, "items", len(items))
	return items, nil
}

// articleURL derives a full-text article URL from a "pmc:PMC…" identifier.
func articleURL(identifiers []string) string {
	for _, id := range identifiers {
		if strings.HasPrefix(id, "pmc:PMC") {
			return fmt.Sprintf("https://pmc.ncbi.nlm.nih.gov/articles/%s/", strings.TrimPrefix(id, "pmc:"))
		}
	}
	return ""
}
