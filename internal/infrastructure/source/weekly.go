package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"EpiScanner/internal/config"
	"EpiScanner/internal/domain"
	"EpiScanner/internal/httpx"
	"EpiScanner/internal/ports"
)

// bulletinLinkMarker identifies the monthly surveillance bulletin among all
// links on the journal listing page.
const bulletinLinkMarker = "National Notifiable Infectious Diseases"

// WeeklyHTMLSource scans an English-language journal listing page for monthly
// bulletin links.
type WeeklyHTMLSource struct {
	cfg    config.SourceConfig
	client *httpx.Client
	logger *slog.Logger
}

var _ ports.Source = (*WeeklyHTMLSource)(nil)

// NewWeeklyHTMLSource wires the shared HTTP client into a listing scanner.
func NewWeeklyHTMLSource(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) *WeeklyHTMLSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeeklyHTMLSource{cfg: cfg, client: client, logger: logger}
}

// Name identifies the source inside the run report.
func (s *WeeklyHTMLSource) Name() string { return s.cfg.Name }

// Discover fetches the listing page and returns one item per bulletin link
// with an extractable period.
func (s *WeeklyHTMLSource) Discover(ctx context.Context) ([]domain.DiscoveredItem, error) {
	body, err := s.client.Get(ctx, s.cfg.URL)
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: fmt.Errorf("parse listing: %w", err)}
	}

	base, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: fmt.Errorf("invalid base url: %w", err)}
	}

	var items []domain.DiscoveredItem
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		if !strings.Contains(text, bulletinLinkMarker) {
			return
		}

		published, label, ok := extractPeriodEN(text)
		if !ok {
			s.logger.Debug("bulletin link without period", "text", text)
			return
		}

		href, _ := a.Attr("href")
		items = append(items, domain.DiscoveredItem{
			SourceTag:   s.cfg.Name,
			Title:       text,
			URL:         absoluteURL(base, href),
			PublishedAt: timePtr(published),
			PeriodLabel: label,
		})
	})

	s.logger.Debug("listing scanned", "source", s.cfg.Name, "items", len(items))
	return items, nil
}

func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func timePtr(t time.Time) *time.Time { return &t }
