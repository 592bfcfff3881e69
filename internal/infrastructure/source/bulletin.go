package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"EpiScanner/internal/config"
	"EpiScanner/internal/domain"
	"EpiScanner/internal/httpx"
	"EpiScanner/internal/ports"
)

// The administration's listing endpoint is a POST API: page through the
// bulletin channel and read titles from the JSON envelope.
const bulletinPageSize = "10"

// BulletinAPISource lists Chinese-language bulletins from a government
// listing API.
type BulletinAPISource struct {
	cfg    config.SourceConfig
	client *httpx.Client
	logger *slog.Logger
}

var _ ports.Source = (*BulletinAPISource)(nil)

// NewBulletinAPISource wires the shared HTTP client into the API adapter.
func NewBulletinAPISource(cfg config.SourceConfig, client *httpx.Client, logger *slog.Logger) *BulletinAPISource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulletinAPISource{cfg: cfg, client: client, logger: logger}
}

// Name identifies the source inside the run report.
func (s *BulletinAPISource) Name() string { return s.cfg.Name }

type bulletinEnvelope struct {
	Data struct {
		Results []struct {
			Source struct {
				Title string `json:"title"`
				URLs  string `json:"urls"`
			} `json:"source"`
		} `json:"results"`
	} `json:"data"`
}

// Discover posts the listing query and returns one item per result whose
// title carries a period.
func (s *BulletinAPISource) Discover(ctx context.Context) ([]domain.DiscoveredItem, error) {
	form := url.Values{
		"current":       {"1"},
		"pageSize":      {bulletinPageSize},
		"webSiteCode[]": {"jbkzzx"},
		"channelCode[]": {"c100016"},
	}

	body, err := s.client.PostForm(ctx, s.cfg.URL, form)
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: err}
	}

	var envelope bulletinEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: fmt.Errorf("decode listing: %w", err)}
	}

	base, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, &DiscoveryError{SourceTag: s.cfg.Name, Cause: fmt.Errorf("invalid base url: %w", err)}
	}

	var items []domain.DiscoveredItem
	for _, result := range envelope.Data.Results {
		title := result.Source.Title

		published, label, ok := extractPeriodCN(title)
		if !ok {
			s.logger.Debug("bulletin without period", "title", title)
			continue
		}

		items = append(items, domain.DiscoveredItem{
			SourceTag:   s.cfg.Name,
			Title:       title,
			URL:         resolveBulletinURL(base, result.Source.URLs),
			PublishedAt: timePtr(published),
			PeriodLabel: label,
		})
	}

	s.logger.Debug("bulletin API scanned", "source", s.cfg.Name, "items", len(items))
	return items, nil
}

// resolveBulletinURL unwraps the API's URL field, which is itself a JSON
// object keyed by channel ("common" holds the public page).
func resolveBulletinURL(base *url.URL, raw string) string {
	if raw == "" {
		return ""
	}
	var urls struct {
		Common string `json:"common"`
	}
	if err := json.Unmarshal([]byte(raw), &urls); err != nil || urls.Common == "" {
		return ""
	}
	return absoluteURL(base, urls.Common)
}
