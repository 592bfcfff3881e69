// Package extract locates the case/death table inside a bulletin page and
// normalizes it to (local name, cases, deaths) rows.
package extract

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"EpiScanner/internal/domain"
	"EpiScanner/internal/ports"
)

var (
	latinPunctExpr = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	spaceExpr      = regexp.MustCompile(`\s+`)
)

// grandTotalLabels are summary rows the CJK bulletins append below the data;
// they would double-count every disease if ingested.
var grandTotalLabels = map[string]struct{}{
	"合计":     {},
	"甲乙丙类总计": {},
}

// TableExtractor implements the language-aware table extraction contract.
type TableExtractor struct {
	logger *slog.Logger
}

var _ ports.Extractor = (*TableExtractor)(nil)

// New builds an extractor.
func New(logger *slog.Logger) *TableExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableExtractor{logger: logger}
}

// Extract pulls the first data table out of raw page content. Zero data rows
// is a valid, empty result; a missing or unusable table is a failure.
func (e *TableExtractor) Extract(content []byte, languageHint string) domain.TableResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return failed("parse page: " + err.Error())
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return failed("no table found")
	}

	rows := tableRows(table)
	if len(rows) == 0 {
		return domain.TableResult{Status: domain.TableEmpty}
	}

	cleaned := make([]domain.RawRow, 0, len(rows))
	for _, row := range rows {
		name := cleanName(row.LocalName, languageHint)
		if languageHint == "zh" {
			if _, ok := grandTotalLabels[name]; ok {
				continue
			}
		}
		cleaned = append(cleaned, domain.RawRow{
			LocalName: name,
			Cases:     strings.TrimSpace(row.Cases),
			Deaths:    strings.TrimSpace(row.Deaths),
		})
	}

	if len(cleaned) == 0 {
		return domain.TableResult{Status: domain.TableEmpty}
	}

	named := 0
	for _, row := range cleaned {
		if row.LocalName != "" {
			named++
		}
	}
	if named == 0 {
		return failed("name column is empty in every row")
	}

	e.logger.Debug("table extracted", "rows", len(cleaned), "language", languageHint)
	return domain.TableResult{Status: domain.TableOK, Rows: cleaned}
}

// tableRows walks the table body, strips footnote superscripts, and keeps
// the first three cells of every row that has at least three. The first body
// row on these pages is the column header and is skipped.
func tableRows(table *goquery.Selection) []domain.RawRow {
	body := table.Find("tbody")
	if body.Length() == 0 {
		body = table
	}

	var rows []domain.RawRow
	first := true
	body.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return
		}
		if first {
			first = false
			return
		}

		values := make([]string, 0, 3)
		cells.EachWithBreak(func(i int, td *goquery.Selection) bool {
			td.Find("sup").Remove()
			values = append(values, strings.TrimSpace(td.Text()))
			return len(values) < 3
		})

		rows = append(rows, domain.RawRow{
			LocalName: values[0],
			Cases:     values[1],
			Deaths:    values[2],
		})
	})

	return rows
}

// cleanName applies the language-specific cleaning rules. The Latin path
// strips punctuation and collapses whitespace; the CJK path keeps only
// alphanumerics, whitespace, and CJK ideographs.
func cleanName(name, languageHint string) string {
	if languageHint == "zh" {
		var b strings.Builder
		for _, r := range name {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || isCJK(r) {
				b.WriteRune(r)
			}
		}
		return strings.TrimSpace(b.String())
	}

	cleanedName := latinPunctExpr.ReplaceAllString(name, "")
	cleanedName = spaceExpr.ReplaceAllString(cleanedName, " ")
	return strings.TrimSpace(cleanedName)
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func failed(reason string) domain.TableResult {
	return domain.TableResult{Status: domain.TableFailed, Reason: reason}
}
