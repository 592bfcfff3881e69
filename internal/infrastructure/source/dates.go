package source

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	tagExpr       = regexp.MustCompile(`<[^>]+>`)
	nonAlnumExpr  = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	monthYearExpr = regexp.MustCompile(`\b([A-Za-z]+)\s+(\d{4})\b`)
	yearMonthExpr = regexp.MustCompile(`\b(\d{4})\s+([A-Za-z]+)\b`)
	cnDateExpr    = regexp.MustCompile(`(\d{4})年(\d{1,2})月`)
)

// periodLabel formats a bulletin period the way the rest of the pipeline
// keys on, e.g. "2024 January".
func periodLabel(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Year(), t.Month().String())
}

// extractPeriodEN pulls a "Month YYYY" or "YYYY Month" period out of English
// link text. Returns ok=false when no period is present.
func extractPeriodEN(text string) (time.Time, string, bool) {
	text = tagExpr.ReplaceAllString(text, "")
	text = nonAlnumExpr.ReplaceAllString(text, "")

	if m := monthYearExpr.FindStringSubmatch(text); m != nil {
		if t, ok := monthStart(m[2], m[1]); ok {
			return t, periodLabel(t), true
		}
	}
	if m := yearMonthExpr.FindStringSubmatch(text); m != nil {
		if t, ok := monthStart(m[1], m[2]); ok {
			return t, periodLabel(t), true
		}
	}
	return time.Time{}, "", false
}

// extractPeriodCN pulls a "YYYY年MM月" period out of Chinese title text.
func extractPeriodCN(text string) (time.Time, string, bool) {
	text = tagExpr.ReplaceAllString(text, "")

	m := cnDateExpr.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return time.Time{}, "", false
	}
	t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return t, periodLabel(t), true
}

func monthStart(yearText, monthText string) (time.Time, bool) {
	t, err := time.Parse("2006 January", yearText+" "+capitalize(monthText))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	for i := 1; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
