package extract

import (
	"testing"

	"EpiScanner/internal/domain"
)

func TestExtractEnglishTable(t *testing.T) {
	t.Parallel()

	page := `
	<html><body>
	<div class="nav"><a href="/">Home</a></div>
	<table>
	  <tbody>
	    <tr><td>Diseases</td><td>Cases</td><td>Deaths</td></tr>
	    <tr><td>Hepatitis B<sup>1</sup></td><td>91,200</td><td>34</td></tr>
	    <tr><td>Influenza (seasonal)</td><td>120</td><td>0</td></tr>
	    <tr><td colspan="3">Note: provisional data</td></tr>
	  </tbody>
	</table>
	</body></html>`

	result := New(nil).Extract([]byte(page), "en")
	if result.Status != domain.TableOK {
		t.Fatalf("status = %v, reason = %s", result.Status, result.Reason)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.Rows[0].LocalName != "Hepatitis B" {
		t.Fatalf("superscript not stripped: %q", result.Rows[0].LocalName)
	}
	if result.Rows[1].LocalName != "Influenza seasonal" {
		t.Fatalf("punctuation not cleaned: %q", result.Rows[1].LocalName)
	}
	if result.Rows[0].Cases != "91,200" || result.Rows[0].Deaths != "34" {
		t.Fatalf("unexpected counts: %+v", result.Rows[0])
	}
}

func TestExtractChineseTableDropsGrandTotal(t *testing.T) {
	t.Parallel()

	page := `
	<table><tbody>
	  <tr><td>病名</td><td>发病数</td><td>死亡数</td></tr>
	  <tr><td>合计</td><td>999999</td><td>2000</td></tr>
	  <tr><td>病毒性肝炎*</td><td>127435</td><td>45</td></tr>
	  <tr><td>狂犬病</td><td>12</td><td>11</td></tr>
	</tbody></table>`

	result := New(nil).Extract([]byte(page), "zh")
	if result.Status != domain.TableOK {
		t.Fatalf("status = %v, reason = %s", result.Status, result.Reason)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("grand total row not dropped, got %d rows", len(result.Rows))
	}
	if result.Rows[0].LocalName != "病毒性肝炎" {
		t.Fatalf("CJK cleaning failed: %q", result.Rows[0].LocalName)
	}
}

func TestExtractTruncatesWideRows(t *testing.T) {
	t.Parallel()

	page := `
	<table><tbody>
	  <tr><td>Diseases</td><td>Cases</td><td>Deaths</td><td>Rate</td></tr>
	  <tr><td>Measles</td><td>42</td><td>1</td><td>0.003</td></tr>
	</tbody></table>`

	result := New(nil).Extract([]byte(page), "en")
	if result.Status != domain.TableOK {
		t.Fatalf("status = %v", result.Status)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	row := result.Rows[0]
	if row.LocalName != "Measles" || row.Cases != "42" || row.Deaths != "1" {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestExtractNoTableFails(t *testing.T) {
	t.Parallel()

	result := New(nil).Extract([]byte(`<html><body><p>Maintenance page</p></body></html>`), "en")
	if result.Status != domain.TableFailed {
		t.Fatalf("expected failure, got %v", result.Status)
	}
	if result.Reason == "" {
		t.Fatal("expected a failure reason")
	}
}

func TestExtractHeaderOnlyTableIsEmpty(t *testing.T) {
	t.Parallel()

	page := `
	<table><tbody>
	  <tr><td>Diseases</td><td>Cases</td><td>Deaths</td></tr>
	</tbody></table>`

	result := New(nil).Extract([]byte(page), "en")
	if result.Status != domain.TableEmpty {
		t.Fatalf("expected empty result, got %v (reason %s)", result.Status, result.Reason)
	}
}
