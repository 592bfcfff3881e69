package resolver

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

var nonLatinExpr = regexp.MustCompile(`[^a-zA-Z\s]`)

// specificityMarkers are words that make a disease name strictly more
// specific than its base form: "Hepatitis" must not fuzzy-resolve to
// "Hepatitis A".
var specificityMarkers = map[string]struct{}{
	"a": {}, "b": {}, "c": {}, "d": {}, "e": {},
	"1": {}, "2": {}, "3": {},
	"type": {}, "acute": {}, "chronic": {},
}

// fuzzyCandidate is one known name considered during a fuzzy pass.
type fuzzyCandidate struct {
	EntityID string
	Name     string
	Priority int
}

// fuzzyMatch is a scored candidate.
type fuzzyMatch struct {
	fuzzyCandidate
	Similarity float64
}

// similarity is the SequenceMatcher ratio over characters, case- and
// whitespace-insensitive at the edges.
func similarity(a, b string) float64 {
	left := strings.Split(strings.ToLower(strings.TrimSpace(a)), "")
	right := strings.Split(strings.ToLower(strings.TrimSpace(b)), "")
	return difflib.NewMatcher(left, right).Ratio()
}

// cleanLatin strips everything but letters and spaces before comparison.
func cleanLatin(name string) string {
	return strings.TrimSpace(nonLatinExpr.ReplaceAllString(strings.ToLower(name), ""))
}

// tooSpecific rejects a candidate whose word set strictly extends the
// input's with a specificity marker.
func tooSpecific(input, candidate string) bool {
	inputWords := wordSet(input)
	candidateWords := wordSet(candidate)
	if len(candidateWords) <= len(inputWords) {
		return false
	}
	for w := range inputWords {
		if _, ok := candidateWords[w]; !ok {
			return false
		}
	}
	for w := range candidateWords {
		if _, ok := inputWords[w]; ok {
			continue
		}
		if _, marker := specificityMarkers[w]; marker {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
