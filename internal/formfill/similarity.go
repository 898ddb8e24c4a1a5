package formfill

import "strings"

// WordJaccard computes Jaccard similarity over the lowercase word sets of
// two strings. Used to accept noisy option labels and suggestion entries
// that are close to the intended value but not an exact match.
func WordJaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:()[]{}'\"!?")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// normalizeLabel lowercases a label and collapses runs of whitespace, the
// shape every matching table in this package works against.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
