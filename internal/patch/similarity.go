package patch

import (
	"strings"
	"unicode/utf8"
)

// quoteReplacer maps typographic quotes onto their ASCII forms.
var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‟", `"`,
	"″", `"`, // double prime
	"‘", "'", // left single
	"’", "'", // right single
	"‚", "'", // low single
	"‛", "'",
	"′", "'", // prime
)

// Normalize unifies smart quotes to straight quotes and trims surrounding whitespace.
func Normalize(s string) string {
	return strings.TrimSpace(quoteReplacer.Replace(s))
}

// Similarity scores two strings in [0,1]. Strings that are equal after
// normalization score 1.0; an empty normalized side against a non-empty one
// scores 0.0.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	return 1.0 - float64(EditDistance(na, nb))/float64(maxLen)
}

// EditDistance returns the Levenshtein distance between a and b counted in
// runes. Only two rows of the table are kept, sized by the shorter input.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// ChunkSimilarity is the mean line Similarity of two equally long line slices.
// It is 0.0 when search is empty or the lengths differ.
func ChunkSimilarity(lines, search []string) float64 {
	if len(search) == 0 || len(lines) != len(search) {
		return 0.0
	}
	total := 0.0
	for i := range search {
		total += Similarity(lines[i], search[i])
	}
	return total / float64(len(search))
}
