package patch

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

var similarityInputs = []string{
	"",
	"   ",
	"a",
	"abc",
	"  indented line",
	"say “hello”",
	"日本語のテキスト",
	"func main() {",
	"\treturn nil",
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, `"hi" 'x'`, Normalize("  “hi” ‘x’ \t"))
	assert.Equal(t, "plain", Normalize("plain"))
	assert.Equal(t, "", Normalize(" \t "))
}

func TestSimilarity_Identity(t *testing.T) {
	for _, s := range similarityInputs {
		assert.Equal(t, 1.0, Similarity(s, s), "input %q", s)
	}
}

func TestSimilarity_Range(t *testing.T) {
	for _, a := range similarityInputs {
		for _, b := range similarityInputs {
			score := Similarity(a, b)
			assert.GreaterOrEqual(t, score, 0.0, "%q vs %q", a, b)
			assert.LessOrEqual(t, score, 1.0, "%q vs %q", a, b)
		}
	}
}

func TestSimilarity_Values(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"smart quotes equal straight quotes", `say “hi”`, `say "hi"`, 1.0},
		{"surrounding whitespace ignored", "    def foo", "def foo", 1.0},
		{"empty search", "abc", "", 0.0},
		{"empty line against text", "", "abc", 0.0},
		{"one substitution in four", "abcd", "abce", 0.75},
		{"completely different", "ab", "cd", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"日本語", "日本", 1},
		{"héllo", "hello", 1},
		{"abc", "abc", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EditDistance(tt.a, tt.b), "%q -> %q", tt.a, tt.b)
	}
}

func TestEditDistance_Properties(t *testing.T) {
	for _, a := range similarityInputs {
		assert.Equal(t, 0, EditDistance(a, a))
		assert.Equal(t, utf8.RuneCountInString(a), EditDistance("", a))
		for _, b := range similarityInputs {
			assert.Equal(t, EditDistance(a, b), EditDistance(b, a), "%q vs %q", a, b)
		}
	}
}

func TestChunkSimilarity(t *testing.T) {
	lines := []string{"func foo() {", "\treturn 1", "}"}
	assert.Equal(t, 1.0, ChunkSimilarity(lines, lines))
	assert.Equal(t, 0.0, ChunkSimilarity(lines, nil))
	assert.Equal(t, 0.0, ChunkSimilarity(lines[:2], lines))
	assert.InDelta(t, 0.875, ChunkSimilarity([]string{"abcd", "x"}, []string{"abce", "x"}), 1e-9)
}
