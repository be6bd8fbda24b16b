package patch

import (
	"fmt"
	"strings"
)

// Block grammar markers. Lines are compared after trimming surrounding whitespace.
const (
	SearchMarker    = "<<<<<<< SEARCH"
	SeparatorMarker = "======="
	ReplaceMarker   = ">>>>>>> REPLACE"
)

type markerState int

const (
	stateStart markerState = iota
	stateAfterSearch
	stateAfterSeparator
)

// expected names the marker that must come next in each state.
func (s markerState) expected() string {
	switch s {
	case stateAfterSearch:
		return SeparatorMarker
	case stateAfterSeparator:
		return ReplaceMarker
	default:
		return SearchMarker
	}
}

// GrammarError reports a marker out of sequence. It is fatal for the whole diff.
type GrammarError struct {
	// Line is the 1-based line in the diff text; for an unterminated block it
	// is one past the last line.
	Line     int
	Text     string
	Expected string
}

func (e *GrammarError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("diff grammar error at line %d: unexpected end of diff, expected '%s'", e.Line, e.Expected)
	}
	return fmt.Sprintf("diff grammar error at line %d: unexpected '%s', expected '%s'", e.Line, e.Text, e.Expected)
}

// ValidateMarkers checks that every SEARCH marker is followed by a separator
// and then a REPLACE marker. Non-marker lines are payload and ignored.
func ValidateMarkers(diff string) error {
	state := stateStart
	lines := splitDiffLines(diff)
	for i, line := range lines {
		marker := strings.TrimSpace(line)
		var want markerState
		var next markerState
		switch marker {
		case SearchMarker:
			want, next = stateStart, stateAfterSearch
		case SeparatorMarker:
			want, next = stateAfterSearch, stateAfterSeparator
		case ReplaceMarker:
			want, next = stateAfterSeparator, stateStart
		default:
			continue
		}
		if state != want {
			return &GrammarError{Line: i + 1, Text: marker, Expected: state.expected()}
		}
		state = next
	}
	if state != stateStart {
		n := len(lines)
		if n > 0 && lines[n-1] == "" {
			n--
		}
		return &GrammarError{Line: n + 1, Expected: state.expected()}
	}
	return nil
}

// splitDiffLines splits diff text on "\n" and drops a trailing "\r" from each line.
func splitDiffLines(diff string) []string {
	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
