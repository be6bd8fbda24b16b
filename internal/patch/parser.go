package patch

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	startLineDirective = ":start_line:"
	endLineDirective   = ":end_line:"
	dashSeparator      = "-------"
)

// Block is one SEARCH/REPLACE pair. StartLine and EndLine are 1-based hints
// relative to the document before any block of the same diff was applied;
// zero means the hint is absent.
type Block struct {
	Line      int
	StartLine int
	EndLine   int
	Search    []string
	Replace   []string
}

// ParseBlocks extracts blocks in the order they appear. The diff must already
// have passed ValidateMarkers; an unterminated trailing block is dropped.
func ParseBlocks(diff string) []Block {
	lines := splitDiffLines(diff)
	var blocks []Block
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != SearchMarker {
			continue
		}
		b := Block{Line: i + 1}
		i++

		for ; i < len(lines); i++ {
			if n, ok := directive(lines[i], startLineDirective); ok {
				b.StartLine = n
			} else if n, ok := directive(lines[i], endLineDirective); ok {
				b.EndLine = n
			} else {
				break
			}
		}
		if i < len(lines) && strings.TrimSpace(lines[i]) == dashSeparator {
			i++
		}

		search, replace := []string{}, []string{}
		inReplace, closed := false, false
		for ; i < len(lines); i++ {
			marker := strings.TrimSpace(lines[i])
			if !inReplace && marker == SeparatorMarker {
				inReplace = true
				continue
			}
			if inReplace && marker == ReplaceMarker {
				closed = true
				break
			}
			if inReplace {
				replace = append(replace, lines[i])
			} else {
				search = append(search, lines[i])
			}
		}
		if !closed {
			break
		}
		b.Search, b.Replace = search, replace
		blocks = append(blocks, b)
	}
	return blocks
}

func directive(line, prefix string) (int, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[len(prefix):]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// escapedPrefixes are payload lines that would otherwise read as grammar.
var escapedPrefixes = []string{
	`\<<<<<<<`,
	`\=======`,
	`\>>>>>>>`,
	`\-------`,
	`\` + startLineDirective,
	`\` + endLineDirective,
}

// unescapeMarkers removes one backslash in front of literal marker text,
// keeping any leading indentation.
func unescapeMarkers(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line
		body := strings.TrimLeft(line, " \t")
		for _, p := range escapedPrefixes {
			if strings.HasPrefix(body, p) {
				indent := line[:len(line)-len(body)]
				out[i] = indent + body[1:]
				break
			}
		}
	}
	return out
}

var lineNumberPrefix = regexp.MustCompile(`^\s*\d+\s*\|`)

// numbered reports whether every non-blank line carries a "<digits>|" prefix.
// A payload with no non-blank lines is not numbered.
func numbered(lines []string) bool {
	seen := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if !lineNumberPrefix.MatchString(l) {
			return false
		}
		seen = true
	}
	return seen
}

func blank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func stripLineNumbers(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = lineNumberPrefix.ReplaceAllString(l, "")
	}
	return out
}

// cleanPayloads unescapes marker text and drops read_file style line numbers
// when both payloads carry them (an empty replace counts as carrying them).
func cleanPayloads(search, replace []string) ([]string, []string) {
	search, replace = unescapeMarkers(search), unescapeMarkers(replace)
	if numbered(search) && (numbered(replace) || blank(replace)) {
		search, replace = stripLineNumbers(search), stripLineNumbers(replace)
	}
	return search, replace
}
