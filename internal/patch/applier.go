package patch

import "strings"

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// reindent moves replace onto the indentation of the matched text. A line's
// depth relative to the first search line is kept relative to the first
// matched line. Blank lines stay empty.
func reindent(matchedFirst, searchFirst string, replace []string) []string {
	base := leadingWhitespace(matchedFirst)
	nominal := leadingWhitespace(searchFirst)

	out := make([]string, len(replace))
	for i, line := range replace {
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		indent := leadingWhitespace(line)
		level := len(indent) - len(nominal)
		var final string
		switch {
		case level <= 0:
			final = base[:max(0, len(base)+level)]
		default:
			final = base + indent[len(nominal):]
		}
		out[i] = final + content
	}
	return out
}

// applyMatch writes the re-indented replace lines over the len(search)
// lines at index. It returns the change in line count.
func applyMatch(doc *document, index int, search, replace []string) int {
	doc.replace(index, len(search), reindent(doc.lines[index], search[0], replace))
	return len(replace) - len(search)
}
