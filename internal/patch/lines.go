package patch

import "strings"

// document is text split on "\n" with each line's own terminator kept
// aside, so files mixing "\n" and "\r\n" keep every ending they had.
type document struct {
	lines []string
	// eols[i] terminates lines[i]: "\n", "\r\n", or "" for the final piece.
	eols []string
	// eol is the file's dominant ending, used where no neighbour applies.
	eol string
}

func splitDocument(s string) *document {
	pieces := strings.Split(s, "\n")
	d := &document{
		lines: make([]string, len(pieces)),
		eols:  make([]string, len(pieces)),
	}
	crlf, lf := 0, 0
	for i, p := range pieces {
		if i == len(pieces)-1 {
			d.lines[i] = p
			continue
		}
		if strings.HasSuffix(p, "\r") {
			d.lines[i], d.eols[i] = p[:len(p)-1], "\r\n"
			crlf++
		} else {
			d.lines[i], d.eols[i] = p, "\n"
			lf++
		}
	}
	d.eol = "\n"
	if crlf > lf {
		d.eol = "\r\n"
	}
	return d
}

func (d *document) String() string {
	var sb strings.Builder
	for i, l := range d.lines {
		sb.WriteString(l)
		sb.WriteString(d.eols[i])
	}
	return sb.String()
}

// replace swaps the n lines at index for repl. New lines end like the first
// replaced line; the last new line keeps the last replaced line's ending, so
// a missing final newline stays missing.
func (d *document) replace(index, n int, repl []string) {
	first, last := d.eols[index], d.eols[index+n-1]
	inner := first
	if inner == "" {
		inner = d.eol
	}

	eols := make([]string, len(repl))
	for i := range eols {
		eols[i] = inner
	}
	if len(repl) > 0 {
		eols[len(repl)-1] = last
	} else if last == "" && index > 0 {
		// Deleting the unterminated tail moves that state to the new tail.
		d.eols[index-1] = ""
	}

	d.lines = splice(d.lines, index, n, repl)
	d.eols = splice(d.eols, index, n, eols)
}

func splice(s []string, index, n int, repl []string) []string {
	out := make([]string, 0, len(s)-n+len(repl))
	out = append(out, s[:index]...)
	out = append(out, repl...)
	return append(out, s[index+n:]...)
}
