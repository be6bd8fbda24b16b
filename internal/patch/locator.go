package patch

// Match is a candidate position for a search block in the line buffer.
type Match struct {
	Index int
	Score float64
}

// locator finds search blocks in a line buffer using the engine's thresholds.
type locator struct {
	threshold    float64
	bufferLines  int
	minScanScore float64
}

// anchored looks for search around the 1-based hint. The exact hinted slice
// is accepted when it meets the threshold; otherwise a window of bufferLines
// on either side is scanned middle-out. The returned Match holds the best
// candidate even when ok is false; Index is -1 if none fit.
func (l locator) anchored(lines, search []string, hint int) (Match, bool) {
	idx := hint - 1
	n := len(search)
	if idx >= 0 && idx+n <= len(lines) {
		score := ChunkSimilarity(lines[idx:idx+n], search)
		if score >= l.threshold {
			return Match{Index: idx, Score: score}, true
		}
	}
	lo := max(0, idx-l.bufferLines)
	hi := min(len(lines), idx+n+l.bufferLines)
	return l.scan(lines, search, lo, hi)
}

// unanchored scans the whole buffer middle-out.
func (l locator) unanchored(lines, search []string) (Match, bool) {
	return l.scan(lines, search, 0, len(lines))
}

// scan probes every full-length candidate in lines[lo:hi], starting at the
// window midpoint and alternating one step left and one step right. Ties keep
// the candidate found first, which is the one nearest the midpoint.
func (l locator) scan(lines, search []string, lo, hi int) (Match, bool) {
	best := Match{Index: -1}
	n := len(search)
	if n == 0 || lo >= hi {
		return best, false
	}
	fits := func(i int) bool { return i >= lo && i+n <= hi }
	probe := func(i int) {
		if !fits(i) {
			return
		}
		if score := ChunkSimilarity(lines[i:i+n], search); best.Index < 0 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}

	mid := (lo + hi) / 2
	left, right := mid, mid+1
	for left >= lo || right <= hi-n {
		if left >= lo {
			probe(left)
			left--
		}
		if right <= hi-n {
			probe(right)
			right++
		}
	}
	return best, best.Index >= 0 && best.Score >= l.minScanScore
}
