// Package patch applies SEARCH/REPLACE diffs to text whose content may have
// drifted from the line hints the diff carries.
//
// A diff is a sequence of blocks:
//
//	<<<<<<< SEARCH
//	:start_line:12
//	-------
//	old lines
//	=======
//	new lines
//	>>>>>>> REPLACE
//
// Blocks are applied in order against one shared line buffer. Each block is
// located by line similarity near its hint, then across the whole buffer, and
// is only applied when the match clears the configured threshold.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultFuzzyThreshold     = 1.0
	DefaultBufferLines        = 40
	DefaultMinScanScore       = 0.5
	DefaultMaxUnanchoredLines = 50000
)

var (
	// ErrBlockSkipped marks a block with empty search text or with search
	// and replace equal after normalization.
	ErrBlockSkipped = errors.New("block skipped")
	// ErrNoMatch marks a block that could not be located confidently.
	ErrNoMatch = errors.New("no sufficiently similar match found")
)

// Config tunes an Engine. The zero value of a field is not a valid setting;
// start from DefaultConfig.
type Config struct {
	// FuzzyThreshold is the score the exact hinted slice must reach.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	// BufferLines widens the anchored scan window on each side of the hint.
	BufferLines int `yaml:"buffer_lines"`
	// MinScanScore is the score a scanned candidate must reach.
	MinScanScore float64 `yaml:"min_scan_score"`
	// MaxUnanchoredLines skips the whole-buffer fallback for larger buffers.
	// Zero disables the limit.
	MaxUnanchoredLines int `yaml:"max_unanchored_lines"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:     DefaultFuzzyThreshold,
		BufferLines:        DefaultBufferLines,
		MinScanScore:       DefaultMinScanScore,
		MaxUnanchoredLines: DefaultMaxUnanchoredLines,
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy threshold must be in (0, 1], got %v", c.FuzzyThreshold)
	}
	if c.BufferLines < 0 {
		return fmt.Errorf("buffer lines must not be negative, got %d", c.BufferLines)
	}
	if c.MinScanScore <= 0 || c.MinScanScore > 1 {
		return fmt.Errorf("min scan score must be in (0, 1], got %v", c.MinScanScore)
	}
	if c.MaxUnanchoredLines < 0 {
		return fmt.Errorf("max unanchored lines must not be negative, got %d", c.MaxUnanchoredLines)
	}
	return nil
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithLogger sets the logger used for per-block debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine applies diffs. It is immutable after New and safe for concurrent use.
type Engine struct {
	cfg    Config
	loc    locator
	logger *zap.Logger
}

// New validates cfg and builds an Engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch config: %w", err)
	}
	e := &Engine{
		cfg: cfg,
		loc: locator{
			threshold:    cfg.FuzzyThreshold,
			bufferLines:  cfg.BufferLines,
			minScanScore: cfg.MinScanScore,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// OutcomeKind classifies a BlockOutcome.
type OutcomeKind string

const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeNoMatch OutcomeKind = "no_match"
)

// BlockOutcome describes what happened to one block. MatchIndex is the
// 0-based buffer index at the time the block was applied.
type BlockOutcome struct {
	Block      int         `json:"block"`
	StartLine  int         `json:"start_line,omitempty"`
	Kind       OutcomeKind `json:"kind"`
	Applied    bool        `json:"applied"`
	MatchIndex *int        `json:"match_index,omitempty"`
	Score      *float64    `json:"score,omitempty"`
	Error      string      `json:"error,omitempty"`
	Err        error       `json:"-"`
}

// Result is the outcome of ApplyDiff. Content is only meaningful when
// Success is true. Outcomes lists every block, so partial failures are
// visible even on success.
type Result struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Applied  int            `json:"applied"`
	Outcomes []BlockOutcome `json:"outcomes"`
}

// Failed returns the outcomes of blocks that were not applied.
func (r *Result) Failed() []BlockOutcome {
	var failed []BlockOutcome
	for _, o := range r.Outcomes {
		if !o.Applied {
			failed = append(failed, o)
		}
	}
	return failed
}

// ApplyDiff applies every block of diff to original. The only error is a
// *GrammarError, returned before anything is applied; block-level failures
// are reported in the Result.
func (e *Engine) ApplyDiff(original, diff string) (*Result, error) {
	if err := ValidateMarkers(diff); err != nil {
		return nil, err
	}
	blocks := ParseBlocks(diff)

	doc := splitDocument(original)

	res := &Result{Outcomes: make([]BlockOutcome, 0, len(blocks))}
	delta := 0
	for i, b := range blocks {
		out := BlockOutcome{Block: i + 1, StartLine: b.StartLine}
		search, replace := cleanPayloads(b.Search, b.Replace)

		if err := checkBlock(search, replace); err != nil {
			out.Kind, out.Err, out.Error = OutcomeSkipped, err, err.Error()
			e.logger.Debug("Skipping diff block", zap.Int("block", out.Block), zap.Error(err))
			res.Outcomes = append(res.Outcomes, out)
			continue
		}

		m, ok, note := e.locate(doc.lines, search, b.StartLine, delta)
		if !ok {
			err := fmt.Errorf("%w for block %d", ErrNoMatch, out.Block)
			if m.Index >= 0 {
				score := m.Score
				out.Score = &score
				err = fmt.Errorf("%w for block %d (best score %.2f at line %d)", ErrNoMatch, out.Block, m.Score, m.Index+1)
			}
			if note != "" {
				err = fmt.Errorf("%w; %s", err, note)
			}
			out.Kind, out.Err, out.Error = OutcomeNoMatch, err, err.Error()
			e.logger.Debug("No match for diff block", zap.Int("block", out.Block), zap.Int("start_line", b.StartLine), zap.Error(err))
			res.Outcomes = append(res.Outcomes, out)
			continue
		}

		delta += applyMatch(doc, m.Index, search, replace)
		res.Applied++

		idx, score := m.Index, m.Score
		out.Kind, out.Applied, out.MatchIndex, out.Score = OutcomeApplied, true, &idx, &score
		e.logger.Debug("Applied diff block",
			zap.Int("block", out.Block),
			zap.Int("match_line", idx+1),
			zap.Float64("score", score),
			zap.Int("delta", delta))
		res.Outcomes = append(res.Outcomes, out)
	}

	res.Success = res.Applied > 0
	if res.Success {
		res.Content = doc.String()
	}
	return res, nil
}

func checkBlock(search, replace []string) error {
	if blank(search) {
		return fmt.Errorf("%w: empty search content", ErrBlockSkipped)
	}
	if Normalize(strings.Join(search, "\n")) == Normalize(strings.Join(replace, "\n")) {
		return fmt.Errorf("%w: search and replace content are identical", ErrBlockSkipped)
	}
	return nil
}

// locate tries the hinted position first, then the whole buffer. The
// returned Match is the best candidate seen across both attempts. note is
// set when the whole-buffer fallback was skipped by the size guard.
func (e *Engine) locate(lines, search []string, startLine, delta int) (Match, bool, string) {
	best := Match{Index: -1}
	if startLine > 0 {
		m, ok := e.loc.anchored(lines, search, startLine+delta)
		if ok {
			return m, true, ""
		}
		best = m
	}
	if limit := e.cfg.MaxUnanchoredLines; limit > 0 && len(lines) > limit {
		return best, false, fmt.Sprintf("full-file search skipped for %d lines (limit %d)", len(lines), limit)
	}
	m, ok := e.loc.unanchored(lines, search)
	if ok || best.Index < 0 || m.Score > best.Score {
		return m, ok, ""
	}
	return best, false, ""
}
