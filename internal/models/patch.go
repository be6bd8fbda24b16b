package models

import "file-patch-server/internal/patch"

// ApplyDiffRequest asks the server to apply SEARCH/REPLACE blocks to a file.
type ApplyDiffRequest struct {
	// Name is the name of the file to patch, relative to the working directory.
	Name string `json:"name"`
	// Diff holds one or more SEARCH/REPLACE blocks.
	Diff string `json:"diff"`
	// DryRun computes the result without writing it back.
	DryRun bool `json:"dry_run,omitempty"`
}

// ApplyDiffResponse reports the outcome of every block. Success is true when
// at least one block applied; callers should check BlocksFailed for partial
// application.
type ApplyDiffResponse struct {
	Success       bool                 `json:"success"`
	BlocksApplied int                  `json:"blocks_applied"`
	BlocksFailed  int                  `json:"blocks_failed"`
	Outcomes      []patch.BlockOutcome `json:"outcomes"`
	NewTotalLines int                  `json:"new_total_lines"`
	// Diff is a line-level preview of the change ("-" removed, "+" added).
	Diff   string `json:"diff,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
	// Content is the patched content, returned for dry runs only.
	Content string `json:"content,omitempty"`
}
