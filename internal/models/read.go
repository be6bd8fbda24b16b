package models

// ReadFileRequest represents a request to read a file.
type ReadFileRequest struct {
	// Name is the name of the file to read, relative to the working directory.
	Name string `json:"name"`
	// StartLine is the optional 1-based starting line number for partial file reads.
	StartLine int `json:"start_line,omitempty"`
	// EndLine is the optional 1-based ending line number for partial file reads.
	EndLine int `json:"end_line,omitempty"`
	// LineNumbers prefixes every returned line with "<n>|". Diff blocks that
	// copy these prefixes back into SEARCH/REPLACE payloads are still accepted.
	LineNumbers bool `json:"line_numbers,omitempty"`
}

// RangeRequested is the range of lines actually returned.
type RangeRequested struct {
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`
}

// ReadFileResponse represents the response from a file read operation.
type ReadFileResponse struct {
	// Content is the content of the file, or a specific range of lines.
	Content string `json:"content"`
	// TotalLines is the total number of lines in the file.
	TotalLines int `json:"total_lines"`
	// RangeRequested is set for partial reads.
	RangeRequested *RangeRequested `json:"range_requested,omitempty"`
}
