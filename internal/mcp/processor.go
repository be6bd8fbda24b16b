package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"file-patch-server/internal/errors"
	"file-patch-server/internal/models"
	"file-patch-server/internal/patch"
	"file-patch-server/internal/service"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "file-patch-server"
	ServerVersion   = "1.0.0"
)

const applyDiffDescription = `Applies one or more SEARCH/REPLACE blocks to a file. Each block has the form:

<<<<<<< SEARCH
:start_line:<line number of the first SEARCH line>
-------
<exact lines to find>
=======
<lines to put in their place>
>>>>>>> REPLACE

The start_line hint is optional. Blocks are matched by similarity near the hint, then across the whole file, so small drift since the last read is tolerated. Blocks apply in order and each sees the result of the previous ones. Line-number prefixes ("12|") copied from read_file output are stripped. Escape a payload line that looks like a marker with a leading backslash.`

// Processor answers the MCP methods: initialize, tools/list and tools/call.
type Processor struct {
	service service.PatchService
}

// NewProcessor creates a new Processor.
func NewProcessor(svc service.PatchService) *Processor {
	return &Processor{service: svc}
}

// ProcessRequest handles an MCP JSON-RPC request. The result is nil for
// notifications.
func (p *Processor) ProcessRequest(req models.JSONRPCRequest) (interface{}, *models.JSONRPCError) {
	switch req.Method {
	case "initialize":
		return &models.InitializeResponse{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    models.Capabilities{Tools: models.ToolsCapabilities{}},
			ServerInfo: models.ServerInfo{
				Name:        ServerName,
				Version:     ServerVersion,
				Description: "Applies fuzzy SEARCH/REPLACE diffs to files for AI agents",
			},
		}, nil
	case "notifications/initialized":
		return nil, nil
	case "tools/list":
		return &models.ToolsListResponse{Tools: ToolDefinitions()}, nil
	case "tools/call":
		var params models.ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, errors.ToJSONRPCError(errors.NewInvalidParamsError("Invalid parameters for tools/call: "+err.Error(), nil))
		}
		return p.handleToolCall(params.Name, params.Arguments)
	default:
		return nil, errors.ToJSONRPCError(errors.NewMethodNotFoundError(req.Method))
	}
}

// ToolDefinitions lists the tools this server exposes.
func ToolDefinitions() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Reads a file from the working directory, optionally a line range. With line_numbers set every line is prefixed with \"<n>|\", which helps when writing start_line hints.",
			InputSchema: models.Schema{
				"type": "object",
				"properties": map[string]interface{}{
					"name":         map[string]interface{}{"type": "string", "description": "File name relative to the working directory"},
					"start_line":   map[string]interface{}{"type": "integer", "minimum": 1, "description": "First line to return (1-based)"},
					"end_line":     map[string]interface{}{"type": "integer", "minimum": 1, "description": "Last line to return (inclusive)"},
					"line_numbers": map[string]interface{}{"type": "boolean", "description": "Prefix each line with its number"},
				},
				"required": []string{"name"},
			},
			Annotations: models.ToolAnnotations{ReadOnlyHint: true},
		},
		{
			Name:        "apply_diff",
			Description: applyDiffDescription,
			InputSchema: models.Schema{
				"type": "object",
				"properties": map[string]interface{}{
					"name":    map[string]interface{}{"type": "string", "description": "File name relative to the working directory"},
					"diff":    map[string]interface{}{"type": "string", "description": "One or more SEARCH/REPLACE blocks"},
					"dry_run": map[string]interface{}{"type": "boolean", "description": "Report the result without writing the file"},
				},
				"required": []string{"name", "diff"},
			},
			Annotations: models.ToolAnnotations{DestructiveHint: true},
		},
	}
}

func (p *Processor) handleToolCall(toolName string, toolArgs json.RawMessage) (*models.MCPToolResult, *models.JSONRPCError) {
	switch toolName {
	case "read_file":
		var req models.ReadFileRequest
		if err := json.Unmarshal(toolArgs, &req); err != nil {
			return nil, errors.ToJSONRPCError(errors.NewInvalidParamsError("Invalid parameters for read_file: "+err.Error(), nil))
		}
		resp, serviceErr := p.service.ReadFile(req)
		if serviceErr != nil {
			return models.TextResult(formatToolError(serviceErr), true), nil
		}
		return models.TextResult(formatReadFileResult(req.Name, resp), false), nil
	case "apply_diff":
		var req models.ApplyDiffRequest
		if err := json.Unmarshal(toolArgs, &req); err != nil {
			return nil, errors.ToJSONRPCError(errors.NewInvalidParamsError("Invalid parameters for apply_diff: "+err.Error(), nil))
		}
		resp, serviceErr := p.service.ApplyDiff(req)
		if serviceErr != nil {
			return models.TextResult(formatToolError(serviceErr), true), nil
		}
		return models.TextResult(formatApplyDiffResult(req.Name, resp), !resp.Success), nil
	default:
		return models.TextResult("Error: Unknown tool '"+toolName+"'.", true), nil
	}
}

func formatReadFileResult(filename string, resp *models.ReadFileResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", filename)
	fmt.Fprintf(&b, "Total Lines: %d\n", resp.TotalLines)
	if r := resp.RangeRequested; r != nil {
		fmt.Fprintf(&b, "Lines: %d-%d\n", r.StartLine, r.EndLine)
	}
	fmt.Fprintf(&b, "\nContent:\n%s", resp.Content)
	return b.String()
}

func formatApplyDiffResult(filename string, resp *models.ApplyDiffResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", filename)
	total := resp.BlocksApplied + resp.BlocksFailed
	switch {
	case !resp.Success:
		fmt.Fprintf(&b, "Status: No blocks applied (0 of %d). The file was not changed.\n", total)
	case resp.DryRun:
		fmt.Fprintf(&b, "Status: Dry run, %d of %d blocks would apply.\n", resp.BlocksApplied, total)
	default:
		fmt.Fprintf(&b, "Status: Applied %d of %d blocks.\n", resp.BlocksApplied, total)
	}
	for _, o := range resp.Outcomes {
		b.WriteString(formatOutcome(o))
	}
	fmt.Fprintf(&b, "New Total Lines: %d\n", resp.NewTotalLines)
	if resp.Diff != "" {
		fmt.Fprintf(&b, "\nChanges:\n%s", resp.Diff)
	}
	return b.String()
}

func formatOutcome(o patch.BlockOutcome) string {
	if o.Applied && o.MatchIndex != nil && o.Score != nil {
		return fmt.Sprintf("Block %d: applied at line %d (score %.2f)\n", o.Block, *o.MatchIndex+1, *o.Score)
	}
	return fmt.Sprintf("Block %d: %s: %s\n", o.Block, o.Kind, o.Error)
}

// formatToolError renders a service error as "Error: <message> (Code: <code>)".
// Grammar errors also carry the offending diff line.
func formatToolError(serviceErr *models.ErrorDetail) string {
	if serviceErr == nil {
		return "Error: An unexpected error occurred, but no details were provided."
	}
	msg := serviceErr.Message
	if m, ok := serviceErr.Data.(map[string]interface{}); ok && serviceErr.Code == errors.CodeDiffGrammar {
		if details, ok := m["details"].(string); ok {
			msg += ": " + details
		}
	}
	return fmt.Sprintf("Error: %s (Code: %d)", msg, serviceErr.Code)
}
