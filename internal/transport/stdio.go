package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"file-patch-server/internal/errors"
	"file-patch-server/internal/mcp"
	"file-patch-server/internal/models"
	"file-patch-server/internal/service"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single JSON-RPC request line.
const maxLineBytes = 64 * 1024 * 1024

// StdioHandler speaks line-delimited JSON-RPC 2.0 over stdin/stdout. It
// serves read_file and apply_diff directly and hands MCP methods to the
// mcp.Processor. Nothing but responses may be written to output.
type StdioHandler struct {
	service   service.PatchService
	processor *mcp.Processor
	logger    *zap.Logger
}

// NewStdioHandler creates a new StdioHandler. A nil logger disables logging.
func NewStdioHandler(svc service.PatchService, logger *zap.Logger) *StdioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioHandler{
		service:   svc,
		processor: mcp.NewProcessor(svc),
		logger:    logger,
	}
}

func (h *StdioHandler) writeJSONRPCResponse(writer io.Writer, response models.JSONRPCResponse) {
	responseBytes, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("Error marshaling JSON-RPC response", zap.Error(err), zap.Any("id", response.ID))
		responseBytes, _ = json.Marshal(models.JSONRPCResponse{
			JSONRPC: models.JSONRPCVersion,
			ID:      response.ID,
			Error:   errors.ToJSONRPCError(errors.NewInternalError("Server error: failed to marshal response.")),
		})
	}
	if _, err := fmt.Fprintln(writer, string(responseBytes)); err != nil {
		h.logger.Error("Error writing JSON-RPC response", zap.Error(err))
	}
}

// Start processes requests from input until it is exhausted or ctx is done.
func (h *StdioHandler) Start(ctx context.Context, input io.Reader, output io.Writer) error {
	h.logger.Info("Starting stdio JSON-RPC handler")

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Stdio JSON-RPC handler stopped")
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					h.logger.Error("Error reading from stdio", zap.Error(err))
					return err
				}
				h.logger.Info("Stdio JSON-RPC handler finished")
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if resp, ok := h.handleLine(line); ok {
				h.writeJSONRPCResponse(output, resp)
			}
		}
	}
}

// handleLine answers one request line. ok is false for notifications,
// which get no response.
func (h *StdioHandler) handleLine(line []byte) (models.JSONRPCResponse, bool) {
	resp := models.JSONRPCResponse{JSONRPC: models.JSONRPCVersion}

	var req models.JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		resp.Error = errors.ToJSONRPCError(errors.NewParseError(fmt.Sprintf("Invalid JSON received: %v", err)))
		return resp, true
	}
	resp.ID = req.ID

	if req.JSONRPC != models.JSONRPCVersion {
		resp.Error = errors.ToJSONRPCError(errors.NewInvalidRequestError("Invalid JSON-RPC version. Must be '2.0'."))
		return resp, true
	}
	if req.Method == "" {
		resp.Error = errors.ToJSONRPCError(errors.NewInvalidRequestError("Method not specified."))
		return resp, true
	}
	notification := req.ID == nil && strings.HasPrefix(req.Method, "notifications/")

	h.logger.Debug("JSON-RPC request", zap.String("method", req.Method), zap.Any("id", req.ID))

	var (
		result     interface{}
		serviceErr *models.ErrorDetail
	)
	switch req.Method {
	case "read_file":
		var params models.ReadFileRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			serviceErr = errors.NewInvalidParamsError(fmt.Sprintf("Invalid params for read_file: %v", err), nil)
		} else {
			result, serviceErr = h.service.ReadFile(params)
		}
	case "apply_diff":
		var params models.ApplyDiffRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			serviceErr = errors.NewInvalidParamsError(fmt.Sprintf("Invalid params for apply_diff: %v", err), nil)
		} else {
			result, serviceErr = h.service.ApplyDiff(params)
		}
	default:
		var rpcErr *models.JSONRPCError
		result, rpcErr = h.processor.ProcessRequest(req)
		if notification {
			return resp, false
		}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
		return resp, true
	}

	if serviceErr != nil {
		rpcErr := errors.ToJSONRPCError(serviceErr)
		if rpcErr.Data == nil {
			rpcErr.Data = &models.JSONRPCErrorData{}
		}
		if rpcErr.Data.Operation == "" {
			rpcErr.Data.Operation = req.Method
		}
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp, true
}
