package errors

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"file-patch-server/internal/models"
	"file-patch-server/internal/patch"
)

// JSON-RPC Error Codes (as per JSON-RPC 2.0 Specification)
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application Specific Error Codes
const (
	// CodeFileSystemError covers file system failures. The "type" key of the
	// error data narrows it down (file_not_found, permission_denied).
	CodeFileSystemError = -32001

	// CodeOperationLockFailed means the per-file lock could not be acquired in time.
	CodeOperationLockFailed = -32002

	// CodeFileTooLarge indicates the file exceeds the configured size limit.
	CodeFileTooLarge = -32003

	// CodeDiffGrammar means the diff's SEARCH/=======/REPLACE markers are out
	// of sequence. Nothing was applied.
	CodeDiffGrammar = -32004
)

// NewErrorDetail creates a new ErrorDetail.
func NewErrorDetail(code int, message string, data interface{}) *models.ErrorDetail {
	return &models.ErrorDetail{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewParseError creates an ErrorDetail for JSON parsing errors.
func NewParseError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeParseError, "Parse error", map[string]interface{}{"details": details})
}

// NewInvalidRequestError creates an ErrorDetail for invalid JSON-RPC Request objects.
func NewInvalidRequestError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeInvalidRequest, "Invalid Request", map[string]interface{}{"details": details})
}

// NewMethodNotFoundError creates an ErrorDetail when a JSON-RPC method is not found.
func NewMethodNotFoundError(methodName string) *models.ErrorDetail {
	return NewErrorDetail(CodeMethodNotFound, "Method not found", map[string]interface{}{"method": methodName})
}

// NewInvalidParamsError creates an ErrorDetail for invalid method parameters.
// paramIssues, when set, is reported under "param_issues"; a "filename" key
// in it is also lifted to the top level of the data.
func NewInvalidParamsError(summaryMessage string, paramIssues map[string]interface{}) *models.ErrorDetail {
	message := "Invalid params"
	if summaryMessage != "" {
		message = summaryMessage
	}
	data := map[string]interface{}{"details": message}
	if paramIssues != nil {
		data["param_issues"] = paramIssues
		if fn, ok := paramIssues["filename"]; ok {
			data["filename"] = fn
		}
	}
	return NewErrorDetail(CodeInvalidParams, message, data)
}

// NewInternalError creates an ErrorDetail for unexpected server errors.
func NewInternalError(details string) *models.ErrorDetail {
	return NewErrorDetail(CodeInternalError, "Internal error", map[string]interface{}{"details": details})
}

// NewFileSystemError creates a generic file system ErrorDetail.
func NewFileSystemError(filename, operation, details string) *models.ErrorDetail {
	return NewErrorDetail(CodeFileSystemError, "File system error", map[string]interface{}{
		"filename":  filename,
		"operation": operation,
		"details":   details,
	})
}

// NewFileNotFoundError creates an ErrorDetail for file not found errors. HTTP status: 404.
func NewFileNotFoundError(filename, operation string) *models.ErrorDetail {
	return NewErrorDetail(CodeFileSystemError, fmt.Sprintf("File '%s' not found", filename), map[string]interface{}{
		"filename":  filename,
		"operation": operation,
		"type":      "file_not_found",
	})
}

// NewPermissionDeniedError creates an ErrorDetail for permission denied errors. HTTP status: 403.
func NewPermissionDeniedError(filename, operation string) *models.ErrorDetail {
	return NewErrorDetail(CodeFileSystemError, fmt.Sprintf("Permission denied for file '%s'", filename), map[string]interface{}{
		"filename":  filename,
		"operation": operation,
		"type":      "permission_denied",
	})
}

// FromFileSystemError classifies an error returned by the filesystem adapter.
func FromFileSystemError(filename, operation string, err error) *models.ErrorDetail {
	switch {
	case stdErrors.Is(err, fs.ErrNotExist):
		return NewFileNotFoundError(filename, operation)
	case stdErrors.Is(err, fs.ErrPermission):
		return NewPermissionDeniedError(filename, operation)
	default:
		return NewFileSystemError(filename, operation, err.Error())
	}
}

// NewFileTooLargeError creates an ErrorDetail for files exceeding size limits. HTTP status: 413.
func NewFileTooLargeError(filename string, maxSizeMB int) *models.ErrorDetail {
	return NewErrorDetail(CodeFileTooLarge,
		fmt.Sprintf("File '%s' exceeds maximum allowed size of %d MB", filename, maxSizeMB),
		map[string]interface{}{
			"filename":    filename,
			"max_size_mb": maxSizeMB,
			"type":        "file_too_large",
		})
}

// NewInvalidEncodingError reports file content that is not valid UTF-8.
func NewInvalidEncodingError(filename, operation string) *models.ErrorDetail {
	return NewInvalidParamsError(fmt.Sprintf("File '%s' is not valid UTF-8", filename), map[string]interface{}{
		"filename":  filename,
		"operation": operation,
	})
}

// NewOperationLockFailedError creates an ErrorDetail for failures to acquire a lock.
func NewOperationLockFailedError(filename, operation string, details string) *models.ErrorDetail {
	return NewErrorDetail(CodeOperationLockFailed,
		fmt.Sprintf("Could not acquire lock for operation '%s' on file '%s'", operation, filename),
		map[string]interface{}{
			"filename":  filename,
			"operation": operation,
			"details":   details,
		})
}

// NewDiffGrammarError reports a malformed diff. The data carries the
// offending diff line and the marker that was expected there.
func NewDiffGrammarError(filename string, gerr *patch.GrammarError) *models.ErrorDetail {
	return NewErrorDetail(CodeDiffGrammar, "Malformed diff", map[string]interface{}{
		"filename":  filename,
		"operation": "apply_diff",
		"details":   gerr.Error(),
		"line":      gerr.Line,
		"expected":  gerr.Expected,
		"type":      "diff_grammar",
	})
}

// ToErrorResponse converts an ErrorDetail to an HTTP models.ErrorResponse.
func ToErrorResponse(errDetail *models.ErrorDetail) *models.ErrorResponse {
	if errDetail == nil {
		return nil
	}
	return &models.ErrorResponse{Error: *errDetail}
}

// ToJSONRPCError converts an ErrorDetail to a models.JSONRPCError, lifting
// the well-known data keys into JSONRPCErrorData.
func ToJSONRPCError(errDetail *models.ErrorDetail) *models.JSONRPCError {
	if errDetail == nil {
		return nil
	}
	rpcErr := &models.JSONRPCError{
		Code:    errDetail.Code,
		Message: errDetail.Message,
	}
	if errDetail.Data == nil {
		return rpcErr
	}
	data := &models.JSONRPCErrorData{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if m, ok := errDetail.Data.(map[string]interface{}); ok {
		data.Filename, _ = m["filename"].(string)
		data.Operation, _ = m["operation"].(string)
		if pi, ok := m["param_issues"]; ok {
			data.Details = fmt.Sprintf("Parameter issues: %v. Summary: %v", pi, m["details"])
		} else {
			data.Details, _ = m["details"].(string)
		}
	} else {
		data.Details = fmt.Sprintf("%v", errDetail.Data)
	}
	rpcErr.Data = data
	return rpcErr
}

// MapErrorToHTTPStatus maps an internal error code to an HTTP status code.
func MapErrorToHTTPStatus(errorCode int, errDetail *models.ErrorDetail) int {
	switch errorCode {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	case CodeFileSystemError:
		if errDetail != nil {
			if m, ok := errDetail.Data.(map[string]interface{}); ok {
				switch m["type"] {
				case "file_not_found":
					return http.StatusNotFound
				case "permission_denied":
					return http.StatusForbidden
				}
			}
		}
		return http.StatusInternalServerError
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeOperationLockFailed:
		return http.StatusConflict
	case CodeDiffGrammar:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
