package transport

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"file-patch-server/internal/errors"
	"file-patch-server/internal/models"
	"file-patch-server/internal/service"

	"go.uber.org/zap"
)

const (
	defaultReadTimeout      = 60 * time.Second
	defaultWriteTimeout     = 60 * time.Second
	defaultMaxRequestSizeMB = 50
)

// HTTPHandler serves the patch service over plain HTTP + JSON.
type HTTPHandler struct {
	service      service.PatchService
	logger       *zap.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxReqSize   int64
	Server       *http.Server
}

// NewHTTPHandler creates a new HTTPHandler. A nil logger disables logging.
func NewHTTPHandler(svc service.PatchService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		service:      svc,
		logger:       logger,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		maxReqSize:   int64(defaultMaxRequestSizeMB) * 1024 * 1024,
		Server:       &http.Server{},
	}
}

// RegisterRoutes sets up the HTTP routes for the handler.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/read_file", h.handleReadFile)
	mux.HandleFunc("/apply_diff", h.handleApplyDiff)
	mux.HandleFunc("/health", h.handleHealthCheck)
}

// Handler returns the routed handler with request logging.
func (h *HTTPHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (h *HTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("Error encoding JSON response", zap.Error(err))
		}
	}
}

func (h *HTTPHandler) writeJSONErrorResponse(w http.ResponseWriter, httpStatusCode int, errorDetail *models.ErrorDetail) {
	if errorDetail == nil {
		errorDetail = errors.NewInternalError("An unexpected error occurred and error details were lost.")
		httpStatusCode = http.StatusInternalServerError
	}
	h.writeJSONResponse(w, httpStatusCode, errors.ToErrorResponse(errorDetail))
}

// decodeJSONBody strictly decodes a POSTed JSON body into dst. On failure
// it has already written the error response and returns false.
func (h *HTTPHandler) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		h.writeJSONErrorResponse(w, http.StatusMethodNotAllowed,
			errors.NewInvalidRequestError(fmt.Sprintf("Method %s not allowed for %s. Use POST.", r.Method, r.URL.Path)))
		return false
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.writeJSONErrorResponse(w, http.StatusUnsupportedMediaType,
			errors.NewInvalidRequestError("Invalid Content-Type header. Must be 'application/json' or 'application/json; charset=utf-8'."))
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxReqSize)
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if err == nil {
		return true
	}

	var (
		maxBytesErr *http.MaxBytesError
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
	)
	switch {
	case stdErrors.As(err, &maxBytesErr):
		h.writeJSONErrorResponse(w, http.StatusRequestEntityTooLarge,
			errors.NewInvalidRequestError(fmt.Sprintf("Request body exceeds maximum size of %dMB.", defaultMaxRequestSizeMB)))
	case stdErrors.As(err, &syntaxErr):
		h.writeJSONErrorResponse(w, http.StatusBadRequest,
			errors.NewParseError(fmt.Sprintf("Invalid JSON syntax at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())))
	case stdErrors.As(err, &typeErr):
		h.writeJSONErrorResponse(w, http.StatusBadRequest,
			errors.NewParseError(fmt.Sprintf("Invalid JSON type for field '%s'. Expected '%s' but got '%s' at offset %d.", typeErr.Field, typeErr.Type, typeErr.Value, typeErr.Offset)))
	default:
		h.writeJSONErrorResponse(w, http.StatusBadRequest,
			errors.NewParseError(fmt.Sprintf("Failed to decode request body: %v", err)))
	}
	return false
}

func (h *HTTPHandler) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req models.ReadFileRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	resp, serviceErr := h.service.ReadFile(req)
	if serviceErr != nil {
		h.writeJSONErrorResponse(w, errors.MapErrorToHTTPStatus(serviceErr.Code, serviceErr), serviceErr)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// handleApplyDiff answers 200 whenever the diff was processed, including
// when no block applied; the body's success and outcomes tell them apart.
func (h *HTTPHandler) handleApplyDiff(w http.ResponseWriter, r *http.Request) {
	var req models.ApplyDiffRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	resp, serviceErr := h.service.ApplyDiff(req)
	if serviceErr != nil {
		h.writeJSONErrorResponse(w, errors.MapErrorToHTTPStatus(serviceErr.Code, serviceErr), serviceErr)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// StartServer listens on port until Shutdown is called. Timeouts of zero
// keep the defaults.
func (h *HTTPHandler) StartServer(port int, readTimeout, writeTimeout time.Duration) error {
	if readTimeout <= 0 {
		readTimeout = h.readTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = h.writeTimeout
	}

	h.Server.Addr = fmt.Sprintf(":%d", port)
	h.Server.Handler = h.Handler()
	h.Server.ReadTimeout = readTimeout
	h.Server.WriteTimeout = writeTimeout
	h.Server.ErrorLog = zap.NewStdLog(h.logger)

	h.logger.Info("HTTP server starting",
		zap.Int("port", port),
		zap.Duration("read_timeout", readTimeout),
		zap.Duration("write_timeout", writeTimeout))
	if err := h.Server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	h.logger.Info("HTTP server shut down", zap.Int("port", port))
	return nil
}

// Shutdown gracefully stops the server started by StartServer.
func (h *HTTPHandler) Shutdown(ctx context.Context) error {
	return h.Server.Shutdown(ctx)
}
