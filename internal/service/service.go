package service

import (
	"context"
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"file-patch-server/internal/config"
	"file-patch-server/internal/errors"
	"file-patch-server/internal/filesystem"
	"file-patch-server/internal/lock"
	"file-patch-server/internal/models"
	"file-patch-server/internal/patch"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxFilenameLength = 255
	maxDiffBytes             = 10 * 1024 * 1024
)

var filenameRegex = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// PatchService reads files and applies SEARCH/REPLACE diffs to them.
type PatchService interface {
	ReadFile(req models.ReadFileRequest) (*models.ReadFileResponse, *models.ErrorDetail)
	ApplyDiff(req models.ApplyDiffRequest) (*models.ApplyDiffResponse, *models.ErrorDetail)
}

// DefaultPatchService implements PatchService on top of a filesystem
// adapter, a per-file lock manager and a patch engine.
type DefaultPatchService struct {
	fsAdapter    filesystem.FileSystemAdapter
	lockManager  lock.LockManagerInterface
	engine       *patch.Engine
	logger       *zap.Logger
	workingDir   string
	maxFileSize  int64
	maxLineCount int
	opTimeout    time.Duration
	ops          *semaphore.Weighted
}

// NewDefaultPatchService creates a DefaultPatchService rooted at
// cfg.WorkingDirectory. A nil logger disables logging.
func NewDefaultPatchService(
	fs filesystem.FileSystemAdapter,
	lm lock.LockManagerInterface,
	engine *patch.Engine,
	cfg *config.Config,
	logger *zap.Logger,
) (*DefaultPatchService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem adapter is required")
	}
	if lm == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("patch engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absWorkingDir, err := filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for working directory: %w", err)
	}
	// Confinement checks compare resolved paths, so the root must be resolved too.
	absWorkingDir, err = fs.EvalSymlinks(absWorkingDir)
	if err != nil {
		return nil, fmt.Errorf("working directory is not accessible: %w", err)
	}
	stats, err := fs.GetFileStats(absWorkingDir)
	if err != nil {
		return nil, fmt.Errorf("error accessing working directory %s: %w", absWorkingDir, err)
	}
	if !stats.IsDir {
		return nil, fmt.Errorf("working directory path is not a directory: %s", absWorkingDir)
	}

	maxOps := cfg.MaxConcurrentOps
	if maxOps < 1 {
		maxOps = 1
	}

	return &DefaultPatchService{
		fsAdapter:    fs,
		lockManager:  lm,
		engine:       engine,
		logger:       logger,
		workingDir:   absWorkingDir,
		maxFileSize:  cfg.MaxFileSizeBytes(),
		maxLineCount: cfg.MaxFileLines,
		opTimeout:    cfg.OperationTimeout(),
		ops:          semaphore.NewWeighted(int64(maxOps)),
	}, nil
}

// WorkingDirectory returns the resolved root all file names are relative to.
func (s *DefaultPatchService) WorkingDirectory() string { return s.workingDir }

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveAndValidatePath maps a request file name to a path inside the
// working directory. Symlinks are allowed as long as their target stays
// inside it.
func (s *DefaultPatchService) resolveAndValidatePath(filename, operation string) (string, *models.ErrorDetail) {
	if len(filename) == 0 || len(filename) > defaultMaxFilenameLength {
		return "", errors.NewInvalidParamsError(
			fmt.Sprintf("Filename length must be between 1 and %d characters.", defaultMaxFilenameLength),
			map[string]interface{}{"filename": filename, "length": len(filename)},
		)
	}
	if !filenameRegex.MatchString(filename) || filepath.IsAbs(filename) {
		return "", errors.NewInvalidParamsError("Filename contains invalid characters.", map[string]interface{}{"filename": filename})
	}

	cleanedPath := filepath.Clean(filepath.Join(s.workingDir, filename))
	if cleanedPath == s.workingDir || !within(s.workingDir, cleanedPath) {
		return "", errors.NewInvalidParamsError("Path traversal attempt detected.", map[string]interface{}{"filename": filename})
	}

	resolvedPath, err := s.fsAdapter.EvalSymlinks(cleanedPath)
	if err != nil {
		return "", errors.FromFileSystemError(filename, operation, err)
	}
	if !within(s.workingDir, resolvedPath) {
		return "", errors.NewInvalidParamsError("Path traversal attempt detected (symlink).",
			map[string]interface{}{"filename": filename, "resolved_path": resolvedPath})
	}
	return cleanedPath, nil
}

// loadedFile is a validated, decoded file.
type loadedFile struct {
	content string
	lines   []string
	stats   *filesystem.FileStats
}

// loadFile reads filePath and enforces the size, encoding and line count limits.
func (s *DefaultPatchService) loadFile(filePath, name, operation string) (*loadedFile, *models.ErrorDetail) {
	stats, err := s.fsAdapter.GetFileStats(filePath)
	if err != nil {
		return nil, errors.FromFileSystemError(name, operation, err)
	}
	if stats.IsDir {
		return nil, errors.NewInvalidParamsError(fmt.Sprintf("Path '%s' is a directory, not a file.", name), map[string]interface{}{"filename": name})
	}
	if stats.Size > s.maxFileSize {
		return nil, errors.NewFileTooLargeError(name, int(s.maxFileSize/(1024*1024)))
	}

	raw, err := s.fsAdapter.ReadFileBytes(filePath)
	if err != nil {
		return nil, errors.FromFileSystemError(name, operation, err)
	}
	if !s.fsAdapter.IsValidUTF8(raw) {
		return nil, errors.NewInvalidEncodingError(name, operation)
	}

	content := string(raw)
	lines := splitLines(content)
	if len(lines) > s.maxLineCount {
		return nil, errors.NewInvalidParamsError(fmt.Sprintf("File exceeds maximum line count of %d.", s.maxLineCount),
			map[string]interface{}{"filename": name, "line_count": len(lines), "max_line_count": s.maxLineCount})
	}
	return &loadedFile{content: content, lines: lines, stats: stats}, nil
}

// splitLines splits content into lines without their terminators. A final
// newline does not start an extra line; an empty file has no lines.
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ReadFile implements PatchService.
func (s *DefaultPatchService) ReadFile(req models.ReadFileRequest) (*models.ReadFileResponse, *models.ErrorDetail) {
	filePath, errDetail := s.resolveAndValidatePath(req.Name, "read")
	if errDetail != nil {
		return nil, errDetail
	}

	if req.StartLine < 0 || req.EndLine < 0 {
		return nil, errors.NewInvalidParamsError("Line numbers must be 1 or greater if specified.",
			map[string]interface{}{"filename": req.Name, "start_line": req.StartLine, "end_line": req.EndLine})
	}
	if req.StartLine > 0 && req.EndLine > 0 && req.StartLine > req.EndLine {
		return nil, errors.NewInvalidParamsError("start_line cannot be greater than end_line.",
			map[string]interface{}{"filename": req.Name, "start_line": req.StartLine, "end_line": req.EndLine})
	}

	f, errDetail := s.loadFile(filePath, req.Name, "read")
	if errDetail != nil {
		return nil, errDetail
	}
	total := len(f.lines)

	startLine, endLine := req.StartLine, req.EndLine
	if startLine == 0 {
		startLine = 1
	}
	if endLine == 0 || endLine > total {
		endLine = total
	}
	if total > 0 && startLine > total {
		return nil, errors.NewInvalidParamsError(
			fmt.Sprintf("start_line %d is greater than total lines %d.", startLine, total),
			map[string]interface{}{"filename": req.Name, "start_line": startLine, "total_lines": total},
		)
	}
	if total == 0 && startLine > 1 {
		return nil, errors.NewInvalidParamsError(
			fmt.Sprintf("start_line %d is invalid for an empty file.", startLine),
			map[string]interface{}{"filename": req.Name, "start_line": startLine, "total_lines": total},
		)
	}

	var selected []string
	if total > 0 {
		selected = f.lines[startLine-1 : endLine]
	}

	var content string
	if req.LineNumbers {
		var sb strings.Builder
		for i, line := range selected {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(strconv.Itoa(startLine + i))
			sb.WriteByte('|')
			sb.WriteString(line)
		}
		content = sb.String()
	} else {
		content = strings.Join(selected, "\n")
	}

	resp := &models.ReadFileResponse{Content: content, TotalLines: total}
	if req.StartLine > 0 || req.EndLine > 0 {
		resp.RangeRequested = &models.RangeRequested{StartLine: startLine, EndLine: endLine}
	}
	return resp, nil
}

// ApplyDiff implements PatchService. A diff in which no block applies is
// not an error: the response reports Success false with every block's
// outcome, and the file is left untouched.
func (s *DefaultPatchService) ApplyDiff(req models.ApplyDiffRequest) (*models.ApplyDiffResponse, *models.ErrorDetail) {
	started := time.Now()
	log := s.logger.With(
		zap.String("op_id", uuid.NewString()),
		zap.String("operation", "apply_diff"),
		zap.String("file", req.Name),
		zap.Bool("dry_run", req.DryRun),
	)

	if strings.TrimSpace(req.Diff) == "" {
		return nil, errors.NewInvalidParamsError("diff is required.", map[string]interface{}{"filename": req.Name})
	}
	if len(req.Diff) > maxDiffBytes || !utf8.ValidString(req.Diff) {
		return nil, errors.NewInvalidParamsError("diff must be valid UTF-8 and at most 10 MB.", map[string]interface{}{"filename": req.Name})
	}

	filePath, errDetail := s.resolveAndValidatePath(req.Name, "apply_diff")
	if errDetail != nil {
		log.Info("Rejected apply_diff request", zap.String("reason", errDetail.Message))
		return nil, errDetail
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.ops.Acquire(ctx, 1); err != nil {
		log.Warn("Too many concurrent operations", zap.Error(err))
		return nil, errors.NewOperationLockFailedError(req.Name, "apply_diff", "too many concurrent operations")
	}
	defer s.ops.Release(1)

	fileLock, err := s.lockManager.AcquireLock(filePath, s.opTimeout)
	if err != nil {
		log.Warn("Could not lock file", zap.Error(err))
		return nil, errors.NewOperationLockFailedError(req.Name, "apply_diff", err.Error())
	}
	defer func() {
		if err := s.lockManager.ReleaseLock(fileLock); err != nil {
			log.Error("Error releasing file lock", zap.Error(err))
		}
	}()

	f, errDetail := s.loadFile(filePath, req.Name, "apply_diff")
	if errDetail != nil {
		return nil, errDetail
	}

	res, err := s.engine.ApplyDiff(f.content, req.Diff)
	if err != nil {
		var gerr *patch.GrammarError
		if stdErrors.As(err, &gerr) {
			log.Info("Malformed diff", zap.Error(err))
			return nil, errors.NewDiffGrammarError(req.Name, gerr)
		}
		log.Error("Patch engine failed", zap.Error(err))
		return nil, errors.NewInternalError(err.Error())
	}

	resp := &models.ApplyDiffResponse{
		Success:       res.Success,
		BlocksApplied: res.Applied,
		BlocksFailed:  len(res.Failed()),
		Outcomes:      res.Outcomes,
		NewTotalLines: len(f.lines),
		DryRun:        req.DryRun,
	}

	if res.Success {
		newLines := len(splitLines(res.Content))
		if newLines > s.maxLineCount {
			return nil, errors.NewInvalidParamsError(
				fmt.Sprintf("Patched file would exceed maximum line count of %d (new count: %d).", s.maxLineCount, newLines),
				map[string]interface{}{"filename": req.Name, "new_line_count": newLines, "max_line_count": s.maxLineCount})
		}
		if int64(len(res.Content)) > s.maxFileSize {
			return nil, errors.NewFileTooLargeError(req.Name, int(s.maxFileSize/(1024*1024)))
		}

		resp.NewTotalLines = newLines
		resp.Diff = patch.Preview(f.content, res.Content)
		if req.DryRun {
			resp.Content = res.Content
		} else if err := s.fsAdapter.WriteFileBytesAtomic(filePath, []byte(res.Content), f.stats.Mode); err != nil {
			log.Error("Failed to write patched file", zap.Error(err))
			return nil, errors.FromFileSystemError(req.Name, "write_atomic", err)
		}
	}

	log.Info("Applied diff",
		zap.Bool("success", resp.Success),
		zap.Int("blocks_applied", resp.BlocksApplied),
		zap.Int("blocks_failed", resp.BlocksFailed),
		zap.Int("new_total_lines", resp.NewTotalLines),
		zap.Duration("took", time.Since(started)),
	)
	return resp, nil
}

var _ PatchService = (*DefaultPatchService)(nil)
