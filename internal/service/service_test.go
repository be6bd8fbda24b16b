package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"file-patch-server/internal/config"
	"file-patch-server/internal/errors"
	"file-patch-server/internal/filesystem"
	"file-patch-server/internal/lock"
	"file-patch-server/internal/models"
	"file-patch-server/internal/patch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkingDir = "/work"

// --- Mock FileSystemAdapter ---
type mockFileSystemAdapter struct {
	files             map[string][]byte
	dirs              map[string]bool
	modes             map[string]os.FileMode
	symlinks          map[string]string
	readShouldFail    bool
	writeShouldFail   bool
	statsShouldFail   bool
	isValidUTF8Result bool
	writes            int
}

func newMockFsAdapter() *mockFileSystemAdapter {
	return &mockFileSystemAdapter{
		files:             make(map[string][]byte),
		dirs:              map[string]bool{testWorkingDir: true},
		modes:             make(map[string]os.FileMode),
		symlinks:          make(map[string]string),
		isValidUTF8Result: true,
	}
}

func (m *mockFileSystemAdapter) put(name, content string) {
	m.files[filepath.Join(testWorkingDir, name)] = []byte(content)
}

func (m *mockFileSystemAdapter) get(name string) string {
	return string(m.files[filepath.Join(testWorkingDir, name)])
}

func (m *mockFileSystemAdapter) ReadFileBytes(filePath string) ([]byte, error) {
	if m.readShouldFail {
		return nil, fmt.Errorf("mock read error")
	}
	content, ok := m.files[filePath]
	if !ok {
		return nil, os.ErrNotExist
	}
	return content, nil
}

func (m *mockFileSystemAdapter) WriteFileBytesAtomic(filePath string, content []byte, perm os.FileMode) error {
	if m.writeShouldFail {
		return fmt.Errorf("mock write error: %w", os.ErrPermission)
	}
	m.writes++
	m.files[filePath] = content
	m.modes[filePath] = perm
	return nil
}

func (m *mockFileSystemAdapter) GetFileStats(filePath string) (*filesystem.FileStats, error) {
	if m.statsShouldFail {
		return nil, fmt.Errorf("mock stats error")
	}
	if m.dirs[filePath] {
		return &filesystem.FileStats{IsDir: true, Mode: 0o755}, nil
	}
	content, ok := m.files[filePath]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", filePath, os.ErrNotExist)
	}
	return &filesystem.FileStats{Size: int64(len(content)), ModTime: time.Now(), Mode: 0o644}, nil
}

func (m *mockFileSystemAdapter) IsValidUTF8(content []byte) bool {
	return m.isValidUTF8Result
}

func (m *mockFileSystemAdapter) EvalSymlinks(path string) (string, error) {
	if target, ok := m.symlinks[path]; ok {
		return target, nil
	}
	if m.dirs[path] {
		return path, nil
	}
	if _, ok := m.files[path]; ok {
		return path, nil
	}
	return "", fmt.Errorf("lstat %s: %w", path, os.ErrNotExist)
}

// --- Mock LockManager ---
type mockLockManager struct {
	acquireErr error
	acquired   []string
	released   int
}

func (m *mockLockManager) AcquireLock(filePath string, timeout time.Duration) (*lock.FileLock, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquired = append(m.acquired, filePath)
	return &lock.FileLock{FilePath: filePath}, nil
}

func (m *mockLockManager) ReleaseLock(l *lock.FileLock) error {
	m.released++
	return nil
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.WorkingDirectory = dir
	cfg.MaxFileSizeMB = 1
	cfg.MaxFileLines = 50
	cfg.OperationTimeoutSec = 5
	return cfg
}

func setupService(t *testing.T) (*DefaultPatchService, *mockFileSystemAdapter, *mockLockManager) {
	t.Helper()
	fs := newMockFsAdapter()
	lm := &mockLockManager{}
	engine, err := patch.New(patch.DefaultConfig())
	require.NoError(t, err)
	svc, err := NewDefaultPatchService(fs, lm, engine, testConfig(testWorkingDir), nil)
	require.NoError(t, err)
	return svc, fs, lm
}

func diffBlock(startLine int, search, replace string) string {
	var sb strings.Builder
	sb.WriteString("<<<<<<< SEARCH\n")
	if startLine > 0 {
		fmt.Fprintf(&sb, ":start_line:%d\n", startLine)
	}
	sb.WriteString("-------\n" + search + "\n=======\n")
	if replace != "" {
		sb.WriteString(replace + "\n")
	}
	sb.WriteString(">>>>>>> REPLACE\n")
	return sb.String()
}

func TestNewDefaultPatchService_Validation(t *testing.T) {
	fs := newMockFsAdapter()
	engine, err := patch.New(patch.DefaultConfig())
	require.NoError(t, err)

	_, err = NewDefaultPatchService(fs, &mockLockManager{}, engine, nil, nil)
	assert.EqualError(t, err, "configuration is required")
	_, err = NewDefaultPatchService(nil, &mockLockManager{}, engine, testConfig(testWorkingDir), nil)
	assert.EqualError(t, err, "filesystem adapter is required")
	_, err = NewDefaultPatchService(fs, nil, engine, testConfig(testWorkingDir), nil)
	assert.EqualError(t, err, "lock manager is required")
	_, err = NewDefaultPatchService(fs, &mockLockManager{}, nil, testConfig(testWorkingDir), nil)
	assert.EqualError(t, err, "patch engine is required")

	fs.put("file.txt", "x")
	_, err = NewDefaultPatchService(fs, &mockLockManager{}, engine, testConfig(filepath.Join(testWorkingDir, "file.txt")), nil)
	assert.ErrorContains(t, err, "not a directory")
}

func TestResolveAndValidatePath(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("ok.go", "")
	fs.put("pkg/sub.go", "")
	fs.symlinks[filepath.Join(testWorkingDir, "escape.go")] = "/etc/passwd"

	tests := []struct {
		name     string
		filename string
		wantCode int
	}{
		{"plain file", "ok.go", 0},
		{"nested file", "pkg/sub.go", 0},
		{"empty", "", errors.CodeInvalidParams},
		{"too long", strings.Repeat("a", 256), errors.CodeInvalidParams},
		{"invalid chars", "bad name?.go", errors.CodeInvalidParams},
		{"absolute", "/etc/passwd", errors.CodeInvalidParams},
		{"traversal", "../outside.go", errors.CodeInvalidParams},
		{"root itself", ".", errors.CodeInvalidParams},
		{"symlink escape", "escape.go", errors.CodeInvalidParams},
		{"missing", "missing.go", errors.CodeFileSystemError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, errDetail := svc.resolveAndValidatePath(tt.filename, "read")
			if tt.wantCode == 0 {
				require.Nil(t, errDetail)
				assert.Equal(t, filepath.Join(testWorkingDir, tt.filename), path)
				return
			}
			require.NotNil(t, errDetail)
			assert.Equal(t, tt.wantCode, errDetail.Code)
		})
	}
}

func TestReadFile(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("five.txt", "one\ntwo\r\nthree\nfour\nfive\n")
	fs.put("empty.txt", "")

	tests := []struct {
		name      string
		req       models.ReadFileRequest
		want      string
		wantTotal int
		wantRange *models.RangeRequested
		wantCode  int
	}{
		{name: "full", req: models.ReadFileRequest{Name: "five.txt"}, want: "one\ntwo\nthree\nfour\nfive", wantTotal: 5},
		{name: "range", req: models.ReadFileRequest{Name: "five.txt", StartLine: 2, EndLine: 3}, want: "two\nthree", wantTotal: 5, wantRange: &models.RangeRequested{StartLine: 2, EndLine: 3}},
		{name: "open end clamps", req: models.ReadFileRequest{Name: "five.txt", StartLine: 4, EndLine: 99}, want: "four\nfive", wantTotal: 5, wantRange: &models.RangeRequested{StartLine: 4, EndLine: 5}},
		{name: "line numbers", req: models.ReadFileRequest{Name: "five.txt", StartLine: 2, EndLine: 3, LineNumbers: true}, want: "2|two\n3|three", wantTotal: 5, wantRange: &models.RangeRequested{StartLine: 2, EndLine: 3}},
		{name: "empty file", req: models.ReadFileRequest{Name: "empty.txt"}, want: "", wantTotal: 0},
		{name: "start past end", req: models.ReadFileRequest{Name: "five.txt", StartLine: 6}, wantCode: errors.CodeInvalidParams},
		{name: "inverted range", req: models.ReadFileRequest{Name: "five.txt", StartLine: 3, EndLine: 2}, wantCode: errors.CodeInvalidParams},
		{name: "negative", req: models.ReadFileRequest{Name: "five.txt", StartLine: -1}, wantCode: errors.CodeInvalidParams},
		{name: "empty file with start", req: models.ReadFileRequest{Name: "empty.txt", StartLine: 2}, wantCode: errors.CodeInvalidParams},
		{name: "not found", req: models.ReadFileRequest{Name: "nope.txt"}, wantCode: errors.CodeFileSystemError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, errDetail := svc.ReadFile(tt.req)
			if tt.wantCode != 0 {
				require.NotNil(t, errDetail)
				assert.Equal(t, tt.wantCode, errDetail.Code)
				return
			}
			require.Nil(t, errDetail)
			assert.Equal(t, tt.want, resp.Content)
			assert.Equal(t, tt.wantTotal, resp.TotalLines)
			assert.Equal(t, tt.wantRange, resp.RangeRequested)
		})
	}
}

func TestReadFile_Limits(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("big.txt", strings.Repeat("x\n", 51))
	_, errDetail := svc.ReadFile(models.ReadFileRequest{Name: "big.txt"})
	require.NotNil(t, errDetail)
	assert.Contains(t, errDetail.Message, "maximum line count")

	fs.put("huge.txt", strings.Repeat("x", 2*1024*1024))
	_, errDetail = svc.ReadFile(models.ReadFileRequest{Name: "huge.txt"})
	require.NotNil(t, errDetail)
	assert.Equal(t, errors.CodeFileTooLarge, errDetail.Code)

	fs.put("bin.dat", "\xff")
	fs.isValidUTF8Result = false
	_, errDetail = svc.ReadFile(models.ReadFileRequest{Name: "bin.dat"})
	require.NotNil(t, errDetail)
	assert.Contains(t, errDetail.Message, "not valid UTF-8")
}

func TestApplyDiff_WritesPatchedFile(t *testing.T) {
	svc, fs, lm := setupService(t)
	fs.put("main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")

	resp, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{
		Name: "main.go",
		Diff: diffBlock(4, "\tprintln(\"hi\")", "\tprintln(\"hello\")\n\tprintln(\"world\")"),
	})
	require.Nil(t, errDetail)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.BlocksApplied)
	assert.Equal(t, 0, resp.BlocksFailed)
	assert.Equal(t, 6, resp.NewTotalLines)
	assert.Equal(t, "-\tprintln(\"hi\")\n+\tprintln(\"hello\")\n+\tprintln(\"world\")\n", resp.Diff)
	assert.Empty(t, resp.Content)

	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(\"hello\")\n\tprintln(\"world\")\n}\n", fs.get("main.go"))
	assert.Equal(t, os.FileMode(0o644), fs.modes[filepath.Join(testWorkingDir, "main.go")])
	assert.Equal(t, []string{filepath.Join(testWorkingDir, "main.go")}, lm.acquired)
	assert.Equal(t, 1, lm.released)
}

func TestApplyDiff_DryRunDoesNotWrite(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("a.txt", "a\nb\nc\n")

	resp, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(2, "b", "B"), DryRun: true})
	require.Nil(t, errDetail)
	assert.True(t, resp.Success)
	assert.True(t, resp.DryRun)
	assert.Equal(t, "a\nB\nc\n", resp.Content)
	assert.Equal(t, "a\nb\nc\n", fs.get("a.txt"))
	assert.Zero(t, fs.writes)
}

func TestApplyDiff_NoBlockAppliedLeavesFile(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("a.txt", "a\nb\nc\n")

	resp, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(2, "zzz qqq", "B")})
	require.Nil(t, errDetail)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.BlocksApplied)
	assert.Equal(t, 1, resp.BlocksFailed)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, patch.OutcomeNoMatch, resp.Outcomes[0].Kind)
	assert.Equal(t, 3, resp.NewTotalLines)
	assert.Empty(t, resp.Diff)
	assert.Zero(t, fs.writes)
}

func TestApplyDiff_PartialSuccess(t *testing.T) {
	svc, fs, _ := setupService(t)
	fs.put("a.txt", "a\nb\nc\n")

	diff := diffBlock(1, "a", "A") + diffBlock(0, "missing line entirely", "x")
	resp, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{Name: "a.txt", Diff: diff})
	require.Nil(t, errDetail)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.BlocksApplied)
	assert.Equal(t, 1, resp.BlocksFailed)
	assert.Equal(t, "A\nb\nc\n", fs.get("a.txt"))
}

func TestApplyDiff_GrammarError(t *testing.T) {
	svc, fs, lm := setupService(t)
	fs.put("a.txt", "a\n")

	_, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{Name: "a.txt", Diff: "<<<<<<< SEARCH\na\n>>>>>>> REPLACE\n"})
	require.NotNil(t, errDetail)
	assert.Equal(t, errors.CodeDiffGrammar, errDetail.Code)
	assert.Equal(t, "a\n", fs.get("a.txt"))
	assert.Equal(t, 1, lm.released)
}

func TestApplyDiff_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*mockFileSystemAdapter, *mockLockManager)
		req      models.ApplyDiffRequest
		wantCode int
	}{
		{
			name:     "empty diff",
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: "  \n"},
			wantCode: errors.CodeInvalidParams,
		},
		{
			name:     "invalid diff encoding",
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: "\xff\xfe"},
			wantCode: errors.CodeInvalidParams,
		},
		{
			name:     "missing file",
			req:      models.ApplyDiffRequest{Name: "missing.txt", Diff: diffBlock(1, "a", "b")},
			wantCode: errors.CodeFileSystemError,
		},
		{
			name:     "lock timeout",
			setup:    func(_ *mockFileSystemAdapter, lm *mockLockManager) { lm.acquireErr = lock.ErrLockTimeout },
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(1, "a", "b")},
			wantCode: errors.CodeOperationLockFailed,
		},
		{
			name:     "read failure",
			setup:    func(fs *mockFileSystemAdapter, _ *mockLockManager) { fs.readShouldFail = true },
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(1, "a", "b")},
			wantCode: errors.CodeFileSystemError,
		},
		{
			name:     "write failure",
			setup:    func(fs *mockFileSystemAdapter, _ *mockLockManager) { fs.writeShouldFail = true },
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(1, "a", "b")},
			wantCode: errors.CodeFileSystemError,
		},
		{
			name:     "result exceeds line limit",
			req:      models.ApplyDiffRequest{Name: "a.txt", Diff: diffBlock(1, "a", strings.Repeat("x\n", 60))},
			wantCode: errors.CodeInvalidParams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fs, lm := setupService(t)
			fs.put("a.txt", "a\n")
			if tt.setup != nil {
				tt.setup(fs, lm)
			}
			resp, errDetail := svc.ApplyDiff(tt.req)
			assert.Nil(t, resp)
			require.NotNil(t, errDetail)
			assert.Equal(t, tt.wantCode, errDetail.Code)
			assert.Equal(t, "a\n", fs.get("a.txt"))
		})
	}
}

func TestApplyDiff_RealFilesystem(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(target, []byte("# Notes\r\n\r\n- first\r\n- second\r\n"), 0o600))

	engine, err := patch.New(patch.DefaultConfig())
	require.NoError(t, err)
	svc, err := NewDefaultPatchService(filesystem.NewDefaultFileSystemAdapter(), lock.NewLockManager(nil), engine, testConfig(dir), nil)
	require.NoError(t, err)

	read, errDetail := svc.ReadFile(models.ReadFileRequest{Name: "notes.md", LineNumbers: true})
	require.Nil(t, errDetail)
	assert.Equal(t, "1|# Notes\n2|\n3|- first\n4|- second", read.Content)

	// Payload copied straight from the numbered read.
	resp, errDetail := svc.ApplyDiff(models.ApplyDiffRequest{Name: "notes.md", Diff: diffBlock(4, "4|- second", "4|- second\n5|- third")})
	require.Nil(t, errDetail)
	require.True(t, resp.Success, "%+v", resp.Outcomes)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\r\n\r\n- first\r\n- second\r\n- third\r\n", string(got))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
