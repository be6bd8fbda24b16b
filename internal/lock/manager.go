package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

var (
	// ErrLockTimeout is returned when acquiring a lock times out.
	ErrLockTimeout = errors.New("timeout acquiring lock")
	// ErrFilenameRequired is returned when a filename is empty.
	ErrFilenameRequired = errors.New("filename is required")
	// ErrNilLock is returned when a nil lock handle is provided to ReleaseLock.
	ErrNilLock = errors.New("nil lock handle")
)

const (
	lockSuffix   = ".lock"
	pollInterval = 10 * time.Millisecond
)

// LockManager serializes patch operations per file using flock(2) on a
// companion "<file>.lock" file, so separate server processes editing the
// same tree also exclude each other.
type LockManager struct {
	logger *zap.Logger
}

// NewLockManager returns a LockManager. A nil logger disables logging.
func NewLockManager(logger *zap.Logger) *LockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockManager{logger: logger}
}

// AcquireLock takes the exclusive lock for filename, polling until timeout.
func (lm *LockManager) AcquireLock(filename string, timeout time.Duration) (*FileLock, error) {
	if filename == "" {
		return nil, ErrFilenameRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	fl := flock.New(filename + lockSuffix)
	locked, err := fl.TryLockContext(ctx, pollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			lm.logger.Warn("lock wait timed out", zap.String("file", filename), zap.Duration("timeout", timeout))
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("error acquiring file lock for %s: %w", filename, err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}

	lm.logger.Debug("lock acquired", zap.String("file", filename), zap.Duration("waited", time.Since(start)))
	return &FileLock{FilePath: filename, flock: fl}, nil
}

// ReleaseLock releases a lock returned by AcquireLock.
func (lm *LockManager) ReleaseLock(lock *FileLock) error {
	if lock == nil {
		return ErrNilLock
	}
	if lock.flock == nil {
		return nil
	}
	if err := lock.flock.Unlock(); err != nil {
		return fmt.Errorf("error releasing file lock for %s: %w", lock.FilePath, err)
	}
	lm.logger.Debug("lock released", zap.String("file", lock.FilePath))
	return nil
}

var _ LockManagerInterface = (*LockManager)(nil)
