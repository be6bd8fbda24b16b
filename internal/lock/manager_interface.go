package lock

import (
	"time"

	"github.com/gofrs/flock"
)

// FileLock is a held OS-level lock on a file's companion ".lock" file.
type FileLock struct {
	FilePath string
	flock    *flock.Flock
}

// LockManagerInterface is what the patch service needs from a lock manager.
// AcquireLock returns a handle that must be passed back to ReleaseLock.
type LockManagerInterface interface {
	AcquireLock(filePath string, timeout time.Duration) (*FileLock, error)
	ReleaseLock(lock *FileLock) error
}
