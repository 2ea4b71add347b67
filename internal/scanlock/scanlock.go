// Package scanlock provides the single-scan-per-installation file lock.
package scanlock

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// DefaultStaleness is how long a lock file is honored without a refresh
const DefaultStaleness = 10 * time.Minute

type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a non-blocking exclusive lock backed by a file
type Lock struct {
	path      string
	staleness time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	held bool
	now  func() time.Time
}

// New creates a lock at path. A non-positive staleness uses DefaultStaleness.
func New(path string, staleness time.Duration, logger *zap.Logger) *Lock {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Lock{path: path, staleness: staleness, logger: logger, now: time.Now}
}

// Acquire takes the lock. It returns false without error when another
// holder's lock is fresh.
func (l *Lock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, nil
	}

	if info, err := os.Stat(l.path); err == nil {
		age := l.now().Sub(info.ModTime())
		if age < l.staleness {
			return false, nil
		}
		l.logger.Warn("removing stale scan lock",
			zap.String("path", l.path),
			zap.Duration("age", age))
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, apperrors.ErrLockWrite.WithCause(err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, apperrors.ErrLockWrite.WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, apperrors.ErrLockWrite.WithCause(err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// another process won the race after the stale removal
			return false, nil
		}
		return false, apperrors.ErrLockWrite.WithCause(err)
	}

	payload, _ := json.Marshal(lockInfo{PID: os.Getpid(), AcquiredAt: l.now()})
	_, werr := f.Write(payload)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(l.path)
		if werr == nil {
			werr = cerr
		}
		return false, apperrors.ErrLockWrite.WithCause(werr)
	}

	l.held = true
	return true, nil
}

// Release removes the lock file if this instance holds it
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.ErrLockWrite.WithCause(err)
	}
	return nil
}

// Touch refreshes the lock's mtime so long scans are not considered stale
func (l *Lock) Touch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	now := l.now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return apperrors.ErrLockWrite.WithCause(err)
	}
	return nil
}

// Held reports whether this instance holds the lock
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
