package archivelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"lectern/internal/services"
)

const defaultRetryDelay = 250 * time.Millisecond

// ErrLocked reports that another run holds the archive.
var ErrLocked = fmt.Errorf("%w: archive is locked by another run", services.ErrTransient)

var lockNamespace = uuid.MustParse("9a0cf1f4-4b1e-4f36-9d0e-2d0c6f1f5a11")

// Locker hands out exclusive holds on archive paths.
type Locker struct {
	dir   string
	retry time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New returns a Locker that keeps its lock files in dir.
func New(dir string) *Locker {
	return &Locker{
		dir:   dir,
		retry: defaultRetryDelay,
		slots: make(map[string]*slot),
	}
}

// Handle is one acquired hold. Release is idempotent.
type Handle struct {
	key    string
	file   *flock.Flock
	locker *Locker
	once   sync.Once
	err    error
}

// Key returns the normalized archive path the handle covers.
func (h *Handle) Key() string { return h.key }

// Release drops the hold.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.err = h.file.Unlock()
		h.locker.leave(h.key)
	})
	return h.err
}

// Acquire blocks until archivePath is free or ctx ends.
func (l *Locker) Acquire(ctx context.Context, archivePath string) (*Handle, error) {
	key, err := normalizeKey(archivePath)
	if err != nil {
		return nil, err
	}
	s := l.enter(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.abandon(key)
		return nil, services.Wrap(services.ErrCanceled, "", "lock archive", key, ctx.Err())
	}

	file := flock.New(l.lockPath(key))
	if err := l.ensureDir(); err != nil {
		l.leave(key)
		return nil, err
	}
	ok, err := file.TryLockContext(ctx, l.retry)
	if err != nil || !ok {
		l.leave(key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.Wrap(services.ErrCanceled, "", "lock archive", key, ctxErr)
		}
		if err == nil {
			err = ErrLocked
		}
		return nil, services.Wrap(services.ErrExternalTool, "", "lock archive", key, err)
	}
	return &Handle{key: key, file: file, locker: l}, nil
}

// TryAcquire takes the hold only if it is free right now, returning
// ErrLocked otherwise.
func (l *Locker) TryAcquire(archivePath string) (*Handle, error) {
	key, err := normalizeKey(archivePath)
	if err != nil {
		return nil, err
	}
	s := l.enter(key)
	select {
	case s.ch <- struct{}{}:
	default:
		l.abandon(key)
		return nil, ErrLocked
	}

	if err := l.ensureDir(); err != nil {
		l.leave(key)
		return nil, err
	}
	file := flock.New(l.lockPath(key))
	ok, err := file.TryLock()
	if err != nil {
		l.leave(key)
		return nil, services.Wrap(services.ErrExternalTool, "", "lock archive", key, err)
	}
	if !ok {
		l.leave(key)
		return nil, ErrLocked
	}
	return &Handle{key: key, file: file, locker: l}, nil
}

// IsLocked reports whether err came from a held archive.
func IsLocked(err error) bool { return errors.Is(err, ErrLocked) }

func (l *Locker) enter(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

// abandon drops a reference that never acquired the slot.
func (l *Locker) abandon(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release(key)
}

// leave frees the slot and drops the reference.
func (l *Locker) leave(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		<-s.ch
	}
	l.release(key)
}

func (l *Locker) release(key string) {
	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(l.slots, key)
	}
}

func (l *Locker) ensureDir() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "lock archive", "create lock directory", err)
	}
	return nil
}

func (l *Locker) lockPath(key string) string {
	return filepath.Join(l.dir, uuid.NewSHA1(lockNamespace, []byte(key)).String()+".lock")
}

func normalizeKey(archivePath string) (string, error) {
	trimmed := strings.TrimSpace(archivePath)
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "", "lock archive", "archive path is required", nil)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "lock archive", "resolve archive path", err)
	}
	return filepath.Clean(abs), nil
}
