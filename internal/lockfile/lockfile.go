// Package lockfile implements cross-process mutual exclusion for deployment
// resource scopes. A scope ("<workspace>#<platform>") maps to one JSON lock
// file; whoever creates the file owns the scope until release or staleness.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/pkg/logger"
	"github.com/ctxsync/ctxsync/pkg/safeio"
)

// Handle identifies an acquired lock. Only the holder of the handle may
// release the lock.
type Handle struct {
	ID         string
	Resource   string
	OwnerPID   int
	AcquiredAt time.Time

	path string
}

// document is the on-disk lock representation.
type document struct {
	ID        string    `json:"id"`
	ProcessID int       `json:"process_id"`
	Resource  string    `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
}

// Liveness decides whether the process owning a lock is still running.
// Probing is platform-specific, so it sits behind an interface and tests
// inject fakes.
type Liveness interface {
	Alive(pid int) bool
}

// SignalProbe checks liveness with a null signal. Any probe error other
// than "process does not exist" is treated as alive: a lock we cannot
// verify is a lock we do not steal.
type SignalProbe struct{}

// Alive reports whether pid refers to a running process.
func (SignalProbe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	return true
}

// Options configures a Coordinator.
type Options struct {
	Timeout      time.Duration // age past which a lock is stale
	PollInterval time.Duration // WaitForLock polling cadence
	Clock        func() time.Time
	Liveness     Liveness
}

// Coordinator manages the lock directory for one ctxsync home.
type Coordinator struct {
	dir          string
	timeout      time.Duration
	pollInterval time.Duration
	now          func() time.Time
	liveness     Liveness
	pid          int
}

// New creates a coordinator storing locks under dir.
func New(dir string, opts Options) (*Coordinator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Liveness == nil {
		opts.Liveness = SignalProbe{}
	}
	if err := safeio.EnsureDir(dir); err != nil {
		return nil, deployerr.IO(dir, err)
	}
	return &Coordinator{
		dir:          dir,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		now:          opts.Clock,
		liveness:     opts.Liveness,
		pid:          os.Getpid(),
	}, nil
}

// lockPath derives the lock file path for a resource. The resource string
// is hashed so arbitrary workspace paths cannot escape the lock directory.
func (c *Coordinator) lockPath(resource string) string {
	sum := sha256.Sum256([]byte(resource))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".lock")
}

// stale reports whether a lock document may be reclaimed.
func (c *Coordinator) stale(doc *document) bool {
	if c.now().Sub(doc.Timestamp) > c.timeout {
		return true
	}
	if doc.ProcessID != c.pid && !c.liveness.Alive(doc.ProcessID) {
		return true
	}
	return false
}

// read parses the lock file at path. A missing file returns (nil, nil).
// An unreadable or corrupt file is indistinguishable from a dead holder
// and is reported as stale via the bool.
func (c *Coordinator) read(path string) (*document, bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derives from a hash inside c.dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, deployerr.IO(path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, true, nil
	}
	return &doc, false, nil
}

// Acquire takes the lock for a resource. If a valid lock is already held
// the call fails with a contention error naming the resource; stale locks
// are reclaimed first.
func (c *Coordinator) Acquire(resource string) (*Handle, error) {
	path := c.lockPath(resource)

	doc, corrupt, err := c.read(path)
	if err != nil {
		return nil, err
	}
	if corrupt || (doc != nil && c.stale(doc)) {
		logger.Warn("Reclaiming stale lock", logger.String("resource", resource))
		// Rename before removing so two reclaimers cannot delete each
		// other's freshly created lock: only one rename can win.
		staleName := path + ".reclaim-" + uuid.NewString()
		if err := os.Rename(path, staleName); err == nil {
			_ = os.Remove(staleName)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, deployerr.IO(path, err)
		}
	} else if doc != nil {
		return nil, deployerr.LockContention(resource)
	}

	now := c.now()
	newDoc := document{
		ID:        uuid.NewString(),
		ProcessID: c.pid,
		Resource:  resource,
		Timestamp: now,
	}
	data, err := json.MarshalIndent(newDoc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock document: %w", err)
	}

	// Write the full document to a temp file first, then hard-link it into
	// place: link fails with EEXIST if someone else won the race, and no
	// reader can ever observe a half-written lock.
	tmp, err := os.CreateTemp(c.dir, ".lock-*")
	if err != nil {
		return nil, deployerr.IO(c.dir, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, deployerr.IO(tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, deployerr.IO(tmpName, err)
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, deployerr.LockContention(resource)
		}
		return nil, deployerr.IO(path, err)
	}

	logger.Debug("Lock acquired", logger.String("resource", resource), logger.String("lock_id", newDoc.ID))
	return &Handle{ID: newDoc.ID, Resource: resource, OwnerPID: c.pid, AcquiredAt: now, path: path}, nil
}

// Release frees the lock held by handle. Releasing an already-absent lock
// is a no-op; releasing a lock owned by someone else is an ownership error.
func (c *Coordinator) Release(handle *Handle) error {
	if handle == nil {
		return nil
	}
	path := handle.path
	if path == "" {
		path = c.lockPath(handle.Resource)
	}

	doc, corrupt, err := c.read(path)
	if err != nil {
		return err
	}
	if doc == nil && !corrupt {
		return nil
	}
	if corrupt || doc.ID != handle.ID {
		return deployerr.LockOwnership(handle.Resource)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return deployerr.IO(path, err)
	}
	logger.Debug("Lock released", logger.String("resource", handle.Resource), logger.String("lock_id", handle.ID))
	return nil
}

// WaitForLock polls until the resource can be acquired or timeout elapses.
// Returns (nil, false) on timeout rather than an error: waiting out a busy
// resource is an expected outcome.
func (c *Coordinator) WaitForLock(resource string, timeout time.Duration) (*Handle, bool) {
	deadline := c.now().Add(timeout)
	for {
		handle, err := c.Acquire(resource)
		if err == nil {
			return handle, true
		}
		if !errors.Is(err, deployerr.ErrLockContention) {
			logger.Warn("Lock acquisition failed while waiting", logger.String("resource", resource), logger.Err(err))
			return nil, false
		}
		if !c.now().Add(c.pollInterval).Before(deadline) {
			return nil, false
		}
		time.Sleep(c.pollInterval)
	}
}

// CleanupStaleLocks sweeps the lock directory, removing every stale or
// corrupt lock. Returns the number removed.
func (c *Coordinator) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, deployerr.IO(c.dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		doc, corrupt, err := c.read(path)
		if err != nil {
			logger.Warn("Skipping unreadable lock during cleanup", logger.String("path", path), logger.Err(err))
			continue
		}
		if corrupt || (doc != nil && c.stale(doc)) {
			if err := os.Remove(path); err == nil || errors.Is(err, os.ErrNotExist) {
				removed++
			}
		}
	}
	return removed, nil
}

// ReleaseAll removes every lock whose resource falls under scope (exact
// match or prefix). Used by maintenance sweeps, not by deployments.
func (c *Coordinator) ReleaseAll(scope string) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, deployerr.IO(c.dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		doc, corrupt, err := c.read(path)
		if err != nil || corrupt || doc == nil {
			continue
		}
		if doc.Resource == scope || strings.HasPrefix(doc.Resource, scope) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
