package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctxsync/ctxsync/internal/deployerr"
)

type fakeLiveness struct{ alive bool }

func (f fakeLiveness) Alive(int) bool { return f.alive }

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "locks"), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestAcquireReleaseCycle(t *testing.T) {
	c := newTestCoordinator(t, Options{Liveness: fakeLiveness{alive: true}})

	handle, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if handle.ID == "" || handle.Resource != "/ws#cursor" {
		t.Errorf("bad handle: %+v", handle)
	}

	// Second acquire on the same resource is contention
	if _, err := c.Acquire("/ws#cursor"); !errors.Is(err, deployerr.ErrLockContention) {
		t.Errorf("expected contention, got %v", err)
	}

	// A different resource is independent
	other, err := c.Acquire("/ws#vscode")
	if err != nil {
		t.Fatalf("independent resource blocked: %v", err)
	}
	_ = c.Release(other)

	if err := c.Release(handle); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// After release the resource is free again
	again, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	_ = c.Release(again)
}

func TestReleaseIsIdempotentAndOwnershipChecked(t *testing.T) {
	c := newTestCoordinator(t, Options{Liveness: fakeLiveness{alive: true}})

	handle, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Release(handle); err != nil {
		t.Fatal(err)
	}
	// Releasing an absent lock is a no-op success
	if err := c.Release(handle); err != nil {
		t.Errorf("double release errored: %v", err)
	}

	// A stranger's handle cannot release the current lock
	current, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatal(err)
	}
	stranger := &Handle{ID: "someone-else", Resource: "/ws#cursor"}
	if err := c.Release(stranger); !errors.Is(err, deployerr.ErrLockOwnership) {
		t.Errorf("expected ownership error, got %v", err)
	}
	// The real owner still can
	if err := c.Release(current); err != nil {
		t.Errorf("owner release failed after stranger attempt: %v", err)
	}
}

func TestStaleLockReclaimedByAge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCoordinator(t, Options{
		Timeout:  time.Hour,
		Clock:    clock.Now,
		Liveness: fakeLiveness{alive: true},
	})

	if _, err := c.Acquire("/ws#cursor"); err != nil {
		t.Fatal(err)
	}

	// Within the timeout the lock holds even without a release
	clock.Advance(30 * time.Minute)
	if _, err := c.Acquire("/ws#cursor"); !errors.Is(err, deployerr.ErrLockContention) {
		t.Fatalf("lock within timeout was reclaimed: %v", err)
	}

	clock.Advance(31 * time.Minute)
	handle, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatalf("stale lock was not reclaimed: %v", err)
	}
	_ = c.Release(handle)
}

func TestDeadOwnerLockReclaimed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	first, err := New(dir, Options{Liveness: fakeLiveness{alive: true}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Acquire("/ws#cursor"); err != nil {
		t.Fatal(err)
	}

	// A coordinator whose probe says the foreign owner is dead can reclaim.
	// Forge a foreign pid by rewriting the coordinator's view of itself.
	second, err := New(dir, Options{Liveness: fakeLiveness{alive: false}})
	if err != nil {
		t.Fatal(err)
	}
	second.pid = second.pid + 1

	handle, err := second.Acquire("/ws#cursor")
	if err != nil {
		t.Fatalf("dead-owner lock was not reclaimed: %v", err)
	}
	_ = second.Release(handle)
}

func TestCorruptLockTreatedAsStale(t *testing.T) {
	c := newTestCoordinator(t, Options{Liveness: fakeLiveness{alive: true}})

	path := c.lockPath("/ws#cursor")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	handle, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatalf("corrupt lock blocked acquisition: %v", err)
	}
	_ = c.Release(handle)
}

func TestWaitForLock(t *testing.T) {
	c := newTestCoordinator(t, Options{
		PollInterval: 10 * time.Millisecond,
		Liveness:     fakeLiveness{alive: true},
	})

	holder, err := c.Acquire("/ws#cursor")
	if err != nil {
		t.Fatal(err)
	}

	// Times out while held
	if _, ok := c.WaitForLock("/ws#cursor", 50*time.Millisecond); ok {
		t.Error("WaitForLock succeeded while the lock was held")
	}

	// Release concurrently; the waiter picks it up
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = c.Release(holder)
	}()
	handle, ok := c.WaitForLock("/ws#cursor", 2*time.Second)
	if !ok {
		t.Fatal("WaitForLock timed out after release")
	}
	_ = c.Release(handle)
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	c := newTestCoordinator(t, Options{Liveness: fakeLiveness{alive: true}})

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Acquire("/ws#cursor")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, contentions := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, deployerr.ErrLockContention):
			contentions++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d (contentions %d)", wins, contentions)
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCoordinator(t, Options{
		Timeout:  time.Hour,
		Clock:    clock.Now,
		Liveness: fakeLiveness{alive: true},
	})

	if _, err := c.Acquire("/ws1#cursor"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	fresh, err := c.Acquire("/ws2#cursor")
	if err != nil {
		t.Fatal(err)
	}

	removed, err := c.CleanupStaleLocks()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed %d locks, expected 1", removed)
	}

	// The fresh lock survived
	if _, err := c.Acquire("/ws2#cursor"); !errors.Is(err, deployerr.ErrLockContention) {
		t.Errorf("fresh lock was swept: %v", err)
	}
	_ = c.Release(fresh)
}

func TestReleaseAllByScope(t *testing.T) {
	c := newTestCoordinator(t, Options{Liveness: fakeLiveness{alive: true}})

	for _, resource := range []string{"/ws/a#cursor", "/ws/a#vscode", "/ws/b#cursor"} {
		if _, err := c.Acquire(resource); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := c.ReleaseAll("/ws/a")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed %d locks, expected 2", removed)
	}

	// /ws/b lock is untouched
	if _, err := c.Acquire("/ws/b#cursor"); !errors.Is(err, deployerr.ErrLockContention) {
		t.Errorf("out-of-scope lock was removed: %v", err)
	}
}

func TestSignalProbeSelf(t *testing.T) {
	probe := SignalProbe{}
	if !probe.Alive(os.Getpid()) {
		t.Error("probe reports the current process dead")
	}
	if probe.Alive(-1) {
		t.Error("probe reports pid -1 alive")
	}
}
