// Package lockfile guards a mirror destination against concurrent writers.
// At most one pgl-mirror process may hold the lock for a destination tree;
// a heartbeat keeps the lock fresh so crashed holders can be detected and
// taken over once the lock goes stale.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// LockFileName is the name of the lock file created in the destination
// directory. The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-mirror.lock"

// lockInfo is the JSON payload written into the lock file.
type lockInfo struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"` // Used for takeover race resolution
}

// ErrLockActive is a structured error returned when a lock is already held by another process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	TimeSince time.Duration
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination lock is active, held by PID %d on host '%s', last updated %s ago",
		e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

// errLostRace is returned when a process attempts to take over a stale lock but another process wins.
var errLostRace = errors.New("lost race during stale lock takeover")

// errCorruptLockFile indicates that the lock file on disk is unreadable, either empty or containing invalid JSON.
var errCorruptLockFile = errors.New("lock file is corrupt or empty")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	// staleTimeout is defined in relation to the heartbeat to ensure a safe margin.
	staleTimeout = 3 * heartbeatInterval
)

// Lock manages the state of an acquired destination lock.
type Lock struct {
	path string
	info lockInfo
	// cancel stops the background heartbeat goroutine.
	cancel context.CancelFunc
	ctx    context.Context
	mu     sync.Mutex
	held   bool
}

// Acquire attempts to take the destination lock for dirPath.
// It returns (nil, *ErrLockActive) if another live process holds the lock,
// takes over stale or corrupt locks, and starts a heartbeat on success.
func Acquire(ctx context.Context, dirPath string) (*Lock, error) {
	lockPath := filepath.Join(dirPath, LockFileName)

	// Acquisition may race with other starting processes; retry a few times.
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Fast path: atomic O_EXCL creation.
		lock, err := tryCreate(lockPath)
		if err == nil {
			go lock.heartbeat()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		// The lock file exists. Decide between "active", "stale" and "corrupt".
		info, readErr := readInfo(lockPath)
		if readErr != nil && !errors.Is(readErr, errCorruptLockFile) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if readErr == nil {
			elapsed := time.Since(info.LastUpdate)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{PID: info.PID, Hostname: info.Hostname, TimeSince: elapsed}
			}
			plog.Warn("Found stale destination lock, attempting takeover", "pid", info.PID, "age", elapsed)
		} else {
			plog.Warn("Found corrupt destination lock, treating as stale", "path", lockPath, "error", readErr)
		}

		lock, err = takeover(lockPath)
		if err != nil {
			if errors.Is(err, errLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed lock takeover, retrying", "error", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		go lock.heartbeat()
		return lock, nil
	}

	return nil, fmt.Errorf("failed to acquire destination lock after %d attempts (contention)", maxAttempts)
}

// Release stops the heartbeat and removes the lock file. Releasing an
// already-released lock is a no-op.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	l.cancel()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Destination lock released", "path", l.path)
	}
	l.held = false
}

// tryCreate attempts atomic creation using O_EXCL to guarantee "I created this file first".
func tryCreate(lockPath string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := newInfo()
	if err != nil {
		return nil, err
	}

	l := newLock(lockPath, info)
	if err := writeInfo(f, info); err != nil {
		// Don't leave an empty lock file behind.
		_ = os.Remove(lockPath)
		l.cancel()
		return nil, err
	}
	return l, nil
}

// takeover seizes a stale or corrupt lock by atomically renaming fresh
// content over the existing file, then reading it back to verify we won.
func takeover(lockPath string) (*Lock, error) {
	info, err := newInfo()
	if err != nil {
		return nil, err
	}

	if err := updateAtomic(lockPath, info); err != nil {
		return nil, err
	}

	readback, err := readInfo(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.PID != info.PID || readback.Nonce != info.Nonce {
		return nil, errLostRace
	}

	plog.Debug("Successfully took over stale destination lock")
	return newLock(lockPath, info), nil
}

func newLock(lockPath string, info lockInfo) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lock{
		path:   lockPath,
		info:   info,
		ctx:    ctx,
		cancel: cancel,
		held:   true,
	}
}

// newInfo builds the lock payload for this process, including a random nonce
// that disambiguates concurrent takeover attempts from the same host.
func newInfo() (lockInfo, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return lockInfo{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return lockInfo{}, err
	}

	return lockInfo{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Nonce:      fmt.Sprintf("%x", nonceBytes),
	}, nil
}

// heartbeat periodically refreshes the lock's LastUpdate so other processes
// see it as active.
func (l *Lock) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.info.LastUpdate = time.Now().UTC()
			if err := updateAtomic(l.path, l.info); err != nil {
				// Try again next tick.
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// updateAtomic writes the content to a temporary file in the same directory
// and renames it over the lock path, so the lock file is never observed
// empty or partially written.
func updateAtomic(lockPath string, info lockInfo) error {
	dir := filepath.Dir(lockPath)
	tmpF, err := os.CreateTemp(dir, filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		// Expected to fail with "not found" after a successful rename.
		if err := os.Remove(tmpF.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmpF.Name(), "error", err)
		}
	}()

	if err := writeInfo(tmpF, info); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return err
	}
	// Must close before renaming (mandatory on Windows).
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}

	if err := os.Rename(tmpF.Name(), lockPath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// writeInfo marshals the lock payload and writes it to the provided writer.
func writeInfo(w io.Writer, info lockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readInfo reads the lock file, retrying briefly to ride out the transient
// states of a concurrent atomic update.
func readInfo(lockPath string) (lockInfo, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				return lockInfo{}, err
			}
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if len(data) == 0 {
			lastErr = fmt.Errorf("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		var info lockInfo
		if err := json.Unmarshal(data, &info); err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return info, nil
	}

	return lockInfo{}, fmt.Errorf("%w: %v", errCorruptLockFile, lastErr)
}
