package lpdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// Mode is one of the four logical lock modes of spec §4.4.
type Mode int

const (
	Read Mode = iota
	Advisory
	Exclusive
	Upgrade
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "READ"
	case Advisory:
		return "ADVISORY"
	case Exclusive:
		return "EXCLUSIVE"
	case Upgrade:
		return "UPGRADE"
	default:
		return "UNKNOWN"
	}
}

// GraceWindow is how long Acquire waits on a contended lock before probing
// the pidfile for a dead holder and, if found dead, breaking the stale
// lock (spec §4.4: "stale locks from dead processes are detected ... and
// broken with a warning event after a configurable grace window").
const GraceWindow = 5 * time.Second

const pollInterval = 50 * time.Millisecond

// Locker implements the pidfile-plus-lockfile convention of spec §4.4 on
// top of flock(2) via golang.org/x/sys/unix — the one file-locking
// mechanism present (indirectly) across the whole retrieval pack, so it is
// treated as the quasi-stdlib choice for this concern (see DESIGN.md).
//
// Two underlying files implement the four logical modes:
//   - .lpdb.lock: READ takes a shared flock; EXCLUSIVE takes an exclusive
//     flock.
//   - .lpdb.advisory: ADVISORY takes an exclusive flock on this second file
//     (serializing planners against each other) while also holding a
//     shared flock on .lpdb.lock (so it coexists with readers). UPGRADE
//     keeps .lpdb.advisory and additionally converts the .lpdb.lock hold
//     from shared to exclusive once no other shared holder remains.
type Locker struct {
	dir string

	mu          sync.Mutex
	mainFile    *os.File
	advisoryFile *os.File
	mode        Mode
	emit        event.Listener
}

// NewLocker prepares (but does not acquire) the lock files under dbDir.
func NewLocker(dbDir string) (*Locker, error) {
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("lpdb: creating %s: %w", dbDir, err)
	}
	mainPath := filepath.Join(dbDir, ".lpdb.lock")
	advisoryPath := filepath.Join(dbDir, ".lpdb.advisory")

	mainFile, err := os.OpenFile(mainPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lpdb: opening lockfile %s: %w", mainPath, err)
	}
	advisoryFile, err := os.OpenFile(advisoryPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		mainFile.Close()
		return nil, fmt.Errorf("lpdb: opening lockfile %s: %w", advisoryPath, err)
	}
	return &Locker{dir: dbDir, mainFile: mainFile, advisoryFile: advisoryFile, emit: event.Nop}, nil
}

// SetListener attaches the Context's event sink so stale-lock breaks emit
// a NOTICE, per spec §4.4.
func (l *Locker) SetListener(emit event.Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emit = emit
}

func (l *Locker) pidfilePath() string { return filepath.Join(l.dir, ".lpdb.pid") }

// Acquire takes the lock in mode, blocking up to timeout. On success, an
// Exclusive or Upgrade(->Exclusive) holder's pid is recorded in the
// pidfile for stale-lock detection by later callers.
func (l *Locker) Acquire(mode Mode, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := time.Now().Add(timeout)
	switch mode {
	case Read:
		if err := l.flockWithGrace(l.mainFile, unix.LOCK_SH, deadline); err != nil {
			return err
		}
	case Advisory:
		if err := l.flockWithGrace(l.advisoryFile, unix.LOCK_EX, deadline); err != nil {
			return err
		}
		if err := l.flockWithGrace(l.mainFile, unix.LOCK_SH, deadline); err != nil {
			unix.Flock(int(l.advisoryFile.Fd()), unix.LOCK_UN)
			return err
		}
	case Exclusive:
		if err := l.flockWithGrace(l.mainFile, unix.LOCK_EX, deadline); err != nil {
			return err
		}
		l.writePidfile()
	case Upgrade:
		if l.mode != Advisory {
			return pkgerr.New(pkgerr.Config, "lpdb: UPGRADE requires holding ADVISORY first", nil)
		}
		// Release the shared hold and attempt to convert to exclusive.
		// This is not an atomic upgrade (a third party could interleave
		// and take the shared lock between these two calls); the backing
		// store semantics of spec §4.4 are engine-agnostic and do not
		// mandate atomic upgrade, only that UPGRADE succeeds "only when no
		// other readers remain" — which flockWithGrace's blocking
		// exclusive acquisition still guarantees by the time it returns.
		unix.Flock(int(l.mainFile.Fd()), unix.LOCK_UN)
		if err := l.flockWithGrace(l.mainFile, unix.LOCK_EX, deadline); err != nil {
			// best-effort: fall back to the shared hold we had before
			unix.Flock(int(l.mainFile.Fd()), unix.LOCK_SH)
			return err
		}
		l.writePidfile()
	default:
		return pkgerr.New(pkgerr.Config, fmt.Sprintf("lpdb: unknown lock mode %d", mode), nil)
	}
	l.mode = mode
	return nil
}

// Release drops whatever lock is currently held.
func (l *Locker) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.mode {
	case Advisory:
		unix.Flock(int(l.mainFile.Fd()), unix.LOCK_UN)
		unix.Flock(int(l.advisoryFile.Fd()), unix.LOCK_UN)
	case Exclusive, Upgrade:
		os.Remove(l.pidfilePath())
		unix.Flock(int(l.mainFile.Fd()), unix.LOCK_UN)
		if l.mode == Upgrade {
			unix.Flock(int(l.advisoryFile.Fd()), unix.LOCK_UN)
		}
	case Read:
		unix.Flock(int(l.mainFile.Fd()), unix.LOCK_UN)
	}
	l.mode = Read
	return nil
}

// RequireExclusive returns a LockBusy error unless the lock is currently held in Exclusive or Upgrade mode; mutators
// call this (spec §4.4: "The LPDB MUST refuse writes without an EXCLUSIVE
// lock").
func (l *Locker) RequireExclusive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != Exclusive && l.mode != Upgrade {
		return pkgerr.New(pkgerr.LockBusy, "lpdb: write attempted without an EXCLUSIVE lock", nil)
	}
	return nil
}

func (l *Locker) writePidfile() {
	os.WriteFile(l.pidfilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// flockWithGrace polls for an exclusive or shared flock until it succeeds
// or the deadline passes. Once GraceWindow has elapsed with the lock still
// contended, each poll also checks whether the pidfile names a dead
// process, until one such stale lock has been broken (pidfile removed, a
// NOTICE emitted); polling continues until the deadline either way.
func (l *Locker) flockWithGrace(f *os.File, how int, deadline time.Time) error {
	fd := int(f.Fd())
	start := time.Now()
	brokeStale := false
	for {
		err := unix.Flock(fd, how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return pkgerr.New(pkgerr.LockBusy, fmt.Sprintf("lpdb: could not acquire lock within timeout"), err)
		}
		if !brokeStale && time.Since(start) >= GraceWindow {
			if l.breakIfStale() {
				brokeStale = true
			}
		}
		time.Sleep(pollInterval)
	}
}

// breakIfStale probes the recorded pidfile's pid; if the process is dead,
// it removes the pidfile and emits a warning NOTICE, returning true.
func (l *Locker) breakIfStale() bool {
	data, err := os.ReadFile(l.pidfilePath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err == nil {
		return false // still alive
	}
	os.Remove(l.pidfilePath())
	if l.emit != nil {
		l.emit(event.Notice(fmt.Sprintf("lpdb: broke stale lock held by dead pid %d", pid)))
	}
	return true
}
