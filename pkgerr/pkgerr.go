// Package pkgerr defines the error taxonomy shared by every core subsystem
// (checksum, archive, manifest, lpdb, rcc, planner, executor).
//
// Every operation that can fail returns a plain Go error; callers that need
// to branch on the *kind* of failure use errors.Is against the sentinels
// below, or KindOf(err) to recover the taxonomy value for exit-code mapping.
package pkgerr

import (
	"errors"
	"fmt"
)

// Kind is one error taxonomy member. The zero value is not a valid Kind.
type Kind int

const (
	_ Kind = iota
	IO         // filesystem or network failure
	Corrupt    // digest/size/signature mismatch
	DB         // LPDB/RCC transaction failure
	LockBusy   // could not acquire a lock in time
	Conflict   // file or symbol collision
	Locked     // attempt to modify a locked package without force_locked
	DepUnsat   // a dependency constraint cannot be satisfied
	Cycle      // unbreakable dependency cycle
	ScriptFail // a pre/post script returned non-zero
	Cancelled  // caller-requested cancellation
	Config     // invalid configuration value
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case Corrupt:
		return "CORRUPT"
	case DB:
		return "DB"
	case LockBusy:
		return "LOCK_BUSY"
	case Conflict:
		return "CONFLICT"
	case Locked:
		return "LOCKED"
	case DepUnsat:
		return "DEP_UNSAT"
	case Cycle:
		return "CYCLE"
	case ScriptFail:
		return "SCRIPT_FAIL"
	case Cancelled:
		return "CANCELLED"
	case Config:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// taggedError associates a Kind with a wrapped cause. It is never compared
// directly; callers use errors.Is(err, pkgerr.ErrIO) etc. against the
// sentinel values below, or KindOf(err) to recover the taxonomy member.
type taggedError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *taggedError) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for e's kind, so that
// errors.Is(err, pkgerr.ErrLocked) works without exposing taggedError.
func (e *taggedError) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.kind
}

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

// Sentinels usable with errors.Is, e.g. errors.Is(err, pkgerr.ErrLocked).
var (
	ErrIO         = &sentinel{IO}
	ErrCorrupt    = &sentinel{Corrupt}
	ErrDB         = &sentinel{DB}
	ErrLockBusy   = &sentinel{LockBusy}
	ErrConflict   = &sentinel{Conflict}
	ErrLocked     = &sentinel{Locked}
	ErrDepUnsat   = &sentinel{DepUnsat}
	ErrCycle      = &sentinel{Cycle}
	ErrScriptFail = &sentinel{ScriptFail}
	ErrCancelled  = &sentinel{Cancelled}
	ErrConfig     = &sentinel{Config}
)

// New builds an error of the given kind wrapping cause (which may be nil),
// annotated with msg.
func New(kind Kind, msg string, cause error) error {
	return &taggedError{kind: kind, msg: msg, cause: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) error {
	return &taggedError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf recovers the taxonomy member of err, or 0 (not a valid Kind) if err
// was not produced by this package.
func KindOf(err error) Kind {
	var te *taggedError
	if errors.As(err, &te) {
		return te.kind
	}
	return 0
}

// ExitCode maps an error to the CLI exit codes of spec §7: 0 success, 1
// generic fatal, 3 nothing-to-do, 65 data error, 69 I/O error, 75 lock-busy.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case IO:
		return 69
	case Corrupt, DepUnsat, Cycle:
		return 65
	case LockBusy:
		return 75
	default:
		return 1
	}
}
