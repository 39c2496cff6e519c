package pkgerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWrapsNilAndCause(t *testing.T) {
	err := New(IO, "reading file", nil)
	require.Equal(t, "IO: reading file", err.Error())

	cause := errors.New("disk full")
	wrapped := New(IO, "reading file", cause)
	require.Equal(t, "IO: reading file: disk full", wrapped.Error())
	require.ErrorIs(t, wrapped, ErrIO)
	require.True(t, errors.Is(wrapped, cause))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(Conflict, nil, "path %q owned by %s", "bin/foo", "bar")
	require.Equal(t, `CONFLICT: path "bin/foo" owned by bar`, err.Error())
}

func TestIsDistinguishesKinds(t *testing.T) {
	err := New(Locked, "pkg is locked", nil)
	require.ErrorIs(t, err, ErrLocked)
	require.False(t, errors.Is(err, ErrConflict))
}

func TestKindOfRecoversKind(t *testing.T) {
	err := New(ScriptFail, "exit 1", nil)
	require.Equal(t, ScriptFail, KindOf(err))
	require.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "UNKNOWN", Kind(0).String())
	require.Equal(t, "LOCK_BUSY", LockBusy.String())
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 69, ExitCode(New(IO, "x", nil)))
	require.Equal(t, 65, ExitCode(New(Corrupt, "x", nil)))
	require.Equal(t, 65, ExitCode(New(DepUnsat, "x", nil)))
	require.Equal(t, 65, ExitCode(New(Cycle, "x", nil)))
	require.Equal(t, 75, ExitCode(New(LockBusy, "x", nil)))
	require.Equal(t, 1, ExitCode(New(Config, "x", nil)))
	require.Equal(t, 1, ExitCode(errors.New("plain")))
}
