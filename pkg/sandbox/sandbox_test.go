package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgcore/pkgcore/pkgerr"
)

func TestRunShellSuccess(t *testing.T) {
	s := New(2 * time.Second)
	err := s.RunShell(context.Background(), "exit 0", nil, 0, 0)
	require.NoError(t, err)
}

func TestRunShellFailureReturnsScriptFail(t *testing.T) {
	s := New(2 * time.Second)
	err := s.RunShell(context.Background(), "echo boom >&2; exit 1", nil, 0, 0)
	require.Error(t, err)
	require.Equal(t, pkgerr.ScriptFail, pkgerr.KindOf(err))
	require.Contains(t, err.Error(), "boom")
}

func TestRunShellTimeout(t *testing.T) {
	s := New(50 * time.Millisecond)
	err := s.RunShell(context.Background(), "sleep 5", nil, 0, 0)
	require.Error(t, err)
	require.Equal(t, pkgerr.ScriptFail, pkgerr.KindOf(err))
	require.Contains(t, err.Error(), "timed out")
}

func TestRunShellEnvPassedThrough(t *testing.T) {
	s := New(2 * time.Second)
	err := s.RunShell(context.Background(), `[ "$PKG_NAME" = "foo" ] || exit 1`, []string{"PKG_NAME=foo"}, 0, 0)
	require.NoError(t, err)
}

func TestRunLuaSuccess(t *testing.T) {
	s := New(2 * time.Second)
	err := s.RunLua(context.Background(), `if pkg_name ~= "foo" then error("mismatch") end`, map[string]string{"pkg_name": "foo"})
	require.NoError(t, err)
}

func TestRunLuaFailureReturnsScriptFail(t *testing.T) {
	s := New(2 * time.Second)
	err := s.RunLua(context.Background(), `error("boom")`, nil)
	require.Error(t, err)
	require.Equal(t, pkgerr.ScriptFail, pkgerr.KindOf(err))
}

func TestLookupUserEmptyIsNoop(t *testing.T) {
	uid, gid, err := LookupUser("")
	require.NoError(t, err)
	require.Zero(t, uid)
	require.Zero(t, gid)
}

func TestLookupUserUnknown(t *testing.T) {
	_, _, err := LookupUser("no-such-user-xyz")
	require.Error(t, err)
	require.Equal(t, pkgerr.Config, pkgerr.KindOf(err))
}
