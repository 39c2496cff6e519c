// Package sandbox implements spec §4.9's script execution model: "script
// execution is done in a child process with the process's privileges
// optionally lowered to an unprivileged user as configured; the parent
// supervises via a length-limited pipe and enforces a per-script timeout."
//
// There is no teacher analogue (the apt-repo-builder never runs untrusted
// scripts); the child-process-plus-pipe shape is grounded on
// original_source/libpkg/pkg_script.c's fork/exec/pipe/waitpid sequence,
// reexpressed with os/exec and a context timeout instead of a manual
// fork/exec loop. The embedded-Lua backend mirrors pkgng's own "lua
// scripts" feature (a pkgng script language alternative to /bin/sh,
// interpreted in-process rather than forked) using
// github.com/yuin/gopher-lua, the pure-Go Lua VM present in the retrieval
// pack's dependency graph.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// maxOutput caps how much combined stdout/stderr a script's supervising
// pipe will retain, so a runaway script cannot exhaust memory — the
// "length-limited pipe" of spec §4.9.
const maxOutput = 1 << 20 // 1 MiB

// Sandbox runs maintainer scripts under the constraints spec §4.9
// requires: a timeout, and (for the shell backend) an optional privilege
// drop.
type Sandbox struct {
	// Timeout bounds each script run (60s when zero). Sandbox holds no
	// user: the caller resolves the unprivileged uid/gid (via os/user) and
	// passes them to RunShell directly.
	Timeout time.Duration
}

// New returns a Sandbox with the given per-script timeout.
func New(timeout time.Duration) *Sandbox {
	return &Sandbox{Timeout: timeout}
}

// RunShell executes script as a POSIX shell script in a child process. If
// uid/gid are non-zero the child's credentials are dropped to them before
// exec (spec §4.9: "privileges optionally lowered to an unprivileged user
// as configured").
func (s *Sandbox) RunShell(ctx context.Context, script string, env []string, uid, gid uint32) error {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Env = env

	var out bytes.Buffer
	limited := &limitWriter{w: &out, max: maxOutput}
	cmd.Stdout = limited
	cmd.Stderr = limited

	if uid != 0 || gid != 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uid, Gid: gid},
		}
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return pkgerr.New(pkgerr.ScriptFail, fmt.Sprintf("script timed out after %s", timeout), err)
		}
		return pkgerr.New(pkgerr.ScriptFail, fmt.Sprintf("script failed: %s", out.String()), err)
	}
	return nil
}

// RunLua executes script as a pkgng-style embedded Lua script, in-process
// (no fork), with pkg_name/pkg_version/pkg_prefix globals bound from args.
// A timeout is still enforced by binding the timeout context to the VM
// (L.SetContext), since an in-process VM has no OS process to kill.
func (s *Sandbox) RunLua(ctx context.Context, script string, args map[string]string) error {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	for k, v := range args {
		L.SetGlobal(k, lua.LString(v))
	}

	if err := L.DoString(script); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return pkgerr.New(pkgerr.ScriptFail, fmt.Sprintf("lua script timed out after %s", timeout), err)
		}
		return pkgerr.New(pkgerr.ScriptFail, "lua script failed", err)
	}
	return nil
}

// limitWriter discards bytes past max, so a script that floods stdout/stderr
// cannot exhaust memory; the captured prefix is still useful for the
// ScriptFail error message.
type limitWriter struct {
	w   io.Writer
	max int
	n   int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n >= l.max {
		return len(p), nil
	}
	remaining := l.max - l.n
	if remaining > len(p) {
		remaining = len(p)
	}
	n, err := l.w.Write(p[:remaining])
	l.n += n
	return len(p), err
}

// LookupUser resolves name to (uid, gid) for RunShell's privilege drop.
func LookupUser(name string) (uid, gid uint32, err error) {
	if name == "" {
		return 0, 0, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, pkgerr.New(pkgerr.Config, fmt.Sprintf("sandbox: looking up user %q", name), err)
	}
	uidN, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, pkgerr.New(pkgerr.Config, fmt.Sprintf("sandbox: parsing uid for %q", name), err)
	}
	gidN, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, pkgerr.New(pkgerr.Config, fmt.Sprintf("sandbox: parsing gid for %q", name), err)
	}
	return uint32(uidN), uint32(gidN), nil
}
