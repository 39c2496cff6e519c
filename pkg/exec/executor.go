// Package exec implements the Job Executor of spec §4.9: it applies a
// planner.Plan to the Local Package Database and filesystem, one step at a
// time, under an EXCLUSIVE lock, with a resumable journal and a sandboxed
// script runner.
//
// There is no teacher analogue (the apt-repo-builder assembles a
// repository, it never mutates a target system), so the step sequence
// itself is grounded directly on spec §4.9 and original_source/'s
// pkg_add.c/pkg_delete.c staging-then-rename pattern; the surrounding
// plumbing (event emission, error taxonomy, transactional DB writes)
// reuses pkg/event, pkg/pkgerr and pkg/lpdb exactly as the planner does.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkgcore/pkgcore/pkg/archive"
	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkg/fetch"
	"github.com/pkgcore/pkgcore/pkg/lpdb"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkg/planner"
	"github.com/pkgcore/pkgcore/pkg/sandbox"
	"github.com/pkgcore/pkgcore/pkg/version"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// Executor applies a Plan against a DB, staging payload files under
// StagingDir/<uid> and keeping pre-overwrite shadow copies under
// ShadowDir/<uid> for rollback.
type Executor struct {
	DB      *lpdb.DB
	Sandbox *sandbox.Sandbox
	Journal *Journal
	Fetcher fetch.Provider
	Emit    event.Listener

	StagingDir string
	ShadowDir  string
	CacheDir   string // where FETCH steps land downloaded .pkg artifacts

	// DropUser, if set, is the unprivileged user shell scripts run as
	// (spec §4.9: "privileges optionally lowered... as configured").
	DropUser string

	// Permissive, if true, runs scripts but ignores a non-zero script
	// exit (spec §4.8's Permissive option extended to script failures);
	// default (zero value) is to treat ScriptFail as fatal.
	Permissive bool
}

// New returns an Executor wired to db, an open journal, and a sandbox with
// the given per-script timeout, rooted at workDir for staging/shadow/cache
// subdirectories.
func New(db *lpdb.DB, journal *Journal, workDir string, scriptTimeout time.Duration, fetcher fetch.Provider, emit event.Listener) *Executor {
	return &Executor{
		DB:         db,
		Sandbox:    sandbox.New(scriptTimeout),
		Journal:    journal,
		Fetcher:    fetcher,
		Emit:       emit,
		StagingDir: filepath.Join(workDir, "staging"),
		ShadowDir:  filepath.Join(workDir, "shadow"),
		CacheDir:   filepath.Join(workDir, "cache"),
	}
}

func (e *Executor) emit(ev fmt.Stringer) {
	if e.Emit != nil {
		e.Emit(ev)
	}
}

// Run applies plan's steps in order (spec §4.9 precondition: "the lock is
// held EXCLUSIVE and every artifact referenced by the plan has already
// passed checksum/signature verification"). It checks ctx for cancellation
// only between steps, never mid-step, per spec §4.9's cooperative
// cancellation model.
func (e *Executor) Run(ctx context.Context, plan planner.Plan) error {
	if err := e.DB.Locker.RequireExclusive(); err != nil {
		return err
	}
	for _, step := range plan {
		select {
		case <-ctx.Done():
			return pkgerr.New(pkgerr.Cancelled, "exec: cancelled between steps", ctx.Err())
		default:
		}
		if err := e.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Resume replays the journal, completing or rolling back any step whose
// STEP_BEGIN has no matching STEP_END — spec §4.9: "on restart, the
// executor MUST replay the journal and either complete or roll back any
// step found half-finished."
func (e *Executor) Resume() error {
	records, err := e.Journal.ReadAll()
	if err != nil {
		return err
	}
	for _, r := range PendingSteps(records) {
		if err := e.resumeOne(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) resumeOne(r Record) error {
	var pkg, old *manifest.Package
	if r.PkgJSON != "" {
		pkg = &manifest.Package{}
		if err := json.Unmarshal([]byte(r.PkgJSON), pkg); err != nil {
			return pkgerr.New(pkgerr.Corrupt, "exec: decoding journaled package for resume", err)
		}
	}
	if r.OldPkgJSON != "" {
		old = &manifest.Package{}
		if err := json.Unmarshal([]byte(r.OldPkgJSON), old); err != nil {
			return pkgerr.New(pkgerr.Corrupt, "exec: decoding journaled old package for resume", err)
		}
	}

	// The DB row is the single source of truth for whether the
	// transactional half of the step committed before the crash: if the
	// expected post-step uid is present, finish the filesystem side; if
	// not, roll the filesystem side back and leave the DB untouched
	// (ReplaceTx/Register/Deregister are themselves atomic, so the DB
	// never needs a retry here).
	postUID := r.UID
	if planner.StepKind(r.Kind) == planner.StepUpgrade || planner.StepKind(r.Kind) == planner.StepDowngrade {
		postUID = pkg.UID
	}
	committed, err := e.DB.ByUID(postUID)
	if err != nil && pkgerr.KindOf(err) != pkgerr.DB {
		return err
	}

	stagingRoot := filepath.Join(e.StagingDir, r.UID)
	shadowRoot := filepath.Join(e.ShadowDir, r.UID)
	defer os.RemoveAll(stagingRoot)
	defer os.RemoveAll(shadowRoot)

	switch planner.StepKind(r.Kind) {
	case planner.StepDeinstall:
		if committed == nil {
			// DB delete committed before the crash; finish removing files.
			if old != nil {
				if err := removeFiles(old, nil); err != nil {
					return err
				}
			}
		}
		// else: DB delete never committed, nothing was removed yet — the
		// step simply restarts from scratch next time it is planned.
	case planner.StepInstall, planner.StepReinstall:
		if committed != nil {
			if pkg != nil {
				if err := commitStaged(pkg, stagingRoot, shadowRoot); err != nil {
					return err
				}
			}
		} else if pkg != nil {
			if err := rollbackStaged(pkg, shadowRoot); err != nil {
				return err
			}
		}
	case planner.StepUpgrade, planner.StepDowngrade:
		if committed != nil {
			if pkg != nil {
				if err := commitStaged(pkg, stagingRoot, shadowRoot); err != nil {
					return err
				}
			}
			if old != nil {
				if err := removeFiles(old, pkg); err != nil {
					return err
				}
			}
		} else if pkg != nil {
			if err := rollbackStaged(pkg, shadowRoot); err != nil {
				return err
			}
		}
	}

	return e.Journal.Append(Record{Phase: PhaseEnd, Kind: r.Kind, UID: r.UID, Name: r.Name, Success: true})
}

func (e *Executor) runStep(ctx context.Context, step planner.Step) error {
	if step.Kind == planner.StepFetch {
		return e.runFetch(ctx, step)
	}

	name := step.Reason
	if step.Pkg != nil {
		name = step.Pkg.Name
	} else if step.OldPkg != nil {
		name = step.OldPkg.Name
	}

	begin := Record{Phase: PhaseBegin, Kind: string(step.Kind), UID: step.UID, Name: name}
	if step.Pkg != nil {
		if b, err := json.Marshal(step.Pkg); err == nil {
			begin.PkgJSON = string(b)
		}
	}
	if step.OldPkg != nil {
		if b, err := json.Marshal(step.OldPkg); err == nil {
			begin.OldPkgJSON = string(b)
		}
	}
	if err := e.Journal.Append(begin); err != nil {
		return err
	}
	e.emit(event.StepBegin(string(step.Kind), step.UID, name))

	err := e.applyStep(ctx, step)

	success := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	e.emit(event.StepEnd(string(step.Kind), step.UID, name, success, errMsg))
	if jerr := e.Journal.Append(Record{Phase: PhaseEnd, Kind: string(step.Kind), UID: step.UID, Name: name, Success: success, Error: errMsg}); jerr != nil {
		if err == nil {
			return jerr
		}
	}
	return err
}

func (e *Executor) applyStep(ctx context.Context, step planner.Step) error {
	switch step.Kind {
	case planner.StepInstall:
		return e.install(ctx, step)
	case planner.StepReinstall:
		return e.reinstall(ctx, step)
	case planner.StepUpgrade, planner.StepDowngrade:
		return e.replace(ctx, step)
	case planner.StepDeinstall:
		return e.deinstall(ctx, step)
	default:
		return pkgerr.New(pkgerr.Config, fmt.Sprintf("exec: unknown step kind %s", step.Kind), nil)
	}
}

func (e *Executor) runFetch(ctx context.Context, step planner.Step) error {
	if e.Fetcher == nil || step.SourceURL == "" {
		return nil
	}
	body, notModified, err := e.Fetcher.Open(ctx, step.SourceURL, time.Time{})
	if err != nil {
		return err
	}
	if notModified || body == nil {
		return nil
	}
	defer body.Close()

	if err := os.MkdirAll(e.CacheDir, 0o755); err != nil {
		return pkgerr.New(pkgerr.IO, "exec: preparing cache directory", err)
	}
	dest := filepath.Join(e.CacheDir, step.UID+".pkg")
	f, err := os.Create(dest)
	if err != nil {
		return pkgerr.New(pkgerr.IO, "exec: creating cached artifact", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return pkgerr.New(pkgerr.IO, "exec: writing cached artifact", err)
	}
	return nil
}

func (e *Executor) openArtifact(uid string) (*archive.Reader, func() error, error) {
	path := filepath.Join(e.CacheDir, uid+".pkg")
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: opening fetched artifact for %s", uid), err)
	}
	r, err := archive.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, pkgerr.New(pkgerr.Corrupt, fmt.Sprintf("exec: reading artifact for %s", uid), err)
	}
	return r, f.Close, nil
}

func (e *Executor) runScripts(ctx context.Context, pkg *manifest.Package, kinds ...manifest.ScriptKind) error {
	if pkg == nil {
		return nil
	}
	want := make(map[manifest.ScriptKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	uid, gid := uint32(0), uint32(0)
	if e.DropUser != "" {
		var err error
		uid, gid, err = sandbox.LookupUser(e.DropUser)
		if err != nil {
			return err
		}
	}
	env := []string{
		"PKG_PREFIX=" + pkg.Prefix,
		"PKG_NAME=" + pkg.Name,
		"PKG_VERSION=" + pkg.Version,
	}
	for _, s := range pkg.Scripts {
		if !want[s.Kind] {
			continue
		}
		var err error
		switch s.Language {
		case manifest.EmbeddedLua:
			err = e.Sandbox.RunLua(ctx, s.Body, map[string]string{
				"pkg_name": pkg.Name, "pkg_version": pkg.Version, "pkg_prefix": pkg.Prefix,
			})
		default:
			err = e.Sandbox.RunShell(ctx, s.Body, env, uid, gid)
		}
		if err != nil && !e.Permissive {
			return err
		}
	}
	return nil
}

// showMessages emits a Notice event for every message on pkg that applies to
// kind (or is marked MessageAlways). fromVersion, when non-empty, is the
// version being upgraded/downgraded from, and bounds MinVersion/MaxVersion:
// a message only fires for a transition that starts within that range. This
// mirrors pkg_message's own always-vs-lifecycle-point split (spec §4.4);
// the fromVersion bound is this module's own reading of what an upgrade
// range on a message is for, since no teacher or pack file shows the check.
func (e *Executor) showMessages(pkg *manifest.Package, kind manifest.MessageKind, fromVersion string) {
	if pkg == nil {
		return
	}
	for _, m := range pkg.Messages {
		if m.Kind != kind && m.Kind != manifest.MessageAlways {
			continue
		}
		if fromVersion != "" {
			if m.MinVersion != "" && version.Compare(fromVersion, m.MinVersion) == version.Less {
				continue
			}
			if m.MaxVersion != "" && version.Compare(fromVersion, m.MaxVersion) == version.Greater {
				continue
			}
		}
		e.emit(event.Notice(m.Text))
	}
}

func (e *Executor) install(ctx context.Context, step planner.Step) error {
	if err := e.runScripts(ctx, step.Pkg, manifest.PreInstall); err != nil {
		return err
	}
	if err := e.stageAndCommit(step.UID, step.Pkg); err != nil {
		return err
	}
	step.Pkg.Automatic = step.Automatic
	if err := e.DB.Register(step.Pkg); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.Pkg, manifest.PostInstall); err != nil {
		return err
	}
	e.showMessages(step.Pkg, manifest.MessageInstall, "")
	return nil
}

func (e *Executor) reinstall(ctx context.Context, step planner.Step) error {
	if err := e.runScripts(ctx, step.OldPkg, manifest.PreDeinstall); err != nil {
		return err
	}
	if err := removeFiles(step.OldPkg, step.Pkg); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.Pkg, manifest.PreInstall); err != nil {
		return err
	}
	if err := e.stageAndCommit(step.UID, step.Pkg); err != nil {
		return err
	}
	step.Pkg.Automatic = step.Automatic
	if err := e.DB.ReplaceTx(step.OldPkg.UID, step.Pkg); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.Pkg, manifest.PostInstall); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.OldPkg, manifest.PostDeinstall); err != nil {
		return err
	}
	e.showMessages(step.Pkg, manifest.MessageInstall, "")
	return nil
}

// replace implements both UPGRADE and DOWNGRADE, which share the same
// sequence (spec §4.9 rule 4: "for UPGRADE, the old DB row is deleted and
// the new row written in the same transaction; file removal for the old
// package and materialization of the new package's files happen around
// that transaction, skipping any path the new package also claims").
func (e *Executor) replace(ctx context.Context, step planner.Step) error {
	if err := e.runScripts(ctx, step.Pkg, manifest.PreUpgrade); err != nil {
		return err
	}
	if err := e.stageAndCommit(step.UID, step.Pkg); err != nil {
		return err
	}
	// Back up still-needed libraries while the old files are on disk.
	if err := e.detectABIBreakage(step.OldPkg, step.Pkg); err != nil {
		return err
	}
	if err := removeFiles(step.OldPkg, step.Pkg); err != nil {
		return err
	}
	step.Pkg.Automatic = step.Automatic
	if err := e.DB.ReplaceTx(step.OldPkg.UID, step.Pkg); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.Pkg, manifest.PostUpgrade); err != nil {
		return err
	}
	fromVersion := ""
	if step.OldPkg != nil {
		fromVersion = step.OldPkg.Version
	}
	e.showMessages(step.Pkg, manifest.MessageUpgrade, fromVersion)
	return nil
}

func (e *Executor) deinstall(ctx context.Context, step planner.Step) error {
	if err := e.runScripts(ctx, step.OldPkg, manifest.PreDeinstall); err != nil {
		return err
	}
	if err := e.detectABIBreakage(step.OldPkg, nil); err != nil {
		return err
	}
	if err := removeFiles(step.OldPkg, nil); err != nil {
		return err
	}
	if err := e.DB.Deregister(step.OldPkg.UID); err != nil {
		return err
	}
	if err := e.runScripts(ctx, step.OldPkg, manifest.PostDeinstall); err != nil {
		return err
	}
	e.showMessages(step.OldPkg, manifest.MessageRemove, "")
	return nil
}

func (e *Executor) stageAndCommit(uid string, pkg *manifest.Package) error {
	r, closeArtifact, err := e.openArtifact(uid)
	if err != nil {
		return err
	}
	defer closeArtifact()

	stagingRoot := filepath.Join(e.StagingDir, uid)
	shadowRoot := filepath.Join(e.ShadowDir, uid)
	defer os.RemoveAll(stagingRoot)
	defer os.RemoveAll(shadowRoot)

	if err := stagePayload(r, pkg.Prefix, stagingRoot); err != nil {
		return err
	}
	return commitStaged(pkg, stagingRoot, shadowRoot)
}

// detectABIBreakage compares old's provided shared libraries against what
// the still-installed system requires, registering a synthetic
// "compat-libraries" package to preserve any library that would otherwise
// vanish out from under a dependent that isn't itself being updated —
// supplementing the distilled spec with pkgng's real backup_library
// behavior (original_source/libpkg/backup_lib.c).
func (e *Executor) detectABIBreakage(old, replacement *manifest.Package) error {
	if old == nil || len(old.ShlibsProvided) == 0 {
		return nil
	}
	stillProvided := make(map[string]bool)
	if replacement != nil {
		for _, lib := range replacement.ShlibsProvided {
			stillProvided[lib] = true
		}
	}

	installed, err := e.DB.List()
	if err != nil {
		return err
	}

	var brokenLibs []string
	for _, lib := range old.ShlibsProvided {
		if stillProvided[lib] {
			continue
		}
		for _, dependent := range installed {
			if dependent.UID == old.UID || (replacement != nil && dependent.UID == replacement.UID) {
				continue
			}
			for _, req := range dependent.ShlibsRequired {
				if req == lib {
					e.emit(event.ABIBreakage(lib, dependent.Name, compatPackageName(lib)))
					brokenLibs = append(brokenLibs, lib)
				}
			}
		}
	}
	if len(brokenLibs) == 0 {
		return nil
	}
	return e.registerCompatLibraries(old, brokenLibs)
}

// registerCompatLibraries creates (or extends) the synthetic
// "compat-libraries" package that owns a preserved copy of every shared
// library a removed/upgraded package stopped providing while a still
// installed package requires it.
func (e *Executor) registerCompatLibraries(old *manifest.Package, libs []string) error {
	const compatName = "compat-libraries"
	existing, err := e.DB.ByName(compatName)
	if err != nil {
		return err
	}

	var files []manifest.FileEntry
	var provided []string
	if len(existing) > 0 {
		files = existing[0].Files
		provided = existing[0].ShlibsProvided
	}

	for _, lib := range libs {
		for _, f := range old.Files {
			if filepath.Base(f.Path) != lib {
				continue
			}
			staged := filepath.Join(e.ShadowDir, "compat", lib)
			src := filepath.Join(old.Prefix, f.Path)
			if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
				return pkgerr.New(pkgerr.IO, "exec: preparing compat-libraries backup directory", err)
			}
			if err := copyFile(src, staged); err == nil {
				files = append(files, manifest.FileEntry{Path: filepath.Join("compat", lib), Sum: f.Sum, Perm: f.Perm, Type: f.Type})
				provided = append(provided, lib)
			}
		}
	}

	compat := &manifest.Package{
		Name:       compatName,
		Version:    fmt.Sprintf("%d", time.Now().Unix()),
		Origin:     "misc/" + compatName,
		Maintainer: "pkgcore",
		Prefix:     "/",
		Desc:       "backed up shared libraries from ABI-breaking upgrades",
		Comment:    "synthetic compatibility package",
		WWW:        "-",
		ABI:        old.ABI,
		Automatic:  true,
		UID:        compatName + "~" + compatName,

		Files:          files,
		ShlibsProvided: provided,
	}
	if len(existing) > 0 {
		return e.DB.ReplaceTx(existing[0].UID, compat)
	}
	return e.DB.Register(compat)
}

func compatPackageName(lib string) string { return "compat-libraries:" + lib }
