package exec

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkgcore/pkgcore/pkg/archive"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// stagePayload unpacks r's payload members (everything after the leading
// "+..." members and scripts) into a per-transaction staging directory
// under stagingRoot, preserving mode — spec §4.9 rule 3: "write payload
// files to a per-transaction staging path, preserving mode/owner/flags,
// then atomically rename into place."
//
// Owner preservation (uname/gname -> uid/gid) and fflags are recorded on
// manifest.FileEntry/DirEntry but are not re-applied by os.Chown/chflags
// here: doing so requires CAP_CHOWN and a BSD-only chflags syscall, neither
// of which this implementation can assume at install time without running
// privileged. Neither stagePayload nor its callers change ownership, so
// staged files belong to the user the process runs as.
func stagePayload(r *archive.Reader, prefix, stagingRoot string) error {
	for {
		entry, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return pkgerr.New(pkgerr.IO, "exec: reading payload entry", err)
		}
		if archive.IsLeadingMember(entry.Name) {
			continue
		}
		dest := filepath.Join(stagingRoot, filepath.Join(prefix, entry.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: staging directory for %s", entry.Name), err)
		}
		switch entry.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(entry.Mode)); err != nil {
				return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: staging directory %s", entry.Name), err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(dest)
			if err := os.Symlink(entry.Linkname, dest); err != nil {
				return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: staging symlink %s", entry.Name), err)
			}
		default:
			if err := os.WriteFile(dest, entry.Body, os.FileMode(entry.Mode)); err != nil {
				return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: staging file %s", entry.Name), err)
			}
		}
	}
}

// commitStaged renames every staged path into its final prefix-relative
// location — "atomically rename into place." A shadow copy of any
// overwritten file is kept in shadowRoot so a rollback can restore it
// (spec §4.9 rule 4: "on rollback, the staged new file is removed and the
// old file restored from a shadow copy").
func commitStaged(pkg *manifest.Package, stagingRoot, shadowRoot string) error {
	for _, f := range pkg.Files {
		staged := filepath.Join(stagingRoot, filepath.Join(pkg.Prefix, f.Path))
		final := filepath.Join(pkg.Prefix, f.Path)
		if _, err := os.Stat(final); err == nil {
			if err := os.MkdirAll(filepath.Dir(filepath.Join(shadowRoot, f.Path)), 0o755); err != nil {
				return pkgerr.New(pkgerr.IO, "exec: preparing shadow copy directory", err)
			}
			if err := copyFile(final, filepath.Join(shadowRoot, f.Path)); err != nil {
				return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: shadowing %s before overwrite", f.Path), err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: preparing final directory for %s", f.Path), err)
		}
		if err := os.Rename(staged, final); err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: renaming %s into place", f.Path), err)
		}
	}
	return nil
}

// rollbackStaged undoes a partially committed commitStaged: removes any
// path this step wrote and restores the shadow copy if one exists.
func rollbackStaged(pkg *manifest.Package, shadowRoot string) error {
	for _, f := range pkg.Files {
		final := filepath.Join(pkg.Prefix, f.Path)
		shadow := filepath.Join(shadowRoot, f.Path)
		if _, err := os.Stat(shadow); err == nil {
			if err := os.Rename(shadow, final); err != nil {
				return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: restoring %s from shadow", f.Path), err)
			}
			continue
		}
		_ = os.Remove(final)
	}
	return nil
}

// removeFiles deletes the files recorded for pkg, skipping any path that
// keep.Files also claims — "remove files recorded for the old package
// except those a replacement step will immediately rewrite" (spec §4.9
// rule 3).
func removeFiles(pkg *manifest.Package, keep *manifest.Package) error {
	kept := make(map[string]bool)
	if keep != nil {
		for _, f := range keep.Files {
			kept[f.Path] = true
		}
	}
	for _, f := range pkg.Files {
		if kept[f.Path] {
			continue
		}
		path := filepath.Join(pkg.Prefix, f.Path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("exec: removing %s", f.Path), err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode())
}
