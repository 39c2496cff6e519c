package lpdb

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// IsConfigFile reports whether f lives under a conventional config
// directory (pkgng's own convention: anything under PREFIX/etc is a
// config file, grounded on original_source/libpkg/pkg_add.c's own
// etc-prefix check for "keep the installed copy, don't overwrite").
// Exported so the planner can apply the same exemption when it detects a
// collision ahead of the LPDB insert that would otherwise reject it.
func IsConfigFile(f manifest.FileEntry) bool {
	p := strings.TrimPrefix(f.Path, "/")
	return p == "etc" || strings.HasPrefix(p, "etc/")
}

// Mutators are the only write operations LPDB exposes (spec §4.4): register,
// deregister, set_auto, set_locked, set_annotation, set_origin, and
// register_finale. Each runs inside one transaction; on any error the
// transaction rolls back and no event other than the error is produced —
// callers (the executor) are responsible for emitting that ERROR event.

// withTx requires an EXCLUSIVE (or UPGRADE) lock, runs fn inside a
// transaction, and commits iff fn returns nil.
func (d *DB) withTx(fn func(tx *sql.Tx) error) error {
	if err := d.Locker.RequireExclusive(); err != nil {
		return err
	}
	tx, err := d.sqlDB.Begin()
	if err != nil {
		return pkgerr.New(pkgerr.DB, "lpdb: beginning transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return pkgerr.New(pkgerr.DB, "lpdb: committing transaction", err)
	}
	return nil
}

// Register inserts a new installed package row and all of its child rows
// (files, dirs, deps, ...). The package's UID must not already exist.
func (d *DB) Register(pkg *manifest.Package) error {
	if err := pkg.Validate(); err != nil {
		return pkgerr.New(pkgerr.Config, "lpdb: register", err)
	}
	return d.withTx(func(tx *sql.Tx) error {
		return registerTx(tx, pkg)
	})
}

func registerTx(tx *sql.Tx, pkg *manifest.Package) error {
	_, err := tx.Exec(`INSERT INTO package
		(uid,name,version,origin,comment,desc,maintainer,www,abi,prefix,flatsize,automatic,locked,vital,time_installed,digest,message,reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		pkg.UID, pkg.Name, pkg.Version, pkg.Origin, pkg.Comment, pkg.Desc, pkg.Maintainer,
		pkg.WWW, pkg.ABI, pkg.Prefix, pkg.FlatSize, pkg.Automatic, pkg.Locked, pkg.Vital,
		pkg.TimeInstalled, pkg.Digest, "", pkg.Reason)
	if err != nil {
		return pkgerr.New(pkgerr.DB, "lpdb: inserting package row", err)
	}
	return insertChildren(tx, pkg)
}

func insertChildren(tx *sql.Tx, pkg *manifest.Package) error {
	for _, f := range pkg.Files {
		// File-path ownership is unique across packages except for the
		// config-file case (spec §4.7): a config file's path may already
		// be owned by another installed package's row when two packages
		// legitimately ship the same config path (e.g. a split package
		// pair), and the owning row is reconciled at the next
		// write-config-file pass rather than rejected here. Every other
		// entry type collision is a real conflict.
		if f.Type != manifest.TypeDirectory {
			var owner string
			err := tx.QueryRow(`SELECT package_uid FROM file WHERE path = ? AND package_uid != ?`, f.Path, pkg.UID).Scan(&owner)
			if err == nil {
				if !IsConfigFile(f) {
					return pkgerr.New(pkgerr.Conflict, fmt.Sprintf("lpdb: %s already owned by %s", f.Path, owner), nil)
				}
			} else if err != sql.ErrNoRows {
				return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: checking ownership of %s", f.Path), err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO file (package_uid,path,sum,uname,gname,perm,fflags,type,link_target)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			pkg.UID, f.Path, string(f.Sum), f.Uname, f.Gname, f.Perm, f.FFlags, string(f.Type), f.LinkTarget); err != nil {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: inserting file %s", f.Path), err)
		}
	}
	for _, dir := range pkg.Dirs {
		if _, err := tx.Exec(`INSERT INTO directory (package_uid,path,perm,uname,gname,try_remove) VALUES (?,?,?,?,?,?)`,
			pkg.UID, dir.Path, dir.Perm, dir.Uname, dir.Gname, dir.TryRemove); err != nil {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: inserting directory %s", dir.Path), err)
		}
	}
	for _, dep := range pkg.Deps {
		op, ver := "", ""
		if dep.Constraint != nil {
			op, ver = fmt.Sprint(dep.Constraint.Op), dep.Constraint.Version
		}
		if _, err := tx.Exec(`INSERT INTO dep (package_uid,name,origin,version_constraint_op,version_constraint_ver) VALUES (?,?,?,?,?)`,
			pkg.UID, dep.Name, dep.Origin, op, ver); err != nil {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: inserting dep %s", dep.Name), err)
		}
	}
	for _, o := range pkg.Options {
		if _, err := tx.Exec(`INSERT INTO option (package_uid,key,value,default_value,description) VALUES (?,?,?,?,?)`,
			pkg.UID, o.Key, o.Value, o.Default, o.Description); err != nil {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: inserting option %s", o.Key), err)
		}
	}
	for k, v := range pkg.Annotations {
		if _, err := tx.Exec(`INSERT INTO annotation (package_uid,key,value) VALUES (?,?,?)`, pkg.UID, k, v); err != nil {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: inserting annotation %s", k), err)
		}
	}
	for _, lib := range pkg.ShlibsRequired {
		if _, err := tx.Exec(`INSERT INTO shlib_required (package_uid,libname) VALUES (?,?)`, pkg.UID, lib); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting shlib_required", err)
		}
	}
	for _, lib := range pkg.ShlibsProvided {
		if _, err := tx.Exec(`INSERT INTO shlib_provided (package_uid,libname) VALUES (?,?)`, pkg.UID, lib); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting shlib_provided", err)
		}
	}
	for _, c := range pkg.Categories {
		if _, err := tx.Exec(`INSERT INTO category (package_uid,name) VALUES (?,?)`, pkg.UID, c); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting category", err)
		}
	}
	for _, l := range pkg.Licenses {
		if _, err := tx.Exec(`INSERT INTO license (package_uid,name) VALUES (?,?)`, pkg.UID, l); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting license", err)
		}
	}
	for _, p := range pkg.Provides {
		if _, err := tx.Exec(`INSERT INTO provide (package_uid,name) VALUES (?,?)`, pkg.UID, p); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting provide", err)
		}
	}
	for _, r := range pkg.Requires {
		if _, err := tx.Exec(`INSERT INTO require (package_uid,name) VALUES (?,?)`, pkg.UID, r); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting require", err)
		}
	}
	for _, u := range pkg.Users {
		if _, err := tx.Exec(`INSERT INTO user (package_uid,name) VALUES (?,?)`, pkg.UID, u); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting user", err)
		}
	}
	for _, g := range pkg.Groups {
		if _, err := tx.Exec(`INSERT INTO "group" (package_uid,name) VALUES (?,?)`, pkg.UID, g); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting group", err)
		}
	}
	for _, s := range pkg.Scripts {
		if _, err := tx.Exec(`INSERT INTO script (package_uid,kind,language,body) VALUES (?,?,?,?)`,
			pkg.UID, string(s.Kind), string(s.Language), s.Body); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting script", err)
		}
	}
	for _, m := range pkg.Messages {
		if _, err := tx.Exec(`INSERT INTO message (package_uid,kind,min_version,max_version,text) VALUES (?,?,?,?,?)`,
			pkg.UID, string(m.Kind), m.MinVersion, m.MaxVersion, m.Text); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: inserting message", err)
		}
	}
	return nil
}

// ReplaceTx deletes oldUID and registers newPkg in the same transaction —
// the job executor's UPGRADE step (spec §4.9 rule 4: "the old DB row is
// deleted and the new row is written in the same DB transaction").
func (d *DB) ReplaceTx(oldUID string, newPkg *manifest.Package) error {
	if err := newPkg.Validate(); err != nil {
		return pkgerr.New(pkgerr.Config, "lpdb: replace", err)
	}
	return d.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM package WHERE uid = ?`, oldUID); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: replace: deleting old row", err)
		}
		return registerTx(tx, newPkg)
	})
}

// Deregister removes a package and all its child rows (ON DELETE CASCADE
// handles the children once the package row is gone).
func (d *DB) Deregister(uidStr string) error {
	return d.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM package WHERE uid = ?`, uidStr)
		if err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: deregister", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("lpdb: deregister: no such package %s", uidStr), nil)
		}
		return nil
	})
}

// SetAuto sets the automatic flag (spec §3 "Automatic flag").
func (d *DB) SetAuto(uidStr string, automatic bool) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE package SET automatic = ? WHERE uid = ?`, automatic, uidStr)
		if err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: set_auto", err)
		}
		return nil
	})
}

// SetLocked sets the lock flag (spec §3 "Lock state").
func (d *DB) SetLocked(uidStr string, locked bool) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE package SET locked = ? WHERE uid = ?`, locked, uidStr)
		if err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: set_locked", err)
		}
		return nil
	})
}

// SetAnnotation upserts a single key/value annotation.
func (d *DB) SetAnnotation(uidStr, key, value string) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO annotation (package_uid,key,value) VALUES (?,?,?)
			ON CONFLICT(package_uid,key) DO UPDATE SET value = excluded.value`, uidStr, key, value)
		if err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: set_annotation", err)
		}
		return nil
	})
}

// SetOrigin updates a package's origin category/port path.
func (d *DB) SetOrigin(uidStr, origin string) error {
	return d.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE package SET origin = ? WHERE uid = ?`, origin, uidStr)
		if err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: set_origin", err)
		}
		return nil
	})
}

// RegisterFinale performs any bookkeeping that must happen exactly once
// after a batch of Register/Deregister calls commits as a unit (e.g.
// recomputing reverse-dependency caches). It is itself transactional so a
// caller applying several mutators inside one executor step can end the
// step with a single RegisterFinale call.
func (d *DB) RegisterFinale() error {
	return d.withTx(func(tx *sql.Tx) error {
		// No derived/cached tables exist yet in this schema; reserved for
		// future reverse-dependency materialization.
		return nil
	})
}
