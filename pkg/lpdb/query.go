package lpdb

import (
	"database/sql"

	"github.com/pkgcore/pkgcore/pkg/checksum"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// ByUID loads a package and all its child rows by uid. Secondary lookups
// by name/origin/path (spec §4.4) are thin wrappers around the same
// loader, keyed through a uid first.
func (d *DB) ByUID(uidStr string) (*manifest.Package, error) {
	row := d.sqlDB.QueryRow(`SELECT uid,name,version,origin,comment,desc,maintainer,www,abi,prefix,
		flatsize,automatic,locked,vital,time_installed,digest,reason FROM package WHERE uid = ?`, uidStr)
	pkg, err := scanPackage(row)
	if err != nil {
		return nil, err
	}
	if err := d.loadChildren(pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// ByName returns every installed package with the given name (there may be
// more than one across origins, though (name, origin) pairs are unique in
// practice).
func (d *DB) ByName(name string) ([]*manifest.Package, error) {
	rows, err := d.sqlDB.Query(`SELECT uid FROM package WHERE name = ?`, name)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: query by name", err)
	}
	defer rows.Close()
	var uids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning name query", err)
		}
		uids = append(uids, u)
	}
	return d.loadAll(uids)
}

// ByOrigin returns the installed package at the given origin, if any.
func (d *DB) ByOrigin(origin string) (*manifest.Package, error) {
	var u string
	err := d.sqlDB.QueryRow(`SELECT uid FROM package WHERE origin = ?`, origin).Scan(&u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: query by origin", err)
	}
	return d.ByUID(u)
}

// OwnerOfPath answers "which package owns this file?" (spec §4.4).
func (d *DB) OwnerOfPath(path string) (*manifest.Package, error) {
	var u string
	err := d.sqlDB.QueryRow(`SELECT package_uid FROM file WHERE path = ?`, path).Scan(&u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: query by path", err)
	}
	return d.ByUID(u)
}

// List returns every installed package (uid order), used both by CLI
// listing and as the query surface an external audit tool would drive
// (spec §1).
func (d *DB) List() ([]*manifest.Package, error) {
	rows, err := d.sqlDB.Query(`SELECT uid FROM package ORDER BY uid`)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: list", err)
	}
	defer rows.Close()
	var uids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning list", err)
		}
		uids = append(uids, u)
	}
	return d.loadAll(uids)
}

// ReverseDeps returns the uids of every installed package whose deps
// reference name (used both for autoremove eligibility and for ordering
// rule 2 in the planner, spec §4.8).
func (d *DB) ReverseDeps(name string) ([]string, error) {
	rows, err := d.sqlDB.Query(`SELECT DISTINCT package_uid FROM dep WHERE name = ?`, name)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: reverse deps", err)
	}
	defer rows.Close()
	var uids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning reverse deps", err)
		}
		uids = append(uids, u)
	}
	return uids, nil
}

func (d *DB) loadAll(uids []string) ([]*manifest.Package, error) {
	pkgs := make([]*manifest.Package, 0, len(uids))
	for _, u := range uids {
		p, err := d.ByUID(u)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

func scanPackage(row *sql.Row) (*manifest.Package, error) {
	var p manifest.Package
	err := row.Scan(&p.UID, &p.Name, &p.Version, &p.Origin, &p.Comment, &p.Desc, &p.Maintainer,
		&p.WWW, &p.ABI, &p.Prefix, &p.FlatSize, &p.Automatic, &p.Locked, &p.Vital,
		&p.TimeInstalled, &p.Digest, &p.Reason)
	if err == sql.ErrNoRows {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: no such package", err)
	}
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning package row", err)
	}
	return &p, nil
}

func (d *DB) loadChildren(p *manifest.Package) error {
	var err error
	if p.Files, err = d.loadFiles(p.UID); err != nil {
		return err
	}
	if p.Dirs, err = d.loadDirs(p.UID); err != nil {
		return err
	}
	if p.ShlibsRequired, err = d.loadStrings("SELECT libname FROM shlib_required WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.ShlibsProvided, err = d.loadStrings("SELECT libname FROM shlib_provided WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Categories, err = d.loadStrings("SELECT name FROM category WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Licenses, err = d.loadStrings("SELECT name FROM license WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Provides, err = d.loadStrings("SELECT name FROM provide WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Requires, err = d.loadStrings("SELECT name FROM require WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Users, err = d.loadStrings("SELECT name FROM user WHERE package_uid = ?", p.UID); err != nil {
		return err
	}
	if p.Groups, err = d.loadStrings(`SELECT name FROM "group" WHERE package_uid = ?`, p.UID); err != nil {
		return err
	}

	annRows, err := d.sqlDB.Query(`SELECT key,value FROM annotation WHERE package_uid = ?`, p.UID)
	if err != nil {
		return pkgerr.New(pkgerr.DB, "lpdb: loading annotations", err)
	}
	defer annRows.Close()
	p.Annotations = make(map[string]string)
	for annRows.Next() {
		var k, v string
		if err := annRows.Scan(&k, &v); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: scanning annotation", err)
		}
		p.Annotations[k] = v
	}

	return nil
}

func (d *DB) loadFiles(uidStr string) ([]manifest.FileEntry, error) {
	rows, err := d.sqlDB.Query(`SELECT path,sum,uname,gname,perm,fflags,type,link_target FROM file WHERE package_uid = ? ORDER BY path`, uidStr)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: loading files", err)
	}
	defer rows.Close()
	var out []manifest.FileEntry
	for rows.Next() {
		var f manifest.FileEntry
		var sum, typ string
		if err := rows.Scan(&f.Path, &sum, &f.Uname, &f.Gname, &f.Perm, &f.FFlags, &typ, &f.LinkTarget); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning file", err)
		}
		f.Sum = checksum.Sum(sum)
		f.Type = manifest.EntryType(typ)
		out = append(out, f)
	}
	return out, nil
}

func (d *DB) loadDirs(uidStr string) ([]manifest.DirEntry, error) {
	rows, err := d.sqlDB.Query(`SELECT path,perm,uname,gname,try_remove FROM directory WHERE package_uid = ? ORDER BY path`, uidStr)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: loading directories", err)
	}
	defer rows.Close()
	var out []manifest.DirEntry
	for rows.Next() {
		var dir manifest.DirEntry
		if err := rows.Scan(&dir.Path, &dir.Perm, &dir.Uname, &dir.Gname, &dir.TryRemove); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning directory", err)
		}
		out = append(out, dir)
	}
	return out, nil
}

func (d *DB) loadStrings(query, uidStr string) ([]string, error) {
	rows, err := d.sqlDB.Query(query, uidStr)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "lpdb: loading string set", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "lpdb: scanning string set", err)
		}
		out = append(out, s)
	}
	return out, nil
}
