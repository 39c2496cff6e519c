// Package rcc implements the Remote Catalogue Cache of spec §4.5: a
// read-mostly mirror of one or more remote repositories' package
// descriptions, synced via an abstract fetch.Provider and queried by the
// job planner.
//
// Like lpdb, RCC has no direct teacher analogue (the teacher repository
// builds a catalogue, it does not cache a remote one) so its persistence
// idiom follows lpdb's own (one modernc.org/sqlite-backed *sql.DB per
// repository, at <db_dir>/repo-<name>.sqlite per spec §6). Its "first
// enabled repo wins" traversal and per-repository metadata struct reuse
// corectx.Repository, which already carries the mirror/signature mode
// split spec §4.5 requires.
package rcc

import (
	"database/sql"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// Row is one cataloged package: a manifest.Package plus the RCC-specific
// provenance fields spec §4.5 requires (source URL, archive size,
// packaging format) that have no place in the installed-package data
// model.
type Row struct {
	manifest.Package
	SourceURL      string
	Size           int64
	PackingFormat  string
}

// Catalogue is one open repository cache.
type Catalogue struct {
	Name  string
	sqlDB *sql.DB
	cache *lru.Cache[string, *Row] // keyed by "name|", "origin|" or "uid|" plus the value, per query.go
}

const schema = `
CREATE TABLE IF NOT EXISTS rcc_package (
	uid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	origin TEXT NOT NULL,
	abi TEXT NOT NULL DEFAULT '',
	digest TEXT NOT NULL,
	source_url TEXT NOT NULL,
	size INTEGER NOT NULL,
	packing_format TEXT NOT NULL DEFAULT '',
	manifest_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rcc_package_name ON rcc_package(name);
CREATE INDEX IF NOT EXISTS idx_rcc_package_origin ON rcc_package(origin);
CREATE UNIQUE INDEX IF NOT EXISTS idx_rcc_package_digest ON rcc_package(digest);

CREATE TABLE IF NOT EXISTS rcc_descriptor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL,
	packing_format TEXT NOT NULL,
	revision TEXT NOT NULL,
	digest TEXT NOT NULL,
	filename TEXT NOT NULL
);
`

// Open opens (creating if absent) the repository cache for name under
// dbDir, applying its schema.
func Open(dbDir, name string) (*Catalogue, error) {
	path := filepath.Join(dbDir, fmt.Sprintf("repo-%s.sqlite", name))
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rcc: opening %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("rcc: applying schema: %w", err)
	}
	cache, _ := lru.New[string, *Row](256)
	return &Catalogue{Name: name, sqlDB: sqlDB, cache: cache}, nil
}

func (c *Catalogue) Close() error { return c.sqlDB.Close() }

// CurrentDescriptor returns the last-synced descriptor, or (Descriptor{},
// false) if this catalogue has never been synced.
func (c *Catalogue) CurrentDescriptor() (Descriptor, bool, error) {
	var d Descriptor
	err := c.sqlDB.QueryRow(`SELECT version,packing_format,revision,digest,filename FROM rcc_descriptor WHERE id = 1`).
		Scan(&d.Version, &d.PackingFormat, &d.Revision, &d.Digest, &d.Filename)
	if err == sql.ErrNoRows {
		return Descriptor{}, false, nil
	}
	if err != nil {
		return Descriptor{}, false, pkgerr.New(pkgerr.DB, "rcc: reading descriptor", err)
	}
	return d, true, nil
}

// replaceAll atomically swaps the catalogue's package rows and descriptor
// record in one transaction — the "atomically fetch... rename into place"
// step of spec §4.5's Update algorithm, expressed at the row level since
// this implementation stores the catalogue in sqlite rather than as a
// standalone file needing a temp-name/rename dance.
func (c *Catalogue) replaceAll(desc Descriptor, rows []Row) error {
	tx, err := c.sqlDB.Begin()
	if err != nil {
		return pkgerr.New(pkgerr.DB, "rcc: beginning transaction", err)
	}
	if _, err := tx.Exec(`DELETE FROM rcc_package`); err != nil {
		tx.Rollback()
		return pkgerr.New(pkgerr.DB, "rcc: clearing catalogue", err)
	}
	for _, r := range rows {
		data, err := manifestJSON(&r.Package)
		if err != nil {
			tx.Rollback()
			return err
		}
		// The digest column is unique, so a row without a digest is keyed
		// by its computed manifest digest.
		digest := r.Digest
		if digest == "" {
			digest = string(r.Package.ComputeDigest())
		}
		_, err = tx.Exec(`INSERT INTO rcc_package (uid,name,version,origin,abi,digest,source_url,size,packing_format,manifest_json)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			r.UID, r.Name, r.Version, r.Origin, r.ABI, digest, r.SourceURL, r.Size, r.PackingFormat, data)
		if err != nil {
			tx.Rollback()
			return pkgerr.New(pkgerr.DB, fmt.Sprintf("rcc: inserting package %s", r.Name), err)
		}
	}
	_, err = tx.Exec(`INSERT INTO rcc_descriptor (id,version,packing_format,revision,digest,filename) VALUES (1,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET version=excluded.version, packing_format=excluded.packing_format,
			revision=excluded.revision, digest=excluded.digest, filename=excluded.filename`,
		desc.Version, desc.PackingFormat, desc.Revision, desc.Digest, desc.Filename)
	if err != nil {
		tx.Rollback()
		return pkgerr.New(pkgerr.DB, "rcc: writing descriptor", err)
	}
	if err := tx.Commit(); err != nil {
		return pkgerr.New(pkgerr.DB, "rcc: committing catalogue swap", err)
	}
	c.cache.Purge()
	return nil
}
