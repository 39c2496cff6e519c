// Package lpdb implements the Local Package Database of spec §4.4: the
// authoritative record of installed packages, backed by a transactional
// relational store (modernc.org/sqlite, a cgo-free driver also required by
// ipiton-alert-history-service and DataDog-datadog-agent in the retrieval
// pack, matching the teacher's zero-cgo dependency graph), with its schema
// applied through github.com/pressly/goose/v3 migrations (grounded on
// ipiton-alert-history-service's own goose-managed sqlite schema).
//
// The mutator surface and the split between "installed state" tables is
// grounded on the conceptual schema of spec §4.4 directly; there is no
// single teacher file this maps to since the teacher has no database layer
// at all, so the persistence idiom (one *sql.DB, migrations applied at
// Open, prepared statements built from named queries) follows
// ipiton-alert-history-service's storage package instead.
package lpdb

import (
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is an open handle to the local package database: the sqlite file plus
// the directory-level lock protocol state (Locker).
type DB struct {
	sqlDB  *sql.DB
	Locker *Locker
	dbDir  string
}

// Open opens (creating if absent) the LPDB at <dbDir>/local.sqlite and
// applies any pending schema migrations. It does not itself acquire any of
// the four logical locks (spec §4.4) — callers must take one explicitly
// via DB.Locker before issuing reads or writes.
func Open(dbDir string) (*DB, error) {
	path := filepath.Join(dbDir, "local.sqlite")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lpdb: opening %s: %w", path, err)
	}
	// The schema semantics (spec §4.4) require single-writer/multi-reader
	// concurrency; sqlite's own single-writer behavior plus our pidfile
	// lock protocol (lock.go) together provide it, so the pool itself is
	// capped at one writer connection to avoid SQLITE_BUSY under the hood
	// racing with the logical lock protocol above it.
	sqlDB.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("lpdb: goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return nil, fmt.Errorf("lpdb: applying migrations: %w", err)
	}

	locker, err := NewLocker(dbDir)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB: sqlDB, Locker: locker, dbDir: dbDir}, nil
}

// Close releases the sqlite handle. It does not release any held lock;
// callers must call Locker.Release first.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}
