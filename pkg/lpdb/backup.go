package lpdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// snapshot is the byte-stream form a Dump/Load pair exchanges: every
// installed package with its children fully materialized, in uid order,
// so the on-disk byte stream is a deterministic function of LPDB content.
type snapshot struct {
	Version  int                 `json:"version"`
	Packages []*manifest.Package `json:"packages"`
}

const snapshotVersion = 1

// Dump writes a full snapshot of the database to w, for use by an external
// backup tool (spec §4.4). The caller must hold a READ lock; Dump does not
// acquire one itself since the LPDB's public operations are not reentrant
// and the caller serializes lock acquisition (spec §5).
func (d *DB) Dump(w io.Writer) error {
	pkgs, err := d.List()
	if err != nil {
		return fmt.Errorf("lpdb: dump: %w", err)
	}
	snap := snapshot{Version: snapshotVersion, Packages: pkgs}
	enc := json.NewEncoder(w)
	if err := enc.Encode(snap); err != nil {
		return pkgerr.New(pkgerr.IO, "lpdb: encoding snapshot", err)
	}
	return nil
}

// Load overwrites LPDB state with the snapshot read from r. The caller
// must hold an EXCLUSIVE lock (spec §4.4: "load requires EXCLUSIVE and
// overwrites state").
func (d *DB) Load(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return pkgerr.New(pkgerr.Corrupt, "lpdb: decoding snapshot", err)
	}
	if snap.Version != snapshotVersion {
		return pkgerr.New(pkgerr.Corrupt, fmt.Sprintf("lpdb: unsupported snapshot version %d", snap.Version), nil)
	}

	return d.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM package`); err != nil {
			return pkgerr.New(pkgerr.DB, "lpdb: clearing package table for load", err)
		}
		for _, pkg := range snap.Packages {
			if err := registerTx(tx, pkg); err != nil {
				return err
			}
		}
		return nil
	})
}
