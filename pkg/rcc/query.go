package rcc

import (
	"database/sql"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// Set is the open collection of per-repository catalogues the planner
// queries against, in the deterministic order corectx.Context.Repos
// defines (spec §4.5: "first enabled repo wins").
type Set struct {
	catalogues []*Catalogue
}

// NewSet wraps already-open catalogues, in traversal order.
func NewSet(catalogues ...*Catalogue) *Set { return &Set{catalogues: catalogues} }

func (s *Set) Close() error {
	var first error
	for _, c := range s.catalogues {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ByName returns the first cataloged package named name across all open
// repositories, in traversal order.
func (s *Set) ByName(name string) (*Row, bool, error) {
	for _, c := range s.catalogues {
		row, ok, err := c.byName(name)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return row, true, nil
		}
	}
	return nil, false, nil
}

// ByOrigin returns the first cataloged package with the given origin across
// all open repositories, in traversal order.
func (s *Set) ByOrigin(origin string) (*Row, bool, error) {
	for _, c := range s.catalogues {
		row, ok, err := c.byOrigin(origin)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return row, true, nil
		}
	}
	return nil, false, nil
}

// ByUID returns the cataloged package with the given uid, searched across
// all open repositories in traversal order.
func (s *Set) ByUID(uid string) (*Row, bool, error) {
	for _, c := range s.catalogues {
		row, ok, err := c.byUID(uid)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (c *Catalogue) byName(name string) (*Row, bool, error) {
	if cached, ok := c.cache.Get("name|" + name); ok {
		return cached, true, nil
	}
	row, ok, err := c.queryOne(`SELECT uid,name,version,origin,abi,source_url,size,packing_format,manifest_json
		FROM rcc_package WHERE name = ? ORDER BY version DESC LIMIT 1`, name)
	if err != nil || !ok {
		return nil, ok, err
	}
	c.cache.Add("name|"+name, row)
	return row, true, nil
}

func (c *Catalogue) byOrigin(origin string) (*Row, bool, error) {
	if cached, ok := c.cache.Get("origin|" + origin); ok {
		return cached, true, nil
	}
	row, ok, err := c.queryOne(`SELECT uid,name,version,origin,abi,source_url,size,packing_format,manifest_json
		FROM rcc_package WHERE origin = ? LIMIT 1`, origin)
	if err != nil || !ok {
		return nil, ok, err
	}
	c.cache.Add("origin|"+origin, row)
	return row, true, nil
}

func (c *Catalogue) byUID(uid string) (*Row, bool, error) {
	if cached, ok := c.cache.Get("uid|" + uid); ok {
		return cached, true, nil
	}
	row, ok, err := c.queryOne(`SELECT uid,name,version,origin,abi,source_url,size,packing_format,manifest_json
		FROM rcc_package WHERE uid = ? LIMIT 1`, uid)
	if err != nil || !ok {
		return nil, ok, err
	}
	c.cache.Add("uid|"+uid, row)
	return row, true, nil
}

func (c *Catalogue) queryOne(query string, arg string) (*Row, bool, error) {
	var (
		uid, name, version, origin, abi, sourceURL, packingFormat, manifestJSON string
		size                                                                    int64
	)
	err := c.sqlDB.QueryRow(query, arg).Scan(&uid, &name, &version, &origin, &abi, &sourceURL, &size, &packingFormat, &manifestJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerr.New(pkgerr.DB, "rcc: querying catalogue", err)
	}
	pkg, err := parseManifestJSON(manifestJSON)
	if err != nil {
		return nil, false, err
	}
	return &Row{Package: *pkg, SourceURL: sourceURL, Size: size, PackingFormat: packingFormat}, true, nil
}

// All returns every row in this catalogue, for planner-side dependency
// resolution that must consider every candidate rather than a single
// first-match lookup.
func (c *Catalogue) All() ([]Row, error) {
	rows, err := c.sqlDB.Query(`SELECT uid,name,version,origin,abi,source_url,size,packing_format,manifest_json FROM rcc_package`)
	if err != nil {
		return nil, pkgerr.New(pkgerr.DB, "rcc: listing catalogue", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			uid, name, version, origin, abi, sourceURL, packingFormat, manifestJSON string
			size                                                                    int64
		)
		if err := rows.Scan(&uid, &name, &version, &origin, &abi, &sourceURL, &size, &packingFormat, &manifestJSON); err != nil {
			return nil, pkgerr.New(pkgerr.DB, "rcc: scanning catalogue row", err)
		}
		pkg, err := parseManifestJSON(manifestJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{Package: *pkg, SourceURL: sourceURL, Size: size, PackingFormat: packingFormat})
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerr.New(pkgerr.DB, "rcc: iterating catalogue", err)
	}
	return out, nil
}
