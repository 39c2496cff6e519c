// Package manifest implements the package manifest data model and codec of
// spec §3 and §4.3: an ordered, typed set of fields describing a package,
// emitted/parsed in two surface forms (compact, pretty) that must agree
// structurally (parse(emit(pkg)) == pkg).
//
// Field ownership and container semantics follow the §9 rearchitecture
// notes: Package owns its collections outright (no retained cross-package
// pointers — deps/provides/requires are plain value slices resolved by name
// through an LPDB handle, never by pointer), dependency edges are a set
// unique by (name, origin), and options are a mapping unique by key.
//
// The field layout and the split between mandatory scalar fields and
// optional named collections is grounded on deb.Metadata (deb/package.go in
// the teacher repository); this package generalizes that Debian-specific
// control-field set to the core's own field list.
package manifest

import (
	"fmt"
	"sort"

	"github.com/pkgcore/pkgcore/pkg/checksum"
	"github.com/pkgcore/pkgcore/pkg/version"
)

// Package is the full manifest of one package, installed or cataloged.
type Package struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Origin     string `json:"origin"`
	UID        string `json:"uid,omitempty"`
	Maintainer string `json:"maintainer"`
	Prefix     string `json:"prefix"`
	Desc       string `json:"desc"`
	Comment    string `json:"comment"`
	WWW        string `json:"www"`
	ABI        string `json:"abi"`

	FlatSize      int64  `json:"flatsize,omitempty"`
	Automatic     bool   `json:"automatic,omitempty"`
	Locked        bool   `json:"locked,omitempty"`
	Vital         bool   `json:"vital,omitempty"`
	Digest        string `json:"digest,omitempty"`
	Reason        string `json:"reason,omitempty"`
	TimeInstalled int64  `json:"time_installed,omitempty"` // unix seconds, 0 if not installed

	Deps            []Dependency      `json:"deps,omitempty"`
	Files           []FileEntry       `json:"files,omitempty"`
	Dirs            []DirEntry        `json:"dirs,omitempty"`
	Options         []Option          `json:"options,omitempty"`
	Categories      []string          `json:"categories,omitempty"`
	Licenses        []string          `json:"licenses,omitempty"`
	Annotations     map[string]string `json:"annotations,omitempty"`
	Scripts         []Script          `json:"scripts,omitempty"`
	ShlibsRequired  []string          `json:"shlibs_required,omitempty"`
	ShlibsProvided  []string          `json:"shlibs_provided,omitempty"`
	Requires        []string          `json:"requires,omitempty"`
	Provides        []string          `json:"provides,omitempty"`
	Users           []string          `json:"users,omitempty"`
	Groups          []string          `json:"groups,omitempty"`
	Messages        []Message         `json:"messages,omitempty"`
}

// Dependency is a (from_pkg) --requires--> (name, version_constraint?,
// origin?) edge (spec §3). Uniqueness within a Package's Deps slice is by
// (Name, Origin), enforced by AddDep.
type Dependency struct {
	Name       string             `json:"name"`
	Origin     string             `json:"origin,omitempty"`
	Constraint *version.Constraint `json:"constraint,omitempty"`
}

// FileEntry is one installed regular file or symlink (spec §3).
type FileEntry struct {
	Path       string        `json:"path"`
	Sum        checksum.Sum  `json:"sum,omitempty"`
	Uname      string        `json:"uname"`
	Gname      string        `json:"gname"`
	Perm       uint32        `json:"perm"`
	FFlags     uint32        `json:"fflags,omitempty"`
	Type       EntryType     `json:"type"`
	LinkTarget string        `json:"link_target,omitempty"`
}

// DirEntry is one directory owned by a package (spec §3).
type DirEntry struct {
	Path      string `json:"path"`
	Perm      uint32 `json:"perm"`
	Uname     string `json:"uname"`
	Gname     string `json:"gname"`
	TryRemove bool   `json:"try_remove,omitempty"`
}

// Option is a package build/runtime option (spec §4.4 `option` table).
type Option struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	Default      string `json:"default_value,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Script is one maintainer script (spec §3). At most one Script per
// (Kind, Language) pair may exist in a Package's Scripts slice; AddScript
// enforces this.
type Script struct {
	Kind     ScriptKind     `json:"kind"`
	Language ScriptLanguage `json:"language"`
	Body     string         `json:"body"`
}

// Message is a `message` table row (spec §4.4), shown by the executor at
// install/upgrade/remove or always.
type Message struct {
	Kind       MessageKind `json:"kind"`
	MinVersion string      `json:"min_version,omitempty"`
	MaxVersion string      `json:"max_version,omitempty"`
	Text       string      `json:"text"`
}

// AddDep appends d, replacing any existing dependency with the same
// (Name, Origin) — the set-of-edges semantics of §9's rearchitecture note.
func (p *Package) AddDep(d Dependency) {
	for i, existing := range p.Deps {
		if existing.Name == d.Name && existing.Origin == d.Origin {
			p.Deps[i] = d
			return
		}
	}
	p.Deps = append(p.Deps, d)
}

// AddScript appends s, enforcing at most one script per (Kind, Language).
func (p *Package) AddScript(s Script) error {
	for _, existing := range p.Scripts {
		if existing.Kind == s.Kind && existing.Language == s.Language {
			return fmt.Errorf("manifest: duplicate script for kind=%s language=%s", s.Kind, s.Language)
		}
	}
	p.Scripts = append(p.Scripts, s)
	return nil
}

// SetOption upserts an option by key (the "mapping option-key -> value"
// container of §9, keys unique).
func (p *Package) SetOption(o Option) {
	for i, existing := range p.Options {
		if existing.Key == o.Key {
			p.Options[i] = o
			return
		}
	}
	p.Options = append(p.Options, o)
}

// Validate checks the mandatory-field and per-entity invariants of spec §3
// and §4.3 that apply independent of any LPDB/RCC state (cross-package
// uniqueness is checked by the database layer, not here).
func (p *Package) Validate() error {
	for _, f := range mandatoryFields {
		if p.fieldValue(f) == "" {
			return fmt.Errorf("manifest: missing mandatory field %q", f)
		}
	}
	seen := make(map[string]bool, len(p.Files))
	for _, f := range p.Files {
		if seen[f.Path] {
			return fmt.Errorf("manifest: duplicate file path %q within package", f.Path)
		}
		seen[f.Path] = true
		if f.Type == TypeSymlink && f.LinkTarget == "" {
			return fmt.Errorf("manifest: symlink %q has no link_target", f.Path)
		}
	}
	return nil
}

func (p *Package) fieldValue(f FieldKey) string {
	switch f {
	case FieldName:
		return p.Name
	case FieldVersion:
		return p.Version
	case FieldOrigin:
		return p.Origin
	case FieldMaintainer:
		return p.Maintainer
	case FieldPrefix:
		return p.Prefix
	case FieldDesc:
		return p.Desc
	case FieldComment:
		return p.Comment
	case FieldWWW:
		return p.WWW
	case FieldABI:
		return p.ABI
	default:
		return ""
	}
}

// ComputeDigest returns the package digest (spec §4.1) over the mandatory
// fields, each file's path/sum/perm/type and each dependency, in canonical
// order; it does not assign Package.Digest. It mirrors deb.Package.Digest's
// approach of hashing a length-prefixed field record rather than raw
// concatenation.
func (p *Package) ComputeDigest() checksum.Sum {
	b := checksum.NewBuilder()
	b.Add("name", p.Name).Add("version", p.Version).Add("origin", p.Origin).
		Add("maintainer", p.Maintainer).Add("prefix", p.Prefix).
		Add("desc", p.Desc).Add("comment", p.Comment).Add("www", p.WWW).Add("abi", p.ABI)

	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	fileByPath := make(map[string]FileEntry, len(p.Files))
	for _, f := range p.Files {
		fileByPath[f.Path] = f
	}
	for _, path := range paths {
		f := fileByPath[path]
		b.Add("file:"+path, fmt.Sprintf("%s:%d:%s", f.Sum, f.Perm, f.Type))
	}

	deps := append([]Dependency(nil), p.Deps...)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Origin < deps[j].Origin
	})
	for _, d := range deps {
		b.Add("dep:"+d.Name+"/"+d.Origin, constraintString(d.Constraint))
	}

	return b.Sum()
}

func constraintString(c *version.Constraint) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%d:%s", c.Op, c.Version)
}
