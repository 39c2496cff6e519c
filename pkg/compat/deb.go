// Package compat bridges the legacy Debian-style .deb archive format (the
// teacher's deb package, deb/package.go) into the core's own manifest
// representation, so a .deb built by an older toolchain can still be
// imported into the local database and, conversely, a core package can be
// re-exported as a .deb for consumers that have not migrated.
//
// The .deb's ar-envelope reading and writing (github.com/blakesmith/ar) is
// entirely the teacher's deb.NewPackage / deb.Package.WriteTo; this package
// only maps field-by-field between deb.Metadata/deb.Scripts/deb.File and
// manifest.Package.
package compat

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pkgcore/pkgcore/deb"
	"github.com/pkgcore/pkgcore/pkg/checksum"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkg/version"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// originPrefix marks an origin as synthesized from a legacy import rather
// than assigned by a catalogue maintainer.
const originPrefix = "deb-compat:"

// ImportDeb reads a legacy .deb archive and converts it to a manifest
// Package plus its file payload (path -> content, as deb.File.Body holds
// it), ready for registration through lpdb.DB.Register.
func ImportDeb(r io.Reader) (*manifest.Package, map[string]string, error) {
	dp, err := deb.NewPackage(r)
	if err != nil {
		return nil, nil, pkgerr.New(pkgerr.Corrupt, "compat: parsing legacy .deb", err)
	}

	origin := originPrefix + dp.Metadata.Package
	comment, desc := splitDescription(dp.Metadata.Description)

	pkg := &manifest.Package{
		Name:       dp.Metadata.Package,
		Version:    dp.Metadata.Version,
		Origin:     origin,
		UID:        dp.Metadata.Package + "~" + origin,
		Maintainer: dp.Metadata.Maintainer,
		Prefix:     "/",
		Desc:       desc,
		Comment:    comment,
		WWW:        dp.Metadata.Homepage,
		ABI:        "linux:" + dp.Metadata.Architecture,
		Vital:      dp.Metadata.Essential,
	}

	for _, clause := range dp.Metadata.Depends {
		if d, ok := parseDependClause(clause); ok {
			pkg.AddDep(d)
		}
	}
	for _, clause := range dp.Metadata.PreDepends {
		if d, ok := parseDependClause(clause); ok {
			pkg.AddDep(d)
		}
	}
	for _, name := range dp.Metadata.Provides {
		pkg.Provides = append(pkg.Provides, name)
	}

	body := make(map[string]string, len(dp.Files))
	for _, f := range dp.Files {
		path := strings.TrimPrefix(f.DestPath, "/")
		pkg.Files = append(pkg.Files, manifest.FileEntry{
			Path: path,
			Sum:  checksum.Bytes([]byte(f.Body)),
			Perm: uint32(f.Mode),
			Type: manifest.TypeRegular,
		})
		body[path] = f.Body
	}

	addScript(pkg, manifest.PreInstall, dp.Scripts.PreInst)
	addScript(pkg, manifest.PostInstall, dp.Scripts.PostInst)
	addScript(pkg, manifest.PreDeinstall, dp.Scripts.PreRm)
	addScript(pkg, manifest.PostDeinstall, dp.Scripts.PostRm)

	if err := pkg.Validate(); err != nil {
		return nil, nil, pkgerr.New(pkgerr.Corrupt, "compat: imported .deb fails manifest validation", err)
	}
	return pkg, body, nil
}

// ExportDeb renders pkg back to a legacy .deb archive. body supplies the
// content for each regular file by path (lpdb does not retain file bodies,
// so the caller must read them from the installed tree or a cached
// artifact before calling this).
func ExportDeb(pkg *manifest.Package, body map[string]string) ([]byte, error) {
	dp := &deb.Package{
		Metadata: deb.Metadata{
			Package:      pkg.Name,
			Version:      pkg.Version,
			Architecture: strings.TrimPrefix(pkg.ABI, "linux:"),
			Maintainer:   pkg.Maintainer,
			Description:  joinDescription(pkg.Comment, pkg.Desc),
			Homepage:     pkg.WWW,
			Essential:    pkg.Vital,
		},
	}
	for _, d := range pkg.Deps {
		dp.Metadata.Depends = append(dp.Metadata.Depends, formatDependClause(d))
	}
	dp.Metadata.Provides = append(dp.Metadata.Provides, pkg.Provides...)

	for _, s := range pkg.Scripts {
		if s.Language != manifest.Shell {
			continue
		}
		switch s.Kind {
		case manifest.PreInstall:
			dp.Scripts.PreInst = s.Body
		case manifest.PostInstall:
			dp.Scripts.PostInst = s.Body
		case manifest.PreDeinstall:
			dp.Scripts.PreRm = s.Body
		case manifest.PostDeinstall:
			dp.Scripts.PostRm = s.Body
		}
	}

	for _, f := range pkg.Files {
		if f.Type != manifest.TypeRegular {
			continue
		}
		dp.Files = append(dp.Files, deb.File{
			DestPath: "/" + f.Path,
			Mode:     int64(f.Perm),
			Body:     body[f.Path],
		})
	}

	var buf bytes.Buffer
	if _, err := dp.WriteTo(&buf); err != nil {
		return nil, pkgerr.New(pkgerr.IO, "compat: writing legacy .deb", err)
	}
	return buf.Bytes(), nil
}

func addScript(pkg *manifest.Package, kind manifest.ScriptKind, body string) {
	if body == "" {
		return
	}
	pkg.AddScript(manifest.Script{Kind: kind, Language: manifest.Shell, Body: body})
}

func splitDescription(d string) (comment, desc string) {
	lines := strings.SplitN(d, "\n", 2)
	comment = lines[0]
	if len(lines) == 2 {
		// Control-file continuation lines carry one leading space.
		rest := strings.Split(lines[1], "\n")
		for i, l := range rest {
			rest[i] = strings.TrimPrefix(l, " ")
		}
		desc = strings.Join(rest, "\n")
	}
	return comment, desc
}

func joinDescription(comment, desc string) string {
	if desc == "" {
		return comment
	}
	return comment + "\n" + desc
}

var dependRE = regexp.MustCompile(`^\s*([^\s(]+)\s*(?:\(\s*(=|<=|>=|<<|>>)\s*([^)]+)\)\s*)?$`)

// parseDependClause parses one alternative of a Depends/Pre-Depends field
// (e.g. "libfoo (>= 1.2)"). Alternatives joined by "|" are not supported;
// the first alternative of such a clause is used, matching dpkg's own
// preference order when a plain install is requested.
func parseDependClause(clause string) (manifest.Dependency, bool) {
	clause = strings.SplitN(clause, "|", 2)[0]
	m := dependRE.FindStringSubmatch(clause)
	if m == nil {
		return manifest.Dependency{}, false
	}
	d := manifest.Dependency{Name: m[1]}
	if m[2] != "" {
		op, err := version.ParseOp(debianOp(m[2]))
		if err != nil {
			return d, true
		}
		d.Constraint = &version.Constraint{Op: op, Version: strings.TrimSpace(m[3])}
	}
	return d, true
}

func formatDependClause(d manifest.Dependency) string {
	if d.Constraint == nil || d.Constraint.Op == version.Any {
		return d.Name
	}
	return fmt.Sprintf("%s (%s %s)", d.Name, debianOpString(d.Constraint.Op), d.Constraint.Version)
}

// debianOp maps dpkg's relational operators, which include the legacy
// "<<"/">>" strict forms, onto the core's five-operator set.
func debianOp(op string) string {
	switch op {
	case "<<":
		return "<"
	case ">>":
		return ">"
	default:
		return op
	}
}

func debianOpString(op version.Op) string {
	switch op {
	case version.Eq:
		return "="
	case version.Lt:
		return "<<"
	case version.Le:
		return "<="
	case version.Gt:
		return ">>"
	case version.Ge:
		return ">="
	default:
		return "="
	}
}
