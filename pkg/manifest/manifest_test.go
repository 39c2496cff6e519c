package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkgcore/pkgcore/pkg/version"
)

func validPkg() Package {
	return Package{
		Name: "foo", Version: "1.0", Origin: "ports/foo", Maintainer: "a@b.com",
		Prefix: "/usr/local", Desc: "d", Comment: "c", WWW: "https://example.com", ABI: "freebsd:14:x86:64",
	}
}

func TestValidateMissingMandatoryField(t *testing.T) {
	p := validPkg()
	p.Desc = ""
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "desc")
}

func TestValidateOK(t *testing.T) {
	p := validPkg()
	require.NoError(t, p.Validate())
}

func TestValidateDuplicateFilePath(t *testing.T) {
	p := validPkg()
	p.Files = []FileEntry{{Path: "bin/foo", Type: TypeRegular}, {Path: "bin/foo", Type: TypeRegular}}
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate file path")
}

func TestValidateSymlinkRequiresTarget(t *testing.T) {
	p := validPkg()
	p.Files = []FileEntry{{Path: "bin/foo", Type: TypeSymlink}}
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "link_target")
}

func TestAddDepUpsertsByNameOrigin(t *testing.T) {
	p := validPkg()
	p.AddDep(Dependency{Name: "libbar", Origin: "ports/libbar"})
	p.AddDep(Dependency{Name: "libbar", Origin: "ports/libbar", Constraint: &version.Constraint{Op: version.Ge, Version: "2.0"}})
	require.Len(t, p.Deps, 1)
	require.NotNil(t, p.Deps[0].Constraint)
	require.Equal(t, "2.0", p.Deps[0].Constraint.Version)
}

func TestAddDepDistinguishesByOrigin(t *testing.T) {
	p := validPkg()
	p.AddDep(Dependency{Name: "libbar", Origin: "ports/libbar"})
	p.AddDep(Dependency{Name: "libbar", Origin: "ports/libbar2"})
	require.Len(t, p.Deps, 2)
}

func TestAddScriptRejectsDuplicateKindLanguage(t *testing.T) {
	p := validPkg()
	require.NoError(t, p.AddScript(Script{Kind: PreInstall, Language: Shell, Body: "true"}))
	err := p.AddScript(Script{Kind: PreInstall, Language: Shell, Body: "false"})
	require.Error(t, err)
}

func TestAddScriptAllowsDifferentLanguageSameKind(t *testing.T) {
	p := validPkg()
	require.NoError(t, p.AddScript(Script{Kind: PreInstall, Language: Shell, Body: "true"}))
	require.NoError(t, p.AddScript(Script{Kind: PreInstall, Language: EmbeddedLua, Body: "--lua"}))
	require.Len(t, p.Scripts, 2)
}

func TestSetOptionUpsertsByKey(t *testing.T) {
	p := validPkg()
	p.SetOption(Option{Key: "DOCS", Value: "on"})
	p.SetOption(Option{Key: "DOCS", Value: "off"})
	require.Len(t, p.Options, 1)
	require.Equal(t, "off", p.Options[0].Value)
}

func TestComputeDigestStableAcrossFileOrder(t *testing.T) {
	p1 := validPkg()
	p1.Files = []FileEntry{{Path: "a", Type: TypeRegular}, {Path: "b", Type: TypeRegular}}
	p2 := validPkg()
	p2.Files = []FileEntry{{Path: "b", Type: TypeRegular}, {Path: "a", Type: TypeRegular}}
	require.Equal(t, p1.ComputeDigest(), p2.ComputeDigest())
}

func TestComputeDigestChangesWithContent(t *testing.T) {
	p1 := validPkg()
	p2 := validPkg()
	p2.Version = "2.0"
	require.NotEqual(t, p1.ComputeDigest(), p2.ComputeDigest())
}

func TestEmitParseRoundTrip(t *testing.T) {
	p := validPkg()
	p.Deps = []Dependency{{Name: "libbar", Origin: "ports/libbar"}}
	p.Files = []FileEntry{{Path: "bin/foo", Type: TypeRegular, Perm: 0755}}

	compact, err := Emit(&p, Compact)
	require.NoError(t, err)
	pretty, err := Emit(&p, Pretty)
	require.NoError(t, err)
	require.NotEqual(t, string(compact), string(pretty))

	parsedCompact, warnings, err := Parse(compact)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, p.Name, parsedCompact.Name)
	require.Equal(t, p.Deps, parsedCompact.Deps)
	require.Equal(t, p.Files, parsedCompact.Files)

	parsedPretty, warnings, err := Parse(pretty)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, parsedCompact, parsedPretty)
}

func TestParseWarnsOnUnknownField(t *testing.T) {
	data := []byte(`{"name":"foo","version":"1.0","origin":"ports/foo","maintainer":"a@b.com",
		"prefix":"/usr/local","desc":"d","comment":"c","www":"https://example.com","abi":"freebsd:14:x86:64",
		"totally_unknown_field":"x"}`)
	pkg, warnings, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "foo", pkg.Name)
	require.Len(t, warnings, 1)
	require.Equal(t, "totally_unknown_field", warnings[0].Field)
	require.Contains(t, warnings[0].String(), "totally_unknown_field")
}

func TestParseInvalidJSON(t *testing.T) {
	_, _, err := Parse([]byte("not json"))
	require.Error(t, err)
}
