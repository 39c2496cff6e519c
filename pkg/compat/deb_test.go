package compat

import (
	"bytes"
	"testing"

	"github.com/pkgcore/pkgcore/deb"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/stretchr/testify/require"
)

func buildLegacyDeb(t *testing.T) []byte {
	t.Helper()
	dp := &deb.Package{
		Metadata: deb.Metadata{
			Package:      "legacy-tool",
			Version:      "2.1.0",
			Architecture: "amd64",
			Maintainer:   "Old Maintainer <old@example.com>",
			Description:  "a legacy tool\nDoes legacy things.",
			Homepage:     "https://example.com/legacy-tool",
			Depends:      []string{"libfoo (>= 1.0)", "libbar"},
		},
		Scripts: deb.Scripts{
			PostInst: "#!/bin/sh\necho installed\n",
		},
		Files: []deb.File{
			{DestPath: "/usr/bin/legacy-tool", Mode: 0755, Body: "binary-content"},
		},
	}
	var buf bytes.Buffer
	_, err := dp.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImportDeb(t *testing.T) {
	raw := buildLegacyDeb(t)

	pkg, body, err := ImportDeb(bytes.NewReader(raw))
	require.NoError(t, err)

	require.Equal(t, "legacy-tool", pkg.Name)
	require.Equal(t, "2.1.0", pkg.Version)
	require.Equal(t, "a legacy tool", pkg.Comment)
	require.Equal(t, "Does legacy things.", pkg.Desc)
	require.Equal(t, "linux:amd64", pkg.ABI)
	require.Equal(t, "legacy-tool~deb-compat:legacy-tool", pkg.UID)
	require.Len(t, pkg.Deps, 2)
	require.Equal(t, "libfoo", pkg.Deps[0].Name)
	require.NotNil(t, pkg.Deps[0].Constraint)
	require.Equal(t, "1.0", pkg.Deps[0].Constraint.Version)
	require.Len(t, pkg.Files, 1)
	require.Equal(t, "usr/bin/legacy-tool", pkg.Files[0].Path)
	require.Equal(t, "binary-content", body["usr/bin/legacy-tool"])

	var postInst string
	for _, s := range pkg.Scripts {
		if s.Kind == manifest.PostInstall {
			postInst = s.Body
		}
	}
	require.Contains(t, postInst, "echo installed")
}

func TestExportDebRoundTrip(t *testing.T) {
	raw := buildLegacyDeb(t)
	pkg, body, err := ImportDeb(bytes.NewReader(raw))
	require.NoError(t, err)

	out, err := ExportDeb(pkg, body)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	reimported, _, err := ImportDeb(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, pkg.Name, reimported.Name)
	require.Equal(t, pkg.Version, reimported.Version)
	require.Equal(t, pkg.Files[0].Path, reimported.Files[0].Path)
}

func TestParseDependClause(t *testing.T) {
	cases := []struct {
		clause   string
		wantName string
		wantOp   string
	}{
		{"libc6", "libc6", ""},
		{"libfoo (>= 1.2.3)", "libfoo", ">="},
		{"libfoo (<< 2.0) | libfoo-compat", "libfoo", "<<"},
	}
	for _, c := range cases {
		d, ok := parseDependClause(c.clause)
		require.True(t, ok)
		require.Equal(t, c.wantName, d.Name)
		if c.wantOp == "" {
			require.Nil(t, d.Constraint)
		} else {
			require.NotNil(t, d.Constraint)
		}
	}
}
