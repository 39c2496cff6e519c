package rcc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgcore/pkgcore/pkg/corectx"
	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkg/manifest"
)

// staticProvider is a fetch.Provider that serves bodies in turn, one per
// call, and reports not-modified once they are used up, enough to drive
// Update without a network.
type staticProvider struct {
	bodies []string
	calls  int
}

func (p *staticProvider) Open(ctx context.Context, url string, ifModifiedSince time.Time) (io.ReadCloser, bool, error) {
	if p.calls >= len(p.bodies) {
		return nil, true, nil
	}
	body := p.bodies[p.calls]
	p.calls++
	return io.NopCloser(strings.NewReader(body)), false, nil
}

type erroringProvider struct{ err error }

func (p *erroringProvider) Open(ctx context.Context, url string, ifModifiedSince time.Time) (io.ReadCloser, bool, error) {
	return nil, false, p.err
}

func newPkg(name, version, origin string) manifest.Package {
	return manifest.Package{
		Name: name, Version: version, Origin: origin,
		Maintainer: "a@b.com", Prefix: "/usr/local", Desc: "d", Comment: "c", WWW: "https://example.com",
		ABI: "freebsd:14:x86:64", UID: name + "~" + origin,
	}
}

func catalogueBody(pkgs ...manifest.Package) string {
	var rows []string
	for _, pkg := range pkgs {
		data, _ := manifest.Emit(&pkg, manifest.Compact)
		rows = append(rows, fmt.Sprintf(`{"manifest":%q,"source_url":"https://example.com/%s.pkg","size":1,"packing_format":"tzst"}`,
			string(data), pkg.UID))
	}
	return fmt.Sprintf(`{"descriptor":{"version":"1","packing_format":"tzst","revision":"1","filename":"catalogue.json"},"rows":[%s]}`,
		strings.Join(rows, ","))
}

func testRepo(name string) corectx.Repository {
	return corectx.Repository{Name: name, BaseURL: "https://example.com/catalogue.json", Enabled: true, Signature: corectx.SignatureNone}
}

func TestUpdateFirstSyncPopulatesRowsAndDescriptor(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	body := catalogueBody(newPkg("foo", "1.0", "ports/foo"))
	var events []event.Event
	err = cat.Update(context.Background(), testRepo("repo1"), &staticProvider{bodies: []string{body}}, func(e fmt.Stringer) {
		if ev, ok := e.(event.Event); ok {
			events = append(events, ev)
		}
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeRepoUpdated, events[0].Type)

	desc, ok, err := cat.CurrentDescriptor()
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, desc.Digest)

	row, ok, err := cat.byName("foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0", row.Version)
}

func TestCurrentDescriptorBeforeSync(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	_, ok, err := cat.CurrentDescriptor()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateResyncSameDigestShortCircuits(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	body := catalogueBody(newPkg("foo", "1.0", "ports/foo"))
	provider := &staticProvider{bodies: []string{body, body}}
	require.NoError(t, cat.Update(context.Background(), testRepo("repo1"), provider, nil))

	var events []event.Event
	err = cat.Update(context.Background(), testRepo("repo1"), provider, func(e fmt.Stringer) {
		if ev, ok := e.(event.Event); ok {
			events = append(events, ev)
		}
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeUpToDate, events[0].Type)
}

func TestUpdateProviderNotModifiedShortCircuits(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	var events []event.Event
	err = cat.Update(context.Background(), testRepo("repo1"), &staticProvider{bodies: nil}, func(e fmt.Stringer) {
		if ev, ok := e.(event.Event); ok {
			events = append(events, ev)
		}
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeUpToDate, events[0].Type)

	_, ok, err := cat.CurrentDescriptor()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateChangedContentSwapsRows(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	first := catalogueBody(newPkg("foo", "1.0", "ports/foo"))
	second := catalogueBody(newPkg("foo", "2.0", "ports/foo"))
	provider := &staticProvider{bodies: []string{first, second}}

	require.NoError(t, cat.Update(context.Background(), testRepo("repo1"), provider, nil))
	require.NoError(t, cat.Update(context.Background(), testRepo("repo1"), provider, nil))

	row, ok, err := cat.byName("foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2.0", row.Version)
}

func TestUpdateRejectsDisabledRepo(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	repo := testRepo("repo1")
	repo.Enabled = false
	err = cat.Update(context.Background(), repo, &staticProvider{}, nil)
	require.Error(t, err)
}

func TestUpdateDigestMismatchIsCorrupt(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	body := `{"descriptor":{"version":"1","packing_format":"tzst","revision":"1","digest":"deadbeef","filename":"catalogue.json"},"rows":[]}`
	err = cat.Update(context.Background(), testRepo("repo1"), &staticProvider{bodies: []string{body}}, nil)
	require.Error(t, err)
}

func TestUpdateFetchErrorPropagates(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	err = cat.Update(context.Background(), testRepo("repo1"), &erroringProvider{err: fmt.Errorf("boom")}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestUpdateRequiresConfiguredKeyForPubkeyMode(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	repo := testRepo("repo1")
	repo.Signature = corectx.SignaturePubkey
	body := catalogueBody(newPkg("foo", "1.0", "ports/foo"))
	err = cat.Update(context.Background(), repo, &staticProvider{bodies: []string{body}}, nil)
	require.Error(t, err)
}

func TestSetByNameByOriginByUIDAcrossRepos(t *testing.T) {
	cat1, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat1.Close()
	cat2, err := Open(t.TempDir(), "repo2")
	require.NoError(t, err)
	defer cat2.Close()

	require.NoError(t, cat1.Update(context.Background(), testRepo("repo1"),
		&staticProvider{bodies: []string{catalogueBody(newPkg("foo", "1.0", "ports/foo"))}}, nil))
	require.NoError(t, cat2.Update(context.Background(), testRepo("repo2"),
		&staticProvider{bodies: []string{catalogueBody(newPkg("bar", "1.0", "ports/bar"))}}, nil))

	set := NewSet(cat1, cat2)

	row, ok, err := set.ByName("bar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bar", row.Name)

	row, ok, err = set.ByOrigin("ports/foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "foo", row.Name)

	row, ok, err = set.ByUID("bar~ports/bar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bar", row.Name)

	_, ok, err = set.ByName("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, set.Close())
}

func TestCatalogueAllListsEveryRow(t *testing.T) {
	cat, err := Open(t.TempDir(), "repo1")
	require.NoError(t, err)
	defer cat.Close()

	body := catalogueBody(newPkg("foo", "1.0", "ports/foo"), newPkg("bar", "1.0", "ports/bar"))
	require.NoError(t, cat.Update(context.Background(), testRepo("repo1"), &staticProvider{bodies: []string{body}}, nil))

	rows, err := cat.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestParseDescriptorRequiresDigestAndFilename(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"version":"1"}`))
	require.Error(t, err)

	d, err := ParseDescriptor([]byte(`{"version":"1","digest":"abc","filename":"x.json"}`))
	require.NoError(t, err)
	require.Equal(t, "abc", d.Digest)
}

func TestParseDescriptorInvalidJSON(t *testing.T) {
	_, err := ParseDescriptor([]byte(`not json`))
	require.Error(t, err)
}
