package planner

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
	"github.com/pkgcore/pkgcore/pkg/lpdb"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkg/rcc"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// staticProvider is a fetch.Provider that always serves body once, then
// reports NotModified on every later call — enough to drive rcc.Catalogue's
// one-shot Update without a network.
type staticProvider struct {
	body   string
	served bool
}

func (p *staticProvider) Open(ctx context.Context, url string, ifModifiedSince time.Time) (io.ReadCloser, bool, error) {
	if p.served {
		return nil, true, nil
	}
	p.served = true
	return io.NopCloser(strings.NewReader(p.body)), false, nil
}

func newPkg(name, version, origin string, deps ...manifest.Dependency) manifest.Package {
	return manifest.Package{
		Name: name, Version: version, Origin: origin,
		Maintainer: "test@example.com", Prefix: "/usr/local", Desc: "d", Comment: "c", WWW: "https://example.com",
		ABI: "freebsd:14:x86:64", UID: name + "~" + origin, Deps: deps,
	}
}

// seedCatalogue builds an rcc.Catalogue under a fresh tmp dir and populates
// it with pkgs via the same Update path a real mirror sync uses, wrapping
// each package as its own fetchable source URL.
func seedCatalogue(t *testing.T, name string, pkgs []manifest.Package) *rcc.Catalogue {
	t.Helper()
	cat, err := rcc.Open(t.TempDir(), name)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	var rows []string
	for _, pkg := range pkgs {
		data, err := manifest.Emit(&pkg, manifest.Compact)
		require.NoError(t, err)
		rows = append(rows, fmt.Sprintf(`{"manifest":%q,"source_url":"https://example.com/%s.pkg","size":1,"packing_format":"tzst"}`,
			string(data), pkg.UID))
	}
	body := fmt.Sprintf(`{"descriptor":{"version":"1","packing_format":"tzst","revision":"1","filename":"catalogue.json"},"rows":[%s]}`,
		strings.Join(rows, ","))

	repo := corectx.Repository{Name: name, BaseURL: "https://example.com/catalogue.json", Enabled: true, Signature: corectx.SignatureNone}
	err = cat.Update(context.Background(), repo, &staticProvider{body: body}, nil)
	require.NoError(t, err)
	return cat
}

func newTestDB(t *testing.T) *lpdb.DB {
	t.Helper()
	db, err := lpdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Locker.Acquire(lpdb.Exclusive, time.Second))
	return db
}

func TestPlanInstallSimple(t *testing.T) {
	db := newTestDB(t)
	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "1.0", "ports/foo")})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, StepInstall, plan[0].Kind)
	require.Equal(t, "foo~ports/foo", plan[0].UID)
}

func TestPlanInstallNotFound(t *testing.T) {
	db := newTestDB(t)
	cat := seedCatalogue(t, "repo1", nil)
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	_, err := p.Plan([]Request{{Kind: RequestAdd, Match: "missing"}})
	require.Error(t, err)
	require.Equal(t, pkgerr.DepUnsat, pkgerr.KindOf(err))
}

func TestPlanInstallWithDependency(t *testing.T) {
	db := newTestDB(t)
	dep := manifest.Dependency{Name: "libbar", Origin: "ports/libbar"}
	cat := seedCatalogue(t, "repo1", []manifest.Package{
		newPkg("foo", "1.0", "ports/foo", dep),
		newPkg("libbar", "2.0", "ports/libbar"),
	})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	// rule 1: deps before dependent.
	pos := make(map[string]int, len(plan))
	for i, s := range plan {
		pos[s.UID] = i
	}
	require.Less(t, pos["libbar~ports/libbar"], pos["foo~ports/foo"])
}

func TestPlanInstallAlreadyInstalledSameVersionNoop(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("foo", "1.0", "ports/foo")
	require.NoError(t, db.Register(&installed))

	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "1.0", "ports/foo")})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Empty(t, plan)
}

func TestPlanUpgrade(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("foo", "1.0", "ports/foo")
	require.NoError(t, db.Register(&installed))

	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "2.0", "ports/foo")})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, StepUpgrade, plan[0].Kind)
	require.Equal(t, "1.0", plan[0].OldPkg.Version)
	require.Equal(t, "2.0", plan[0].Pkg.Version)
}

func TestPlanDowngradeRequiresAllowDowngrade(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("foo", "2.0", "ports/foo")
	require.NoError(t, db.Register(&installed))

	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "1.0", "ports/foo")})

	p := New(db, rcc.NewSet(cat), Options{}, nil)
	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Empty(t, plan, "downgrade without AllowDowngrade should be a no-op")

	p2 := New(db, rcc.NewSet(cat), Options{AllowDowngrade: true}, nil)
	plan2, err := p2.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan2, 1)
	require.Equal(t, StepDowngrade, plan2[0].Kind)
}

func TestPlanRemoveBlockedByReverseDep(t *testing.T) {
	db := newTestDB(t)
	libbar := newPkg("libbar", "1.0", "ports/libbar")
	foo := newPkg("foo", "1.0", "ports/foo", manifest.Dependency{Name: "libbar", Origin: "ports/libbar"})
	require.NoError(t, db.Register(&libbar))
	require.NoError(t, db.Register(&foo))

	p := New(db, rcc.NewSet(), Options{}, nil)
	_, err := p.Plan([]Request{{Kind: RequestRemove, Match: "libbar"}})
	require.Error(t, err)
	require.Equal(t, pkgerr.DepUnsat, pkgerr.KindOf(err))
}

func TestPlanRemoveForced(t *testing.T) {
	db := newTestDB(t)
	libbar := newPkg("libbar", "1.0", "ports/libbar")
	foo := newPkg("foo", "1.0", "ports/foo", manifest.Dependency{Name: "libbar", Origin: "ports/libbar"})
	require.NoError(t, db.Register(&libbar))
	require.NoError(t, db.Register(&foo))

	p := New(db, rcc.NewSet(), Options{Force: true}, nil)
	plan, err := p.Plan([]Request{{Kind: RequestRemove, Match: "libbar"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, StepDeinstall, plan[0].Kind)
}

func TestPlanLockedPackageRejected(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("foo", "1.0", "ports/foo")
	installed.Locked = true
	require.NoError(t, db.Register(&installed))

	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "2.0", "ports/foo")})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	_, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.Error(t, err)
	require.Equal(t, pkgerr.Locked, pkgerr.KindOf(err))
}

func TestPlanDependencyInstallIsMarkedAutomatic(t *testing.T) {
	db := newTestDB(t)
	dep := manifest.Dependency{Name: "libbar", Origin: "ports/libbar"}
	cat := seedCatalogue(t, "repo1", []manifest.Package{
		newPkg("foo", "1.0", "ports/foo", dep),
		newPkg("libbar", "2.0", "ports/libbar"),
	})
	p := New(db, rcc.NewSet(cat), Options{}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)

	byUID := make(map[string]Step, len(plan))
	for _, s := range plan {
		byUID[s.UID] = s
	}
	require.False(t, byUID["foo~ports/foo"].Automatic)
	require.True(t, byUID["libbar~ports/libbar"].Automatic)
}

func TestPlanAutomaticFlagMarksExplicitRequestToo(t *testing.T) {
	db := newTestDB(t)
	cat := seedCatalogue(t, "repo1", []manifest.Package{newPkg("foo", "1.0", "ports/foo")})
	p := New(db, rcc.NewSet(cat), Options{Automatic: true}, nil)

	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.True(t, plan[0].Automatic)
}

func TestPlanDetectsFileCollisionWithInstalledPackage(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("bar", "1.0", "ports/bar")
	installed.Files = []manifest.FileEntry{{Path: "bin/shared", Type: manifest.TypeRegular}}
	require.NoError(t, db.Register(&installed))

	foo := newPkg("foo", "1.0", "ports/foo")
	foo.Files = []manifest.FileEntry{{Path: "bin/shared", Type: manifest.TypeRegular}}
	cat := seedCatalogue(t, "repo1", []manifest.Package{foo})

	p := New(db, rcc.NewSet(cat), Options{}, nil)
	_, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.Error(t, err)
	require.Equal(t, pkgerr.Conflict, pkgerr.KindOf(err))
}

func TestPlanPermissiveCollisionEmitsConflictAndContinues(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("bar", "1.0", "ports/bar")
	installed.Files = []manifest.FileEntry{{Path: "bin/shared", Type: manifest.TypeRegular}}
	require.NoError(t, db.Register(&installed))

	foo := newPkg("foo", "1.0", "ports/foo")
	foo.Files = []manifest.FileEntry{{Path: "bin/shared", Type: manifest.TypeRegular}}
	cat := seedCatalogue(t, "repo1", []manifest.Package{foo})

	var events []event.Event
	p := New(db, rcc.NewSet(cat), Options{Permissive: true}, func(e fmt.Stringer) {
		if ev, ok := e.(event.Event); ok {
			events = append(events, ev)
		}
	})
	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.NotEmpty(t, events)
	require.Equal(t, event.TypeConflict, events[0].Type)
}

func TestPlanConfigFilesExemptFromCollisionCheck(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("bar", "1.0", "ports/bar")
	installed.Files = []manifest.FileEntry{{Path: "etc/shared.conf", Type: manifest.TypeRegular}}
	require.NoError(t, db.Register(&installed))

	foo := newPkg("foo", "1.0", "ports/foo")
	foo.Files = []manifest.FileEntry{{Path: "etc/shared.conf", Type: manifest.TypeRegular}}
	cat := seedCatalogue(t, "repo1", []manifest.Package{foo})

	p := New(db, rcc.NewSet(cat), Options{}, nil)
	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
}

func TestPlanUpgradeDoesNotCollideWithItsOwnOldRow(t *testing.T) {
	db := newTestDB(t)
	installed := newPkg("foo", "1.0", "ports/foo")
	installed.Files = []manifest.FileEntry{{Path: "bin/foo", Type: manifest.TypeRegular}}
	require.NoError(t, db.Register(&installed))

	foo := newPkg("foo", "2.0", "ports/foo")
	foo.Files = []manifest.FileEntry{{Path: "bin/foo", Type: manifest.TypeRegular}}
	cat := seedCatalogue(t, "repo1", []manifest.Package{foo})

	p := New(db, rcc.NewSet(cat), Options{}, nil)
	plan, err := p.Plan([]Request{{Kind: RequestAdd, Match: "foo"}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, StepUpgrade, plan[0].Kind)
}
