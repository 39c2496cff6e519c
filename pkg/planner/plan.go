package planner

import (
	"fmt"
	"sort"

	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkg/lpdb"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkg/rcc"
	"github.com/pkgcore/pkgcore/pkg/version"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// Planner resolves Requests against an LPDB (for installed state and
// reverse dependencies) and an RCC Set (for available versions) into a
// Plan.
type Planner struct {
	DB    *lpdb.DB
	RCC   *rcc.Set
	Opts  Options
	Emit  event.Listener // optional; receives VITAL warnings per spec §4.8
}

// New constructs a Planner.
func New(db *lpdb.DB, catalogue *rcc.Set, opts Options, emit event.Listener) *Planner {
	return &Planner{DB: db, RCC: catalogue, Opts: opts, Emit: emit}
}

// node is one resolved planner decision before ordering.
type node struct {
	kind      StepKind
	uid       string
	pkg       *manifest.Package // new/target, nil for pure DEINSTALL
	old       *manifest.Package // replaced, set for UPGRADE/DOWNGRADE/REINSTALL/DEINSTALL
	reason    string
	fetch     string // source URL, set when this node also needs a FETCH
	automatic bool   // package is installed only to satisfy another's dependency
}

// Plan resolves requests into an ordered Plan, per spec §4.8.
func (p *Planner) Plan(requests []Request) (Plan, error) {
	nodes := make(map[string]*node)
	var order []string // insertion order, for deterministic resolution

	addNode := func(n *node) error {
		if existing, ok := nodes[n.uid]; ok {
			if existing.kind != n.kind {
				return pkgerr.New(pkgerr.Conflict, fmt.Sprintf("planner: conflicting actions requested for %s", n.uid), nil)
			}
			return nil
		}
		nodes[n.uid] = n
		order = append(order, n.uid)
		return nil
	}

	for _, req := range requests {
		switch req.Kind {
		case RequestAdd:
			if err := p.resolveAdd(req.Match, "requested", nodes, &order, addNode); err != nil {
				return nil, err
			}
		case RequestUpgrade:
			if err := p.resolveUpgrade(req.Match, nodes, &order, addNode); err != nil {
				return nil, err
			}
		case RequestRemove:
			if err := p.resolveRemove(req.Match, "requested", nodes, &order, addNode); err != nil {
				return nil, err
			}
		}
	}

	// locked packages: any attempt to modify one is an error regardless of
	// force (spec §4.8: "contributes a LOCKED error for any attempt to
	// modify it").
	for _, uid := range order {
		n := nodes[uid]
		locked := false
		if n.old != nil && n.old.Locked {
			locked = true
		}
		if n.kind != StepDeinstall && n.pkg != nil && n.pkg.Locked {
			locked = true
		}
		if locked {
			return nil, pkgerr.New(pkgerr.Locked, fmt.Sprintf("planner: %s is locked", uid), nil)
		}
		if n.kind == StepDeinstall && n.old != nil && n.old.Vital {
			if p.Emit != nil {
				p.Emit(event.Vital(n.old.Name))
			}
		}
	}

	if err := p.checkFileCollisions(order, nodes); err != nil {
		return nil, err
	}

	g := newGraph()
	for _, uid := range order {
		g.addNode(uid)
	}
	for _, uid := range order {
		n := nodes[uid]
		switch n.kind {
		case StepInstall, StepUpgrade, StepDowngrade, StepReinstall:
			if n.pkg == nil {
				continue
			}
			for _, dep := range n.pkg.Deps {
				if depUID, ok := p.dependencyUID(dep, nodes); ok {
					g.addEdge(uid, depUID) // rule 1: deps before dependent
				}
			}
		case StepDeinstall:
			if n.old == nil {
				continue
			}
			// ReverseDeps returns the uids of installed packages that
			// depend on n.old.Name directly, so the result can be matched
			// against planner node uids without a further name lookup.
			revUIDs, err := p.DB.ReverseDeps(n.old.Name)
			if err != nil {
				return nil, err
			}
			for _, revUID := range revUIDs {
				if on, ok := nodes[revUID]; ok && on.kind == StepDeinstall {
					g.addEdge(uid, revUID) // rule 2: dependent DEINSTALLs before this one
				}
			}
		}
	}

	steps, err := p.schedule(g, nodes)
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// checkFileCollisions applies spec §4.7's planner-side file-path collision
// check: a path claimed by two different packages within this plan, or by a
// package this plan installs and an already-installed package this plan
// does not also replace or remove, is a CONFLICT. PERMISSIVE=true downgrades
// the abort to a CONFLICT event and lets planning continue, leaving the
// LPDB insert's own ownership check (pkg/lpdb/mutators.go) as the final
// backstop once the plan executes.
func (p *Planner) checkFileCollisions(order []string, nodes map[string]*node) error {
	claimed := make(map[string]string) // path -> uid claiming it earlier in this plan
	for _, uid := range order {
		n := nodes[uid]
		if n.pkg == nil {
			continue
		}
		for _, f := range n.pkg.Files {
			if f.Type == manifest.TypeDirectory || lpdb.IsConfigFile(f) {
				continue
			}
			if other, ok := claimed[f.Path]; ok && other != uid {
				if err := p.reportCollision(f.Path, uid, other); err != nil {
					return err
				}
				continue
			}
			claimed[f.Path] = uid

			owner, err := p.DB.OwnerOfPath(f.Path)
			if err != nil {
				return err
			}
			if owner == nil || owner.UID == uid {
				continue
			}
			if n.old != nil && owner.UID == n.old.UID {
				continue // this node replaces the owner in place
			}
			if on, ok := nodes[owner.UID]; ok && on.kind == StepDeinstall {
				continue // the owner is removed by this same plan
			}
			if err := p.reportCollision(f.Path, uid, owner.UID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Planner) reportCollision(path, uidA, uidB string) error {
	if p.Emit != nil {
		p.Emit(event.Conflict(path, uidA, uidB))
	}
	if p.Opts.Permissive {
		return nil
	}
	return pkgerr.New(pkgerr.Conflict, fmt.Sprintf("planner: %s claimed by both %s and %s", path, uidA, uidB), nil)
}

func (p *Planner) dependencyUID(dep manifest.Dependency, nodes map[string]*node) (string, bool) {
	for uid, n := range nodes {
		target := n.pkg
		if target == nil {
			continue
		}
		if target.Name == dep.Name && (dep.Origin == "" || target.Origin == dep.Origin) {
			return uid, true
		}
	}
	return "", false
}

func (p *Planner) resolveAdd(match, reason string, nodes map[string]*node, order *[]string, addNode func(*node) error) error {
	row, ok, err := p.RCC.ByName(match)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("planner: %s not found in any repository", match), nil)
	}
	pkgCopy := row.Package

	installed, err := p.DB.ByOrigin(pkgCopy.Origin)
	if err != nil {
		return err
	}
	kind := StepInstall
	var old *manifest.Package
	if installed != nil {
		cmp := version.Compare(pkgCopy.Version, installed.Version)
		switch {
		case cmp == 0 && !p.Opts.Force:
			return nil // already installed at this version, nothing to do
		case cmp == 0:
			kind, old = StepReinstall, installed
		case cmp > 0:
			kind, old = StepUpgrade, installed
		case p.Opts.AllowDowngrade:
			kind, old = StepDowngrade, installed
		default:
			return nil // older candidate, downgrade not allowed: no-op
		}
	}

	// spec §3's automatic flag: true for any package pulled in only to
	// satisfy a dependency, or when --automatic forces it onto an explicit
	// request too; an already-automatic installed package stays automatic
	// across a reinstall/upgrade even if neither condition holds this time.
	automatic := reason != "requested" || p.Opts.Automatic
	if old != nil && old.Automatic {
		automatic = true
	}

	n := &node{kind: kind, uid: pkgCopy.UID, pkg: &pkgCopy, old: old, reason: reason, fetch: row.SourceURL, automatic: automatic}
	if err := addNode(n); err != nil {
		return err
	}

	if p.Opts.Recursive || reason == "requested" {
		for _, dep := range pkgCopy.Deps {
			if dep.Origin != "" {
				if existing, err := p.DB.ByOrigin(dep.Origin); err == nil && existing != nil {
					continue
				}
			}
			if err := p.resolveAdd(dep.Name, fmt.Sprintf("required by %s", pkgCopy.Name), nodes, order, addNode); err != nil {
				if !p.Opts.Permissive {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Planner) resolveUpgrade(match string, nodes map[string]*node, order *[]string, addNode func(*node) error) error {
	installed, err := p.DB.ByOrigin(match)
	if err != nil {
		return err
	}
	if installed == nil {
		pkgs, err := p.DB.ByName(match)
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("planner: %s is not installed", match), nil)
		}
		installed = pkgs[0]
	}
	return p.resolveAdd(installed.Origin, "requested", nodes, order, addNode)
}

func (p *Planner) resolveRemove(match string, reason string, nodes map[string]*node, order *[]string, addNode func(*node) error) error {
	pkgs, err := p.DB.ByName(match)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		installedOrigin, err := p.DB.ByOrigin(match)
		if err != nil {
			return err
		}
		if installedOrigin == nil {
			return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("planner: %s is not installed", match), nil)
		}
		pkgs = []*manifest.Package{installedOrigin}
	}
	target := pkgs[0]

	revUIDs, err := p.DB.ReverseDeps(target.Name)
	if err != nil {
		return err
	}
	if len(revUIDs) > 0 && !p.Opts.Force && !p.Opts.Recursive {
		return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("planner: %s is required by %v", target.Name, revUIDs), nil)
	}
	if p.Opts.Recursive {
		for _, revUID := range revUIDs {
			revPkg, err := p.DB.ByUID(revUID)
			if err != nil {
				return err
			}
			if revPkg == nil {
				continue
			}
			if err := p.resolveRemove(revPkg.Name, fmt.Sprintf("depends on %s", target.Name), nodes, order, addNode); err != nil && !p.Opts.Permissive {
				return err
			}
		}
	}

	n := &node{kind: StepDeinstall, uid: target.UID, old: target, reason: reason}
	return addNode(n)
}

// schedule turns the resolved nodes and their "before" graph into the final
// ordered Plan: cycle breaking, topological ordering, the tie-break rule of
// §4.8 rule 3, and batching FETCH steps first per rule 4.
func (p *Planner) schedule(g *graph, nodes map[string]*node) (Plan, error) {
	entries, err := p.breakCycles(g, nodes)
	if err != nil {
		return nil, err
	}

	var fetches, rest []Step
	for _, e := range entries {
		n := nodes[e.uid]
		if e.asDeinstall {
			rest = append(rest, Step{Kind: StepDeinstall, UID: n.uid, OldPkg: n.old, Reason: "breaking upgrade cycle"})
			continue
		}
		if n.fetch != "" {
			fetches = append(fetches, Step{Kind: StepFetch, UID: n.uid, Pkg: n.pkg, SourceURL: n.fetch, Reason: n.reason, Automatic: n.automatic})
		}
		rest = append(rest, Step{Kind: n.kind, UID: n.uid, Pkg: n.pkg, OldPkg: n.old, Reason: n.reason, Automatic: n.automatic})
	}

	sort.SliceStable(fetches, func(i, j int) bool { return fetches[i].UID < fetches[j].UID })

	plan := make(Plan, 0, len(fetches)+len(rest))
	plan = append(plan, fetches...)
	plan = append(plan, rest...)
	return plan, nil
}

// orderedEntry is one step's position in the final schedule, produced by
// breakCycles. asDeinstall marks the "break" half of a broken upgrade
// cycle: the same uid appears twice in that case, once as the forced
// DEINSTALL and once (later) as its original kind.
type orderedEntry struct {
	uid         string
	asDeinstall bool
}

// breakCycles identifies strongly connected components in g. A component of
// size 1 is not a cycle. A component of size > 1 where every member is an
// UPGRADE or REINSTALL is broken per spec §4.8: all members are scheduled
// for DEINSTALL first (in uid order, since at that point only their removal
// matters), then reinstalled in the component's internal topological order
// — computed by running topoOrder over the subgraph restricted to the
// component's own edges, which is what makes that order well defined once
// the cross-component edges (already satisfied by the deinstall batch) are
// set aside. A component containing an INSTALL (a new package with no
// existing on-disk row to break the cycle by removing first) cannot be
// broken and is a PLAN_FATAL error.
func (p *Planner) breakCycles(g *graph, nodes map[string]*node) ([]orderedEntry, error) {
	sccs := g.tarjanSCCs()

	// Build a condensed graph: one node per non-trivial SCC (its uids
	// joined), trivial SCCs keep their own uid. Edges follow the original
	// graph's edges translated onto component representatives.
	compOf := make(map[string]string) // uid -> representative
	members := make(map[string][]string)
	for _, comp := range sccs {
		rep := comp[0]
		for _, u := range comp {
			compOf[u] = rep
		}
		members[rep] = comp
	}

	cg := newGraph()
	for rep := range members {
		cg.addNode(rep)
	}
	for uid, deps := range g.edges {
		from := compOf[uid]
		for _, dep := range deps {
			to := compOf[dep]
			if from != to {
				cg.addEdge(from, to)
			}
		}
	}

	priority := func(uid string) int { return nodes[uid].kind.priority() }

	var final, reinstalls []orderedEntry
	for _, rep := range cg.topoOrderByPriority(priority) {
		comp := members[rep]
		if len(comp) == 1 {
			final = append(final, orderedEntry{uid: comp[0]})
			continue
		}

		allBreakable := true
		for _, uid := range comp {
			if k := nodes[uid].kind; k != StepUpgrade && k != StepReinstall {
				allBreakable = false
				break
			}
		}
		if !allBreakable {
			return nil, pkgerr.New(pkgerr.Cycle, fmt.Sprintf("planner: unbreakable dependency cycle among %v", comp), nil)
		}

		sort.Strings(comp)
		// deinstall batch, uid order: remove every member first so the
		// cycle's edges are all satisfied trivially.
		for _, u := range comp {
			final = append(final, orderedEntry{uid: u, asDeinstall: true})
		}

		// reinstall batch: internal topological order using only the
		// component's own edges, scheduled after all non-SCC upgrades per
		// spec §4.8 ("scheduling a break step... reinstalled in
		// SCC-internal topological order after all non-SCC upgrades").
		inner := newGraph()
		compSet := make(map[string]bool, len(comp))
		for _, u := range comp {
			compSet[u] = true
			inner.addNode(u)
		}
		for _, u := range comp {
			for _, dep := range g.edges[u] {
				if compSet[dep] {
					inner.addEdge(u, dep)
				}
			}
		}
		for _, u := range inner.topoOrderByPriority(priority) {
			reinstalls = append(reinstalls, orderedEntry{uid: u})
		}
	}
	return append(final, reinstalls...), nil
}
