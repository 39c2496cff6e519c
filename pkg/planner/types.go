// Package planner implements the Job Planner of spec §4.8: it turns a set
// of add/remove/upgrade requests into an ordered, deterministic plan of
// FETCH/INSTALL/REINSTALL/UPGRADE/DOWNGRADE/DEINSTALL steps, resolving
// dependencies against the Remote Catalogue Cache and reverse-dependencies
// against the Local Package Database.
//
// There is no teacher analogue for this component (the teacher builds a
// repository, it never resolves or orders a transaction against one), so
// its graph algorithms are grounded on the one topological-sort the teacher
// does carry — sortLocals in manifest/template.go, a DFS with
// visited/visiting cycle detection over a template-variable dependency
// graph — generalized from "detect and fail on cycle" to "detect, then
// where a cycle is an upgrade cycle, break it" per spec §4.8.
package planner

import "github.com/pkgcore/pkgcore/pkg/manifest"

// StepKind names a job step per spec §4.8.
type StepKind string

const (
	StepFetch      StepKind = "FETCH"
	StepInstall    StepKind = "INSTALL"
	StepReinstall  StepKind = "REINSTALL"
	StepUpgrade    StepKind = "UPGRADE"
	StepDowngrade  StepKind = "DOWNGRADE"
	StepDeinstall  StepKind = "DEINSTALL"
)

// priority orders steps within a tie per spec §4.8 rule 3: "DEINSTALL <
// DOWNGRADE < UPGRADE < REINSTALL < INSTALL". FETCH sorts before all of
// them since rule 4 batches fetches first.
func (k StepKind) priority() int {
	switch k {
	case StepFetch:
		return 0
	case StepDeinstall:
		return 1
	case StepDowngrade:
		return 2
	case StepUpgrade:
		return 3
	case StepReinstall:
		return 4
	case StepInstall:
		return 5
	default:
		return 99
	}
}

// Step is one entry of a Plan.
type Step struct {
	Kind      StepKind
	UID       string // the package uid this step concerns (new uid for INSTALL/UPGRADE, old uid for DEINSTALL)
	Pkg       *manifest.Package // target package, nil for a pure DEINSTALL
	OldPkg    *manifest.Package // replaced package, set for UPGRADE/DOWNGRADE/REINSTALL-in-place and DEINSTALL
	SourceURL string            // set for FETCH
	Reason    string
	Automatic bool // this package is installed only to satisfy another's dependency (spec §3's automatic flag)
}

// Plan is the ordered step list the planner produces.
type Plan []Step

// RequestKind is the kind of one planner input request (spec §4.8: "set of
// requests (add/remove/upgrade with a match expression)").
type RequestKind int

const (
	RequestAdd RequestKind = iota
	RequestRemove
	RequestUpgrade
)

// Request is one planner input: a requested operation against a match
// expression. This implementation resolves Match as an exact package or
// origin name; richer glob/regex match expressions are a CLI-layer concern
// (spec §1 scopes "match expression syntax" to the CLI, not the core).
type Request struct {
	Kind  RequestKind
	Match string
}

// Options carries the configuration flags spec §4.8 lists as planner
// inputs.
type Options struct {
	Force          bool
	Recursive      bool
	DryRun         bool
	AllowDowngrade bool
	Permissive     bool
	Automatic      bool
}
