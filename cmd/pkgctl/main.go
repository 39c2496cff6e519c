// Command pkgctl is the reference CLI over the core: it wires
// internal/config, pkg/lpdb, pkg/rcc, pkg/planner and pkg/exec together
// behind a cobra subcommand tree, confirming destructive plans with the
// user before executing them.
//
// Grounded on cmd/deb-pm/main.go's subcommand-switch shape in the teacher
// repository, re-expressed with github.com/spf13/cobra (already a direct
// teacher dependency via its go.mod, unused by the single-flat-FlagSet
// deb-pm binary itself) to give the richer multi-verb surface spec §6/§7
// require instead of the teacher's flat flag.FlagSet.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkgcore/pkgcore/internal/config"
	"github.com/pkgcore/pkgcore/pkg/compat"
	"github.com/pkgcore/pkgcore/pkg/corectx"
	execpkg "github.com/pkgcore/pkgcore/pkg/exec"
	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkg/fetch"
	"github.com/pkgcore/pkgcore/pkg/lpdb"
	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkg/planner"
	"github.com/pkgcore/pkgcore/pkg/rcc"
	"github.com/pkgcore/pkgcore/pkgerr"
)

var (
	cfgFile   string
	assumeYes bool
)

func main() {
	root := &cobra.Command{
		Use:           "pkgctl",
		Short:         "install, upgrade and remove packages from a local system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "assume yes to all confirmation prompts")

	root.AddCommand(
		newInstallCmd(),
		newUpgradeCmd(),
		newRemoveCmd(),
		newUpdateCmd(),
		newQueryCmd(),
		newLockCmd(),
		newUnlockCmd(),
		newAutoremoveCmd(),
		newExportCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pkgctl:", err)
		os.Exit(pkgerr.ExitCode(err))
	}
}

// env bundles every handle a subcommand needs, opened once per invocation.
type env struct {
	cfg    config.Config
	ctx    *corectx.Context
	db     *lpdb.DB
	set    *rcc.Set
	journal *execpkg.Journal
}

func openEnv() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cctx, err := corectx.Init(cfg, nil, func(s fmt.Stringer) { fmt.Println(s.String()) })
	if err != nil {
		return nil, err
	}

	db, err := lpdb.Open(cfg.DBDir)
	if err != nil {
		return nil, err
	}

	var catalogues []*rcc.Catalogue
	for _, r := range cctx.Repos {
		if !r.Enabled {
			continue
		}
		c, err := rcc.Open(cfg.DBDir, r.Name)
		if err != nil {
			return nil, err
		}
		catalogues = append(catalogues, c)
	}

	journal, err := execpkg.OpenJournal(cfg.DBDir)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, ctx: cctx, db: db, set: rcc.NewSet(catalogues...), journal: journal}, nil
}

func (e *env) Close() {
	e.journal.Close()
	e.set.Close()
	e.db.Close()
	e.ctx.Shutdown()
}

// run acquires the EXCLUSIVE lock, resumes any half-finished transaction
// left by a previous crash, plans requests, confirms with the user unless
// --yes was given, and executes — spec §4.9's full lifecycle in one
// sequence, grounded directly on spec §4.9's ordering since no teacher
// command runs anything comparable to a transaction against a live system.
func (e *env) run(opts planner.Options, requests []planner.Request) error {
	if err := e.db.Locker.Acquire(lpdb.Exclusive, 30*time.Second); err != nil {
		return err
	}
	defer e.db.Locker.Release()

	exec := execpkg.New(e.db, e.journal, e.cfg.CacheDir, 60*time.Second, fetch.NewHTTPProvider(), e.ctx.Emit)
	if err := exec.Resume(); err != nil {
		return err
	}

	p := planner.New(e.db, e.set, opts, e.ctx.Emit)
	plan, err := p.Plan(requests)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Println("Nothing to do.")
		return nil
	}

	printPlan(plan)
	if opts.DryRun {
		return nil
	}
	if !assumeYes && !confirm("Proceed with this plan?", false) {
		return pkgerr.New(pkgerr.Cancelled, "user declined plan", nil)
	}

	if err := exec.Run(context.Background(), plan); err != nil {
		return err
	}

	if e.cfg.AutoClean {
		keep := make(map[string]bool, len(plan))
		for _, step := range plan {
			keep[step.UID] = true
		}
		if err := rcc.CleanCache(exec.CacheDir, keep); err != nil {
			return err
		}
	}
	return nil
}

func printPlan(plan planner.Plan) {
	fmt.Println("The following changes will be made:")
	for _, step := range plan {
		name := step.Reason
		if step.Pkg != nil {
			name = fmt.Sprintf("%s-%s", step.Pkg.Name, step.Pkg.Version)
		} else if step.OldPkg != nil {
			name = fmt.Sprintf("%s-%s", step.OldPkg.Name, step.OldPkg.Version)
		}
		fmt.Printf("  %-10s %s\n", step.Kind, name)
	}
}

// confirm prompts the user with a y/N (or Y/n) question, grounded on
// pkgng's query_yesno convention of defaulting the capital letter in the
// prompt to whichever answer def selects.
func confirm(prompt string, def bool) bool {
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s ", prompt, suffix)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return def
	}
	return line == "y" || line == "yes"
}

func requestsFromArgs(kind planner.RequestKind, args []string) []planner.Request {
	reqs := make([]planner.Request, 0, len(args))
	for _, a := range args {
		reqs = append(reqs, planner.Request{Kind: kind, Match: a})
	}
	return reqs
}

func optionsFromFlags(cmd *cobra.Command) planner.Options {
	force, _ := cmd.Flags().GetBool("force")
	recursive, _ := cmd.Flags().GetBool("recursive")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	allowDowngrade, _ := cmd.Flags().GetBool("allow-downgrade")
	permissive, _ := cmd.Flags().GetBool("permissive")
	automatic, _ := cmd.Flags().GetBool("automatic")
	return planner.Options{
		Force: force, Recursive: recursive, DryRun: dryRun,
		AllowDowngrade: allowDowngrade, Permissive: permissive, Automatic: automatic,
	}
}

func addPlannerFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("force", false, "reinstall/act even if already satisfied")
	cmd.Flags().Bool("recursive", false, "apply recursively to dependencies/dependents")
	cmd.Flags().Bool("dry-run", false, "print the plan without executing it")
	cmd.Flags().Bool("allow-downgrade", false, "allow installing an older version than what's present")
	cmd.Flags().Bool("permissive", false, "continue past individually failed dependencies")
	cmd.Flags().Bool("automatic", false, "mark newly installed packages as automatic")
}

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <package-or-path>...",
		Short: "install or reinstall one or more cataloged packages, or import a local .deb archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			var cataloged []string
			for _, a := range args {
				if strings.HasSuffix(a, ".deb") {
					if err := e.importLocalDeb(a); err != nil {
						return err
					}
					continue
				}
				cataloged = append(cataloged, a)
			}
			if len(cataloged) == 0 {
				return nil
			}
			return e.run(optionsFromFlags(cmd), requestsFromArgs(planner.RequestAdd, cataloged))
		},
	}
	addPlannerFlags(cmd)
	return cmd
}

// importLocalDeb registers a legacy .deb archive directly into the local
// database via pkg/compat.ImportDeb. A local archive has no catalogue
// source URL to FETCH and no planner node to resolve, so it bypasses both
// and goes straight to staging its files under its own prefix and
// registering the converted manifest.
func (e *env) importLocalDeb(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return pkgerr.New(pkgerr.IO, fmt.Sprintf("install: opening %s", path), err)
	}
	defer f.Close()

	pkg, body, err := compat.ImportDeb(f)
	if err != nil {
		return fmt.Errorf("install: importing %s: %w", path, err)
	}

	if err := e.db.Locker.Acquire(lpdb.Exclusive, 30*time.Second); err != nil {
		return err
	}
	defer e.db.Locker.Release()

	if existing, err := e.db.ByOrigin(pkg.Origin); err == nil && existing != nil {
		return pkgerr.New(pkgerr.Conflict, fmt.Sprintf("install: %s is already installed", pkg.Name), nil)
	}

	for _, fe := range pkg.Files {
		dest := filepath.Join(pkg.Prefix, fe.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("install: creating %s", filepath.Dir(dest)), err)
		}
		if err := os.WriteFile(dest, []byte(body[fe.Path]), os.FileMode(fe.Perm)); err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("install: writing %s", dest), err)
		}
	}

	if err := e.db.Register(pkg); err != nil {
		return err
	}
	fmt.Printf("Imported %s-%s from %s\n", pkg.Name, pkg.Version, path)
	return nil
}

func newUpgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade <package>...",
		Short: "upgrade one or more installed packages to the latest cataloged version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.run(optionsFromFlags(cmd), requestsFromArgs(planner.RequestUpgrade, args))
		},
	}
	addPlannerFlags(cmd)
	return cmd
}

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "remove one or more installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.run(optionsFromFlags(cmd), requestsFromArgs(planner.RequestRemove, args))
		},
	}
	addPlannerFlags(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <package> <output.deb>",
		Short: "export an installed package back to a legacy .deb archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.exportDeb(args[0], args[1])
		},
	}
}

// exportDeb is the mirror of importLocalDeb: it reads an installed
// package's files back off disk and hands them to pkg/compat.ExportDeb,
// which has no bodies of its own to draw on (lpdb never stores file
// content, only metadata).
func (e *env) exportDeb(name, outPath string) error {
	pkg, err := e.db.ByOrigin(name)
	if err != nil {
		return err
	}
	if pkg == nil {
		pkgs, err := e.db.ByName(name)
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("export: %s is not installed", name), nil)
		}
		pkg = pkgs[0]
	}

	body := make(map[string]string, len(pkg.Files))
	for _, fe := range pkg.Files {
		if fe.Type != manifest.TypeRegular {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pkg.Prefix, fe.Path))
		if err != nil {
			return pkgerr.New(pkgerr.IO, fmt.Sprintf("export: reading %s", fe.Path), err)
		}
		body[fe.Path] = string(data)
	}

	out, err := compat.ExportDeb(pkg, body)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return pkgerr.New(pkgerr.IO, fmt.Sprintf("export: writing %s", outPath), err)
	}
	fmt.Printf("Exported %s-%s to %s\n", pkg.Name, pkg.Version, outPath)
	return nil
}

func newAutoremoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autoremove",
		Short: "remove automatically installed packages with no remaining dependents",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			installed, err := e.db.List()
			if err != nil {
				return err
			}
			var requests []planner.Request
			for _, pkg := range installed {
				if !pkg.Automatic {
					continue
				}
				revs, err := e.db.ReverseDeps(pkg.Name)
				if err != nil {
					return err
				}
				if len(revs) == 0 {
					requests = append(requests, planner.Request{Kind: planner.RequestRemove, Match: pkg.Name})
				}
			}
			if len(requests) == 0 {
				fmt.Println("Nothing to do.")
				return nil
			}
			return e.run(planner.Options{Force: true}, requests)
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "refresh the remote catalogue cache from every enabled repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			provider := fetch.NewHTTPProvider()
			ctx := context.Background()
			for _, r := range e.ctx.Repos {
				if !r.Enabled {
					continue
				}
				cat, err := rcc.Open(e.cfg.DBDir, r.Name)
				if err != nil {
					return err
				}
				if err := cat.Update(ctx, r, provider, e.ctx.Emit); err != nil {
					cat.Close()
					return fmt.Errorf("updating %s: %w", r.Name, err)
				}
				cat.Close()
			}
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "list installed packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			pkgs, err := e.db.List()
			if err != nil {
				return err
			}
			for _, p := range pkgs {
				flags := ""
				if p.Locked {
					flags += " locked"
				}
				if p.Automatic {
					flags += " automatic"
				}
				fmt.Printf("%-30s %-15s %s%s\n", p.Name, p.Version, p.Origin, flags)
			}
			return nil
		},
	}
}

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <package>",
		Short: "prevent a package from being modified by future plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setLocked(args[0], true)
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <package>",
		Short: "allow a previously locked package to be modified again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setLocked(args[0], false)
		},
	}
}

func setLocked(name string, locked bool) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	pkgs, err := e.db.ByName(name)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return pkgerr.New(pkgerr.DepUnsat, fmt.Sprintf("%s is not installed", name), nil)
	}
	if err := e.db.Locker.Acquire(lpdb.Exclusive, 30*time.Second); err != nil {
		return err
	}
	defer e.db.Locker.Release()
	if err := e.db.SetLocked(pkgs[0].UID, locked); err != nil {
		return err
	}
	e.ctx.Emit(event.Notice(fmt.Sprintf("%s: locked=%v", name, locked)))
	return nil
}
