package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	events "github.com/docker/go-events"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/corepm/corepm/build"
	"github.com/corepm/corepm/cache"
	"github.com/corepm/corepm/config"
	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/linker"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/lockfile"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/peers"
	"github.com/corepm/corepm/protocol"
	_ "github.com/corepm/corepm/protocol/folder"
	_ "github.com/corepm/corepm/protocol/git"
	_ "github.com/corepm/corepm/protocol/link"
	_ "github.com/corepm/corepm/protocol/patch"
	_ "github.com/corepm/corepm/protocol/registry"
	_ "github.com/corepm/corepm/protocol/tarball"
	_ "github.com/corepm/corepm/protocol/virtual"
	_ "github.com/corepm/corepm/protocol/workspace"
	"github.com/corepm/corepm/scheduler"
)

const lockfileName = "yarn.lock"
const buildStateName = ".yarn/build-state"

// ErrImmutableInstall is returned when config.EnableImmutableInstalls is set
// and the resolution this install produced would rewrite an existing
// lockfile (§4.H/§7: an immutable install that can't reproduce the checked-in
// lockfile verbatim is a user error, not something to silently paper over).
type ErrImmutableInstall struct{}

func (ErrImmutableInstall) Error() string {
	return "immutable install: resolution does not match the existing lockfile"
}

// Options tunes one Install call.
type Options struct {
	Config  config.Configuration
	Refresh bool        // --refresh-lockfile: ignore the existing lockfile entirely
	Sink    events.Sink // forwarded to the scheduler for progress reporting
}

// Result is everything one Install call produced.
type Result struct {
	Project    *Project
	Resolved   *scheduler.Tree
	Propagated *peers.Result
	Builds     []build.Result
	Lockfile   *lockfile.Lockfile
}

// Install runs one full §4.G-through-§4.M install: discover the workspace,
// resolve/fetch/load every root's transitive graph, propagate peers, commit
// the chosen linker strategy's directory layout, run lifecycle build
// scripts, and persist the lockfile.
func Install(ctx context.Context, projectRoot string, opts Options) (*Result, error) {
	project, err := Discover(projectRoot)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	c, err := cache.New(filepath.Join(projectRoot, cfg.CacheFolder), cfg.EnableImmutableCache)
	if err != nil {
		return nil, err
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = 2 // three attempts in all

	pc := &protocol.Context{
		Cache:         c,
		HTTPClient:    httpClient,
		Registry:      cfg.Registry,
		WorkspaceDirs: project.WorkspaceDirs(),
	}

	sched := scheduler.New(pc, scheduler.Config{Concurrency: cfg.NetworkConcurrency, Sink: opts.Sink})

	roots := make([]scheduler.RootInput, 0, len(project.All()))
	for _, m := range project.All() {
		roots = append(roots, scheduler.RootInput{
			Locator:  locator.Locator{Ident: m.Ident, Reference: locator.Reference{Kind: locator.KindWorkspace, Path: m.Dir}},
			Manifest: withDevDependencies(m.Manifest),
		})
	}

	tree, err := sched.Install(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("workspace: install: %w", err)
	}

	propagated, err := peers.Propagate(tree)
	if err != nil {
		return nil, fmt.Errorf("workspace: peer propagation: %w", err)
	}

	if err := linker.Link(cfg.NodeLinker, propagated, projectRoot); err != nil {
		return nil, fmt.Errorf("workspace: linking: %w", err)
	}

	var builds []build.Result
	if cfg.NodeLinker == "node-modules" {
		htree, err := hoist.Build(propagated)
		if err != nil {
			return nil, fmt.Errorf("workspace: rebuilding packing tree for build scheduler: %w", err)
		}
		htree.Hoist()
		builds, err = build.Run(ctx, propagated, htree, projectRoot, filepath.Join(projectRoot, buildStateName), cfg.NodeLinker)
		if err != nil {
			return nil, fmt.Errorf("workspace: running build scripts: %w", err)
		}
	}

	lf := buildLockfile(tree, c.CompatibilityKey())

	lockPath := filepath.Join(projectRoot, lockfileName)
	if cfg.EnableImmutableInstalls {
		if err := checkImmutable(lockPath, lf, opts.Refresh); err != nil {
			return nil, err
		}
	}

	data, err := lockfile.Write(lf)
	if err != nil {
		return nil, fmt.Errorf("workspace: rendering lockfile: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("workspace: writing lockfile: %w", err)
	}

	return &Result{Project: project, Resolved: tree, Propagated: propagated, Builds: builds, Lockfile: lf}, nil
}

// checkImmutable refuses an install that would change the committed
// lockfile's content.
func checkImmutable(lockPath string, fresh *lockfile.Lockfile, refresh bool) error {
	if refresh {
		return nil
	}
	existing, err := os.ReadFile(lockPath)
	if os.IsNotExist(err) {
		return ErrImmutableInstall{}
	}
	if err != nil {
		return err
	}
	freshData, err := lockfile.Write(fresh)
	if err != nil {
		return err
	}
	if string(existing) != string(freshData) {
		return ErrImmutableInstall{}
	}
	return nil
}

// withDevDependencies folds m's devDependencies into its dependency set: a
// workspace project installs its own devDependencies by default (unlike an
// ordinary fetched dependency, whose devDependencies are never installed).
func withDevDependencies(m manifest.Manifest) manifest.Manifest {
	if len(m.DevDependencies) == 0 {
		return m
	}
	merged := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for k, v := range m.Dependencies {
		merged[k] = v
	}
	for k, v := range m.DevDependencies {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	out := m
	out.Dependencies = merged
	return out
}

// buildLockfile derives lockfile entries from tree's resolutions: one block
// per distinct resolved locator, keyed by every (ident, raw-value) descriptor
// string that resolved to it, plus every workspace project's own self
// descriptor so an unreferenced workspace member still gets an entry.
func buildLockfile(tree *scheduler.Tree, cacheKey string) *lockfile.Lockfile {
	lf := lockfile.New(cacheKey)

	descriptors := map[string][]string{}
	for _, res := range tree.Resolutions {
		for depIdent, raw := range res.Dependencies {
			child, ok := res.Edges[depIdent]
			if !ok {
				continue
			}
			key := child.String()
			descriptors[key] = append(descriptors[key], depIdent.String()+"@"+raw)
		}
	}
	for _, root := range tree.Roots {
		key := root.String()
		descriptors[key] = append(descriptors[key], key)
	}

	keys := make([]string, 0, len(descriptors))
	for k := range descriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		res, ok := tree.Resolutions[key]
		if !ok {
			continue
		}
		lf.Entries = append(lf.Entries, lockfile.Entry{
			Descriptors:      dedupSorted(descriptors[key]),
			Version:          res.Manifest.Version,
			Resolution:       res.Locator.String(),
			Dependencies:     identMap(res.Dependencies),
			PeerDependencies: peerRangeMap(res.Peers),
			Checksum:         res.Checksum,
			Conditions:       platformConditions(res.Manifest),
			LanguageName:     "node",
			LinkType:         linkType(res),
		})
	}
	return lf
}

func linkType(res scheduler.Resolution) string {
	if res.Synthetic {
		return "soft"
	}
	return "hard"
}

func identMap(m map[ident.Ident]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for id, v := range m {
		out[id.String()] = v
	}
	return out
}

func peerRangeMap(m map[ident.Ident]locator.PeerRange) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for id, pr := range m {
		out[id.String()] = pr.Range.String()
	}
	return out
}

// platformConditions renders an inclusion-style "os"/"cpu" manifest field as
// a lockfile condition clause; an exclusion-style ("!"-prefixed) list has no
// equivalent in the condition grammar (it has no negation), so it is left
// out rather than misrepresented.
func platformConditions(m manifest.Manifest) string {
	var parts []string
	if c := conditionClause("os", m.OS); c != "" {
		parts = append(parts, c)
	}
	if c := conditionClause("cpu", m.CPU); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, " & ")
}

func conditionClause(key string, list []string) string {
	if len(list) == 0 {
		return ""
	}
	for _, e := range list {
		if strings.HasPrefix(e, "!") {
			return ""
		}
	}
	return key + "=" + strings.Join(list, "|")
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
