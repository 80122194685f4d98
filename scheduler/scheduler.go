// Package scheduler implements the §4.G install scheduler: it owns the
// Resolve/Fetch/Load operations over a set of root workspace manifests,
// deduplicates concurrent requests by fingerprint, and bounds concurrency
// behind a worker-pool semaphore, grounded on
// registry/proxy/scheduler/scheduler.go's single-owner-over-channels shape
// generalized from one operation kind (TTL expiry) to three.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	events "github.com/docker/go-events"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/internal/dlog"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/protocol"
)

// Resolution is the accumulated knowledge about one resolved locator: its
// manifest, the raw (unparsed) dependency/peer values, and — once each
// dependency finishes its own Resolve — the concrete locator it resolved to.
// Edges is what peers.Propagate walks to find, for any (parent, ident) pair,
// which physical package instance actually sits there.
type Resolution struct {
	Locator      locator.Locator
	Manifest     manifest.Manifest
	Dependencies map[ident.Ident]string
	Peers        map[ident.Ident]locator.PeerRange
	Edges        map[ident.Ident]locator.Locator
	Checksum     string

	// ArchivePath, Synthetic, and LocalPath mirror protocol.FetchResult,
	// carried forward so the hoister can materialize this package's files
	// without re-dispatching Fetch.
	ArchivePath string
	Synthetic   bool
	LocalPath   string
}

// RootInput is one workspace project feeding the scheduler's dependency walk.
type RootInput struct {
	Locator  locator.Locator
	Manifest manifest.Manifest
}

// Tree is the completed §4.G "ResolutionTree": every root plus every
// transitively resolved locator's Resolution, keyed by its canonical string.
type Tree struct {
	Roots       []locator.Locator
	Resolutions map[string]Resolution
}

// Config tunes the scheduler's concurrency and event reporting.
type Config struct {
	// Concurrency bounds simultaneous Resolve/Fetch/Load operations. A value
	// of zero or less selects 8; workspace.Install passes
	// config.Configuration.NetworkConcurrency (CPU*4, clamped 32).
	Concurrency int
	// Sink receives operation lifecycle events (ResolveDone, FetchDone,
	// LoadDone) for a CLI progress reporter to consume, mirroring
	// notifications.NewBridge's sink-injection shape.
	Sink events.Sink
}

// Scheduler runs the install's Resolve/Fetch/Load operations.
type Scheduler struct {
	pc  *protocol.Context
	sem chan struct{}
	sink events.Sink

	sfResolve singleflight.Group
	sfLoad    singleflight.Group

	mu          sync.Mutex
	resolutions map[string]Resolution

	resolveStarted, resolveDone, fetchDone, loadDone, opErrors prometheus.Counter
}

// New returns a Scheduler bound to pc, with at most cfg.Concurrency
// operations in flight at once (default 8 if unset).
func New(pc *protocol.Context, cfg Config) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Scheduler{
		pc:          pc,
		sem:         make(chan struct{}, concurrency),
		sink:        cfg.Sink,
		resolutions: make(map[string]Resolution),

		resolveStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corepm_scheduler_resolve_started_total", Help: "Resolve operations started."}),
		resolveDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corepm_scheduler_resolve_done_total", Help: "Resolve operations completed."}),
		fetchDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corepm_scheduler_fetch_done_total", Help: "Fetch operations completed."}),
		loadDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corepm_scheduler_load_done_total", Help: "Load operations completed."}),
		opErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corepm_scheduler_errors_total", Help: "Resolve/Fetch/Load operations that returned an error."}),
	}
}

// Collectors exposes the scheduler's metrics for registration alongside the
// cache's.
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.resolveStarted, s.resolveDone, s.fetchDone, s.loadDone, s.opErrors}
}

// Install walks every root's dependency graph to a fixed point, returning the
// complete resolution tree. A fatal error from any operation cancels the
// remaining in-flight work and is returned (§4.G "Cancellation").
func (s *Scheduler) Install(ctx context.Context, roots []RootInput) (*Tree, error) {
	g, ctx := errgroup.WithContext(ctx)

	result := &Tree{Roots: make([]locator.Locator, 0, len(roots))}
	for _, r := range roots {
		result.Roots = append(result.Roots, r.Locator)
		s.registerResolution(r.Locator, Resolution{
			Locator:  r.Locator,
			Manifest: r.Manifest,
		})

		deps, err := mergedDependencyIdents(r.Manifest)
		if err != nil {
			return nil, err
		}
		parent := r.Locator
		for name, raw := range deps {
			name, raw := name, raw
			g.Go(func() error {
				return s.walk(ctx, g, name, raw, &parent)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	result.Resolutions = make(map[string]Resolution, len(s.resolutions))
	for k, v := range s.resolutions {
		result.Resolutions[k] = v
	}
	s.mu.Unlock()
	return result, nil
}

// walk resolves one dependency value, fetches and loads its manifest, and
// (if this is the first goroutine to complete that locator) spawns a walk
// for each of its own dependencies.
func (s *Scheduler) walk(ctx context.Context, g *errgroup.Group, depIdent ident.Ident, raw string, parent *locator.Locator) error {
	loc, err := s.resolve(ctx, depIdent, raw, parent)
	if err != nil {
		return err
	}
	if parent != nil {
		s.recordEdge(*parent, depIdent, loc)
	}

	res, firstVisit, err := s.fetchAndLoad(ctx, loc)
	if err != nil {
		return err
	}
	if !firstVisit {
		return nil
	}

	locCopy := loc
	for name, childRaw := range res.Dependencies {
		name, childRaw := name, childRaw
		g.Go(func() error {
			return s.walk(ctx, g, name, childRaw, &locCopy)
		})
	}
	return nil
}

// resolve dispatches Resolve for one (ident, raw-dependency-value, parent)
// triple, deduplicating concurrent identical requests (§4.G "Resolve by
// descriptor"; generalized to the raw value since not every dependency value
// is a semver range, per SPEC_FULL.md's open-question decision).
func (s *Scheduler) resolve(ctx context.Context, id ident.Ident, raw string, parent *locator.Locator) (locator.Locator, error) {
	key := id.String() + "@" + raw
	if parent != nil {
		key += "::parent=" + parent.String()
	}

	v, err, _ := s.sfResolve.Do(key, func() (any, error) {
		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		defer s.release()

		kind, err := protocol.ClassifyDependency(raw)
		if err != nil {
			return nil, fmt.Errorf("classifying %s@%s: %w", id, raw, err)
		}

		s.resolveStarted.Inc()
		dlog.GetLogger(ctx).Debugf("resolving %s@%s", id, raw)

		result, err := protocol.Resolve(ctx, s.pc, kind, protocol.Request{Ident: id, Raw: raw, Parent: parent})
		if err != nil {
			s.opErrors.Inc()
			return nil, fmt.Errorf("resolving %s@%s: %w", id, raw, err)
		}
		s.resolveDone.Inc()
		s.publish(ResolveDone{Locator: result.Locator})
		return result.Locator, nil
	})
	if err != nil {
		return locator.Locator{}, err
	}
	return v.(locator.Locator), nil
}

// fetchAndLoad fetches loc's archive (or synthetic entry) and parses its
// manifest, registering the Resolution the first time loc is visited.
// Subsequent callers for the same locator (a diamond dependency) get the
// cached Resolution and firstVisit=false, so its own dependency walk is
// spawned exactly once.
func (s *Scheduler) fetchAndLoad(ctx context.Context, loc locator.Locator) (Resolution, bool, error) {
	key := loc.String()

	s.mu.Lock()
	if res, ok := s.resolutions[key]; ok {
		s.mu.Unlock()
		return res, false, nil
	}
	s.mu.Unlock()

	first := false
	v, err, _ := s.sfLoad.Do(key, func() (any, error) {
		s.mu.Lock()
		if res, ok := s.resolutions[key]; ok {
			s.mu.Unlock()
			return res, nil
		}
		s.mu.Unlock()

		if err := s.acquire(ctx); err != nil {
			return nil, err
		}
		defer s.release()

		proto, ok := protocol.Get(loc.Reference.Kind)
		if !ok {
			return nil, fmt.Errorf("no protocol registered for kind %s", loc.Reference.Kind)
		}
		fetchRes, err := proto.Fetch(ctx, s.pc, loc)
		if err != nil {
			s.opErrors.Inc()
			return nil, fmt.Errorf("fetching %s: %w", loc, err)
		}
		s.fetchDone.Inc()
		s.publish(FetchDone{Locator: loc, Checksum: fetchRes.Checksum})

		m, err := loadManifest(fetchRes)
		if err != nil {
			s.opErrors.Inc()
			return nil, fmt.Errorf("loading manifest for %s: %w", loc, err)
		}

		deps, err := mergedDependencyIdents(m)
		if err != nil {
			return nil, err
		}
		peers, err := m.PeerDescriptors()
		if err != nil {
			return nil, err
		}

		res := Resolution{
			Locator:      loc,
			Manifest:     m,
			Dependencies: deps,
			Peers:        peers,
			Checksum:     fetchRes.Checksum,
			ArchivePath:  fetchRes.ArchivePath,
			Synthetic:    fetchRes.Synthetic,
			LocalPath:    fetchRes.LocalPath,
		}
		s.registerResolution(loc, res)
		s.loadDone.Inc()
		s.publish(LoadDone{Locator: loc})
		first = true
		return res, nil
	})
	if err != nil {
		return Resolution{}, false, err
	}
	return v.(Resolution), first, nil
}

func (s *Scheduler) registerResolution(loc locator.Locator, res Resolution) {
	s.mu.Lock()
	s.resolutions[loc.String()] = res
	s.mu.Unlock()
}

// recordEdge attaches the resolved child locator to parent's Resolution under
// depIdent. parent is always already registered: roots are registered before
// any walk is spawned, and every other parent is registered by the time its
// own children's walks run (walk is only recursed into after fetchAndLoad
// completes).
func (s *Scheduler) recordEdge(parent locator.Locator, depIdent ident.Ident, child locator.Locator) {
	key := parent.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[key]
	if !ok {
		return
	}
	if res.Edges == nil {
		res.Edges = make(map[ident.Ident]locator.Locator)
	}
	res.Edges[depIdent] = child
	s.resolutions[key] = res
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) release() { <-s.sem }

func (s *Scheduler) publish(e any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Write(e); err != nil {
		dlog.GetLogger(context.Background()).WithError(err).Warn("scheduler: event sink write failed")
	}
}

// loadManifest extracts a Resolution's manifest from a FetchResult: archived
// kinds carry it as ManifestData already extracted from the zip, synthetic
// kinds (link/portal/workspace) point at an on-disk package.json instead.
func loadManifest(res protocol.FetchResult) (manifest.Manifest, error) {
	if res.Synthetic {
		data, err := os.ReadFile(filepath.Join(res.LocalPath, "package.json"))
		if err != nil {
			return manifest.Manifest{}, err
		}
		return manifest.Parse(data)
	}
	if len(res.ManifestData) == 0 {
		return manifest.Manifest{}, fmt.Errorf("no package.json found in archive")
	}
	return manifest.Parse(res.ManifestData)
}

// mergedDependencyIdents parses m's raw (dependencies + optionalDependencies)
// values into idents, leaving the value strings unparsed for the scheduler's
// own protocol.ClassifyDependency dispatch.
func mergedDependencyIdents(m manifest.Manifest) (map[ident.Ident]string, error) {
	raw := m.RawDependencyValues()
	out := make(map[ident.Ident]string, len(raw))
	for name, v := range raw {
		id, err := ident.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", name, err)
		}
		out[id] = v
	}
	return out, nil
}
