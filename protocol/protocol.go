// Package protocol implements the per-reference-kind resolve/fetch dispatch
// of spec.md §4.F, grounded on registry/storage/driver/factory's
// name-to-factory registration table.
package protocol

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/corepm/corepm/cache"
	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/semver"
)

// FetchResult is what Fetch populates the cache with and reports back to the
// scheduler so it can derive a Resolution.
type FetchResult struct {
	// ManifestData is the fetched package's raw package.json bytes, when one
	// exists. It is empty for workspace/link/portal entries, whose
	// package.json is read from LocalPath; virtual returns its inner locator's.
	ManifestData []byte

	// ArchivePath is the cache-resident normalized zip for archived kinds
	// (registry, git, tarball, folder, patch). Empty for synthetic entries.
	ArchivePath string
	Checksum    string

	// Synthetic is true for link/portal/workspace entries that have no
	// archive of their own, just a filesystem path (§4.F).
	Synthetic bool
	LocalPath string
}

// ResolveResult is what Resolve yields: the chosen Locator plus any extra
// dependencies the protocol itself introduces (e.g. a git "prepare" step
// discovering devDependencies needed to build the pack).
type ResolveResult struct {
	Locator           locator.Locator
	ExtraDependencies map[ident.Ident]locator.Descriptor
}

// Context carries the ambient services protocols need: the shared cache, an
// HTTP client, the default registry URL, and binding/workspace lookups.
type Context struct {
	Cache      *cache.Cache
	HTTPClient HTTPDoer
	Registry   string

	// WorkspaceDirs maps a workspace ident to its project-relative folder,
	// consulted by protocol/workspace.
	WorkspaceDirs map[ident.Ident]string
}

// HTTPDoer is the subset of *retryablehttp.Client protocols depend on,
// narrowed to keep protocol implementations independently testable against a
// plain *http.Client in tests.
type HTTPDoer interface {
	Get(url string) (*http.Response, error)
}

// Request is what the scheduler hands to Resolve: the dependent ident, the
// raw manifest dependency-value string (a semver range for the common
// registry case, or a literal protocol-prefixed reference for everything
// else — npm dependency values are not all semver ranges, so dispatch reads
// the raw text rather than a pre-parsed locator.Descriptor), and the parent
// locator when binding applies.
type Request struct {
	Ident  ident.Ident
	Raw    string
	Parent *locator.Locator
}

// Protocol implements resolve/fetch for one Reference Kind.
type Protocol interface {
	// Resolve performs network/filesystem I/O as needed and returns the
	// chosen Locator. req.Parent is non-nil when the descriptor's range
	// requires binding (§4.F "Binding rules").
	Resolve(ctx context.Context, pc *Context, req Request) (ResolveResult, error)

	// Fetch populates the cache (for archived kinds) and returns enough
	// information to derive a Resolution.
	Fetch(ctx context.Context, pc *Context, loc locator.Locator) (FetchResult, error)
}

var registered = map[locator.Kind]Protocol{}

// Register makes a Protocol available for its Kind. Panics on a duplicate
// registration, mirroring registry/storage/driver/factory.Register.
func Register(kind locator.Kind, p Protocol) {
	if p == nil {
		panic("protocol: nil Protocol")
	}
	if _, ok := registered[kind]; ok {
		panic(fmt.Sprintf("protocol: %s already registered", kind))
	}
	registered[kind] = p
}

// Get returns the Protocol registered for kind, if any.
func Get(kind locator.Kind) (Protocol, bool) {
	p, ok := registered[kind]
	return p, ok
}

// ErrUnsupportedProtocol is returned when no Protocol is registered for a Kind.
type ErrUnsupportedProtocol struct {
	Kind locator.Kind
}

func (e ErrUnsupportedProtocol) Error() string {
	return fmt.Sprintf("protocol: no handler registered for %s", e.Kind)
}

// Resolve dispatches to the Protocol registered for kind. The caller
// classifies kind ahead of time via ClassifyDependency.
func Resolve(ctx context.Context, pc *Context, kind locator.Kind, req Request) (ResolveResult, error) {
	p, ok := Get(kind)
	if !ok {
		return ResolveResult{}, ErrUnsupportedProtocol{Kind: kind}
	}
	return p.Resolve(ctx, pc, req)
}

// ClassifyDependency inspects a raw manifest dependency value and reports
// which protocol kind should resolve it: an unprefixed value that parses as
// a semver range is a registry descriptor; everything else must parse as a
// literal Reference (git:, file:, link:, portal:, workspace:, patch:, a bare
// URL, or a pinned "npm:ident@version").
func ClassifyDependency(raw string) (locator.Kind, error) {
	normalized := NormalizeDependencyValue(raw)
	if ref, err := locator.ParseReference(normalized); err == nil {
		return ref.Kind, nil
	}
	if _, err := semver.ParseRange(raw); err == nil {
		return locator.KindRegistry, nil
	}
	return 0, fmt.Errorf("protocol: %q is neither a valid range nor a recognized reference", raw)
}

// NormalizeDependencyValue rewrites the handful of raw npm manifest
// dependency-value shapes that don't already match this module's canonical
// Reference wire forms (§3's Reference table) into the form ParseReference
// expects: "git+https://…"/"git+ssh://…"/"git://" collapse to "git:…", and
// the "github:owner/repo" shorthand expands to the equivalent "git:" URL.
func NormalizeDependencyValue(raw string) string {
	switch {
	case strings.HasPrefix(raw, "git+"):
		return "git:" + strings.TrimPrefix(raw, "git+")
	case strings.HasPrefix(raw, "git://"):
		return "git:" + raw
	case strings.HasPrefix(raw, "github:"):
		rest := strings.TrimPrefix(raw, "github:")
		repoPath, suffix := rest, ""
		if i := strings.Index(rest, "#"); i >= 0 {
			repoPath, suffix = rest[:i], rest[i:]
		}
		return "git:https://github.com/" + repoPath + ".git" + suffix
	default:
		return raw
	}
}

// Fetch dispatches to the Protocol registered for loc.Reference.Kind.
func Fetch(ctx context.Context, pc *Context, loc locator.Locator) (FetchResult, error) {
	p, ok := Get(loc.Reference.Kind)
	if !ok {
		return FetchResult{}, ErrUnsupportedProtocol{Kind: loc.Reference.Kind}
	}
	return p.Fetch(ctx, pc, loc)
}

// ExtractManifest finds "node_modules/<identSlug>/package.json" among a
// normalized archive's entries, the layout formats.NormalizeEntries produces.
func ExtractManifest(entries []formats.Entry, identSlug string) ([]byte, bool) {
	want := "node_modules/" + identSlug + "/package.json"
	for _, e := range entries {
		if e.Name == want {
			return e.Body, true
		}
	}
	// fall back to any top-level package.json, for archives normalized under
	// a differently-cased or scoped slug than the caller assumed.
	for _, e := range entries {
		if strings.HasSuffix(e.Name, "/package.json") && strings.Count(e.Name, "/") == 2 {
			return e.Body, true
		}
	}
	return nil, false
}
