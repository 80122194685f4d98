// Package tarball implements the "file:*.tgz" (relative to a parent's
// context dir) and bare "http(s)://*.tgz" URL protocols: both fetch an
// archive and normalize it into the cache, differing only in where the bytes
// come from (§4.F).
package tarball

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// Protocol implements protocol.Protocol for tarball-shaped references
// (KindTarball for "file:*.tgz" forms, KindURL for bare http(s) tarball
// URLs).
type Protocol struct{}

// New returns a tarball Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve parses req.Raw directly: a tarball's locator is already fully
// determined by its literal reference string (§4.F "record locator = url"),
// needing no network or filesystem access until Fetch.
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	ref, err := locator.ParseReference(protocol.NormalizeDependencyValue(req.Raw))
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("tarball: %w", err)
	}
	loc := locator.Locator{Ident: req.Ident, Reference: ref, Parent: req.Parent}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch reads the tarball (from disk for file:, over HTTP for a bare URL),
// normalizes it, and stores it in the cache.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	entry, err := pc.Cache.EnsureBlob(ctx, loc, "zip", func(ctx context.Context) ([]byte, error) {
		tgz, err := p.readBytes(pc, loc)
		if err != nil {
			return nil, err
		}
		entries, err := formats.ReadTarGz(tgz)
		if err != nil {
			return nil, fmt.Errorf("reading tarball %s: %w", loc, err)
		}
		normalized := formats.NormalizeEntries(entries, loc.Ident.Slug())
		return formats.WriteZip(normalized)
	})
	if err != nil {
		return protocol.FetchResult{}, err
	}

	entries, err := formats.ReadZip(entry.Bytes)
	if err != nil {
		return protocol.FetchResult{}, err
	}
	manifestData, _ := protocol.ExtractManifest(entries, loc.Ident.Slug())

	return protocol.FetchResult{ManifestData: manifestData, ArchivePath: entry.Path, Checksum: entry.Checksum}, nil
}

func (p *Protocol) readBytes(pc *protocol.Context, loc locator.Locator) ([]byte, error) {
	switch loc.Reference.Kind {
	case locator.KindURL:
		resp, err := pc.HTTPClient.Get(loc.Reference.Path)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", loc.Reference.Path, err)
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	case locator.KindTarball:
		path := loc.Reference.Path
		if !filepath.IsAbs(path) && loc.Parent != nil {
			path = filepath.Join(parentDir(*loc.Parent), path)
		}
		return os.ReadFile(path)
	default:
		return nil, fmt.Errorf("tarball protocol: unsupported kind %s", loc.Reference.Kind)
	}
}

// parentDir derives the on-disk directory a parent locator's folder
// reference resolves to, for binding file:-relative paths (§4.F binding
// rules). Folder/workspace parents are themselves a directory path; other
// parent kinds have no filesystem presence to bind against.
func parentDir(parent locator.Locator) string {
	switch parent.Reference.Kind {
	case locator.KindFolder, locator.KindLink, locator.KindPortal, locator.KindWorkspace:
		return parent.Reference.Path
	default:
		return "."
	}
}

func init() {
	t := New()
	protocol.Register(locator.KindTarball, t)
	protocol.Register(locator.KindURL, t)
}
