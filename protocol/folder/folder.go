// Package folder implements the "file:<dir>" protocol: snapshot a folder's
// contents (relative to its parent) into a normalized zip cache entry.
// Folder resolutions are never cached across installs (§4.F "Transient
// resolutions"); only the fetched snapshot archive is.
package folder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// Protocol implements protocol.Protocol for KindFolder references.
type Protocol struct{}

// New returns a folder Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve parses req.Raw as a "file:<dir>" reference; the actual binding
// against the parent directory happens lazily in Fetch (§4.F "relative to
// parent").
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	ref, err := locator.ParseReference(req.Raw)
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("folder: %w", err)
	}
	loc := locator.Locator{Ident: req.Ident, Reference: ref, Parent: req.Parent}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch snapshots the folder's files (excluding the root's node_modules and
// .git directories) into a zip, the same normalization every archived kind uses.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	dir := loc.Reference.Path
	if loc.Parent != nil && !filepath.IsAbs(dir) {
		dir = filepath.Join(parentDir(*loc.Parent), dir)
	}

	entries, err := snapshot(dir)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("snapshotting folder %s: %w", dir, err)
	}
	normalized := formats.NormalizeEntries(entries, loc.Ident.Slug())

	entry, err := pc.Cache.EnsureBlob(ctx, loc, "zip", func(ctx context.Context) ([]byte, error) {
		return formats.WriteZip(normalized)
	})
	if err != nil {
		return protocol.FetchResult{}, err
	}

	manifestData, _ := protocol.ExtractManifest(normalized, loc.Ident.Slug())
	return protocol.FetchResult{ManifestData: manifestData, ArchivePath: entry.Path, Checksum: entry.Checksum}, nil
}

func snapshot(dir string) ([]formats.Entry, error) {
	var out []formats.Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == "node_modules" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) || rel == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, formats.Entry{
			Name:       filepath.ToSlash(rel),
			Mode:       uint32(info.Mode().Perm()),
			Executable: info.Mode()&0o111 != 0,
			Body:       body,
		})
		return nil
	})
	return out, err
}

func parentDir(parent locator.Locator) string {
	switch parent.Reference.Kind {
	case locator.KindFolder, locator.KindLink, locator.KindPortal, locator.KindWorkspace:
		return parent.Reference.Path
	default:
		return "."
	}
}

func init() {
	protocol.Register(locator.KindFolder, New())
}
