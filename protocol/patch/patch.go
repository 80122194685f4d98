// Package patch implements the "patch:" protocol: it requires its inner
// locator to already be resolved and fetched, reads the inner zip, applies a
// unified diff to the named file(s), and rezips the result (§4.F).
package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// Protocol implements protocol.Protocol for KindPatch.
type Protocol struct{}

// New returns a patch Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve parses req.Raw directly. A "patch:<inner>#<patch-path>" dependency
// value already embeds its inner locator in fully-resolved form (§4.F
// "requires inner locator to be resolved first" — the scheduler is
// responsible for composing that string once the inner descriptor it refers
// to has resolved, e.g. when rewriting a "resolutions" entry).
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	ref, err := locator.ParseReference(req.Raw)
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("patch: %w", err)
	}
	loc := locator.Locator{Ident: req.Ident, Reference: ref, Parent: req.Parent}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch fetches the inner locator's archive (or reads a local patch-path
// file directly), applies the unified diff at PatchPath, and re-zips.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	ref := loc.Reference
	innerLoc := locator.Locator{Ident: loc.Ident, Reference: ref.PatchInner, Parent: loc.Parent}

	innerProto, ok := protocol.Get(ref.PatchInner.Kind)
	if !ok {
		return protocol.FetchResult{}, fmt.Errorf("patch: no protocol registered for inner kind %s", ref.PatchInner.Kind)
	}
	innerResult, err := innerProto.Fetch(ctx, pc, innerLoc)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("patch: fetching inner locator %s: %w", innerLoc, err)
	}
	if innerResult.Synthetic {
		return protocol.FetchResult{}, fmt.Errorf("patch: cannot patch synthetic (no-archive) inner locator %s", innerLoc)
	}

	archiveBytes, err := os.ReadFile(innerResult.ArchivePath)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("patch: reading inner archive: %w", err)
	}
	entries, err := formats.ReadZip(archiveBytes)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("patch: reading inner archive entries: %w", err)
	}

	diffText, err := readPatchText(ref.PatchPath, loc.Parent)
	if err != nil {
		return protocol.FetchResult{}, err
	}
	fileDiffs, err := parseUnifiedDiff(diffText)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("patch: parsing %s: %w", ref.PatchPath, err)
	}

	prefix := "node_modules/" + loc.Ident.Slug() + "/"
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		byName[e.Name] = i
	}

	for _, fd := range fileDiffs {
		name := prefix + strings.TrimPrefix(fd.path, "/")
		idx, ok := byName[name]
		if !ok {
			return protocol.FetchResult{}, fmt.Errorf("patch: target file %s not found in package", fd.path)
		}
		patched, err := applyFileDiff(string(entries[idx].Body), fd)
		if err != nil {
			return protocol.FetchResult{}, fmt.Errorf("patch: applying hunks to %s: %w", fd.path, err)
		}
		entries[idx].Body = []byte(patched)
	}

	entry, err := pc.Cache.EnsureBlob(ctx, loc, "zip", func(ctx context.Context) ([]byte, error) {
		return formats.WriteZip(entries)
	})
	if err != nil {
		return protocol.FetchResult{}, err
	}

	manifestData, _ := protocol.ExtractManifest(entries, loc.Ident.Slug())
	return protocol.FetchResult{ManifestData: manifestData, ArchivePath: entry.Path, Checksum: entry.Checksum}, nil
}

// readPatchText reads the ".patch" file content. An "npm:" prefix names a
// built-in patch bundled with the package manager itself (not modeled here);
// anything else is a project-relative (or, for a bound patch, parent-relative)
// filesystem path.
func readPatchText(patchPath string, parent *locator.Locator) (string, error) {
	if strings.HasPrefix(patchPath, "npm:") {
		return "", fmt.Errorf("patch: built-in npm: patches are not bundled with this package manager")
	}
	path := patchPath
	if parent != nil && !filepath.IsAbs(path) {
		if parent.Reference.Path != "" {
			path = filepath.Join(parent.Reference.Path, path)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("patch: reading %s: %w", path, err)
	}
	return string(data), nil
}

func init() {
	protocol.Register(locator.KindPatch, New())
}
