// Package link implements the "link:" and "portal:" protocols: both point at
// an existing directory outside the cache and never produce an archive
// (§4.F "no archive; return a synthetic local entry"). Both resolve and
// fetch identically, and nothing downstream tells them apart: the scheduler
// reads the target's package.json and walks its dependencies for link: just
// as for portal:.
package link

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// Protocol implements protocol.Protocol for KindLink and KindPortal.
type Protocol struct{}

// New returns a link/portal Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve parses req.Raw directly: the path is already fully determined by
// the literal reference string.
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	ref, err := locator.ParseReference(req.Raw)
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("link/portal: %w", err)
	}
	loc := locator.Locator{Ident: req.Ident, Reference: ref, Parent: req.Parent}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch binds the path against its parent (if relative) and returns a
// synthetic entry with no archive.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	path := loc.Reference.Path
	if loc.Parent != nil && !filepath.IsAbs(path) {
		path = filepath.Join(parentDir(*loc.Parent), path)
	}
	return protocol.FetchResult{Synthetic: true, LocalPath: path}, nil
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
	p := New()
	protocol.Register(locator.KindLink, p)
	protocol.Register(locator.KindPortal, p)
}
