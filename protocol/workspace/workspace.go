// Package workspace implements the "workspace:" protocol: lookup against the
// project's workspace table and a synthetic entry pointing at the matched
// folder (§4.F). Workspace resolutions are never cacheable across installs.
package workspace

import (
	"context"
	"fmt"

	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
)

// ErrUnknownWorkspace is returned when a "workspace:" reference names an
// ident or path with no matching project workspace.
type ErrUnknownWorkspace struct {
	Reference locator.Reference
}

func (e ErrUnknownWorkspace) Error() string {
	return fmt.Sprintf("no workspace matches %s", e.Reference)
}

// Protocol implements protocol.Protocol for KindWorkspace.
type Protocol struct{}

// New returns a workspace Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve looks the dependent's own ident up in pc.WorkspaceDirs — a
// "workspace:<range>" dependency value (e.g. "workspace:*", "workspace:^1")
// names no package of its own; the dependency key (req.Ident) is the target
// — and pins the locator to that workspace project's directory. The
// directory, not the ident, is what the Reference carries (mirroring how the
// workspace orchestrator registers each project's own root locator) so a
// sibling reached via "workspace:*" and that same project registered as an
// install root converge on one identical locator instead of two. No Parent
// is attached: unlike file/folder/link/portal, a workspace reference doesn't
// require binding (locator.Reference.RequiresBinding), so the same sibling
// requested by two different dependents must resolve to one shared locator,
// not one per requester.
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	id := req.Ident
	dir, ok := pc.WorkspaceDirs[id]
	if !ok {
		return protocol.ResolveResult{}, ErrUnknownWorkspace{Reference: locator.Reference{Kind: locator.KindWorkspace, WorkspaceIdent: id}}
	}
	loc := locator.Locator{
		Ident:     id,
		Reference: locator.Reference{Kind: locator.KindWorkspace, Path: dir},
	}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch resolves the workspace locator's own ident back to its
// project-relative folder and returns a synthetic entry (no archive: the
// linker symlinks or hardlinks the folder directly).
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	dir, ok := pc.WorkspaceDirs[loc.Ident]
	if !ok {
		return protocol.FetchResult{}, ErrUnknownWorkspace{Reference: loc.Reference}
	}
	return protocol.FetchResult{Synthetic: true, LocalPath: dir}, nil
}

func init() {
	protocol.Register(locator.KindWorkspace, New())
}
