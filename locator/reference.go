// Package locator implements the Descriptor/Locator/Reference tri-layer of
// spec.md §3: Reference is a tagged variant identifying one package version,
// Descriptor is (ident, Range), and Locator is (ident, Reference).
package locator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/semver"
)

// Kind identifies a Reference variant.
type Kind int

const (
	KindSemver Kind = iota
	KindRegistry
	KindTarball
	KindFolder
	KindLink
	KindPortal
	KindPatch
	KindVirtual
	KindWorkspace
	KindGit
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindSemver:
		return "npm-semver"
	case KindRegistry:
		return "npm"
	case KindTarball:
		return "tarball"
	case KindFolder:
		return "folder"
	case KindLink:
		return "link"
	case KindPortal:
		return "portal"
	case KindPatch:
		return "patch"
	case KindVirtual:
		return "virtual"
	case KindWorkspace:
		return "workspace"
	case KindGit:
		return "git"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

// ErrInvalidReference is returned when a string fails to parse as a Reference.
type ErrInvalidReference struct {
	Source string
	Reason string
}

func (e ErrInvalidReference) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Source, e.Reason)
}

// Reference identifies one concrete source of a package. Exactly the fields
// relevant to Kind are meaningful; it is a closed sum type over Kind (§9:
// "sum types over trait objects").
type Reference struct {
	Kind Kind

	Ident   ident.Ident  // KindRegistry
	Version semver.Version // KindSemver, KindRegistry

	Path string // KindTarball, KindFolder, KindLink, KindPortal, KindURL

	PatchInner Reference // KindPatch
	PatchPath  string    // KindPatch

	VirtualInner Reference // KindVirtual
	VirtualHash  string    // KindVirtual, 64-hex

	WorkspaceIdent ident.Ident // KindWorkspace

	GitURL    string // KindGit: repository URL or path as written after "git:"
	GitCommit string // KindGit: resolved pinned commit, empty until resolved
	GitPrepare string // KindGit: optional treeish params after "#" (e.g. "semver=<range>", "tag=<name>"), raw

	requiresBinding bool
}

// RequiresBinding reports whether this reference's semantics depend on a
// parent path (file, folder, link, portal, path-relative patch) per §4.F.
func (r Reference) RequiresBinding() bool {
	switch r.Kind {
	case KindTarball, KindFolder, KindLink, KindPortal:
		return true
	case KindPatch:
		return !strings.HasPrefix(r.PatchPath, "npm:") && r.PatchInner.RequiresBinding()
	case KindVirtual:
		return true
	default:
		return false
	}
}

// ParseReference dispatches on the reference's wire-form prefix; matching is
// ordered so the first matching pattern wins, most specific literal prefix
// first (§4.A).
func ParseReference(s string) (Reference, error) {
	switch {
	case strings.HasPrefix(s, "virtual:"):
		return parseVirtual(s)
	case strings.HasPrefix(s, "patch:"):
		return parsePatch(s)
	case strings.HasPrefix(s, "workspace:"):
		return parseWorkspace(s)
	case strings.HasPrefix(s, "portal:"):
		return Reference{Kind: KindPortal, Path: strings.TrimPrefix(s, "portal:")}, nil
	case strings.HasPrefix(s, "link:"):
		return Reference{Kind: KindLink, Path: strings.TrimPrefix(s, "link:")}, nil
	case strings.HasPrefix(s, "git:"):
		return parseGit(s)
	case strings.HasPrefix(s, "npm:"):
		return parseNpm(s)
	case strings.HasPrefix(s, "file:"):
		return parseFile(s)
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return Reference{Kind: KindURL, Path: s}, nil
	default:
		return Reference{}, ErrInvalidReference{Source: s, Reason: "no protocol matched"}
	}
}

func parseNpm(s string) (Reference, error) {
	rest := strings.TrimPrefix(s, "npm:")
	if i := strings.LastIndex(rest, "@"); i > 0 {
		id, err := ident.Parse(rest[:i])
		if err == nil {
			if v, verr := semver.Parse(rest[i+1:]); verr == nil {
				return Reference{Kind: KindRegistry, Ident: id, Version: v}, nil
			}
		}
	}
	v, err := semver.Parse(rest)
	if err != nil {
		return Reference{}, ErrInvalidReference{Source: s, Reason: err.Error()}
	}
	return Reference{Kind: KindSemver, Version: v}, nil
}

func parseFile(s string) (Reference, error) {
	path := strings.TrimPrefix(s, "file:")
	if strings.HasSuffix(path, ".tgz") || strings.HasSuffix(path, ".tar.gz") {
		return Reference{Kind: KindTarball, Path: path}, nil
	}
	return Reference{Kind: KindFolder, Path: path}, nil
}

func parseWorkspace(s string) (Reference, error) {
	rest := strings.TrimPrefix(s, "workspace:")
	// structural-shape disambiguation: a leading "." or "/" names a path;
	// anything else names a workspace ident (longer literal prefix wins per
	// §4.A, but "workspace:" itself is already the longest common prefix, so
	// we fall back to shape).
	if strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, "/") || rest == "*" || rest == "^" || rest == "~" {
		return Reference{Kind: KindWorkspace, Path: rest}, nil
	}
	id, err := ident.Parse(rest)
	if err != nil {
		// Not a valid ident either (e.g. a bare relative path like
		// "packages/x" with no leading "./"): treat it as a path rather
		// than failing the round-trip.
		return Reference{Kind: KindWorkspace, Path: rest}, nil
	}
	return Reference{Kind: KindWorkspace, WorkspaceIdent: id}, nil
}

func parsePatch(s string) (Reference, error) {
	rest := strings.TrimPrefix(s, "patch:")
	i := strings.LastIndex(rest, "#")
	if i < 0 {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "missing '#<patch-path>'"}
	}
	innerEncoded, patchPath := rest[:i], rest[i+1:]
	innerRaw, err := url.QueryUnescape(innerEncoded)
	if err != nil {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "bad inner locator encoding"}
	}
	inner, err := ParseReference(innerRaw)
	if err != nil {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "bad inner locator: " + err.Error()}
	}
	return Reference{Kind: KindPatch, PatchInner: inner, PatchPath: patchPath}, nil
}

func parseVirtual(s string) (Reference, error) {
	rest := strings.TrimPrefix(s, "virtual:")
	i := strings.LastIndex(rest, "#")
	if i < 0 {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "missing '#<hash>'"}
	}
	innerRaw, hash := rest[:i], rest[i+1:]
	if len(hash) != 64 || !isHex(hash) {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "hash is not 64 hex characters"}
	}
	inner, err := ParseReference(innerRaw)
	if err != nil {
		return Reference{}, ErrInvalidReference{Source: s, Reason: "bad inner reference: " + err.Error()}
	}
	return Reference{Kind: KindVirtual, VirtualInner: inner, VirtualHash: hash}, nil
}

func parseGit(s string) (Reference, error) {
	rest := strings.TrimPrefix(s, "git:")
	url, commit, prepare := rest, "", ""
	if i := strings.Index(rest, "#"); i >= 0 {
		url, prepare = rest[:i], rest[i+1:]
	}
	if looksLikeCommit(prepare) {
		commit = prepare
		prepare = ""
	}
	return Reference{Kind: KindGit, GitURL: url, GitCommit: commit, GitPrepare: prepare}, nil
}

func looksLikeCommit(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	return isHex(s)
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// String renders the canonical wire form of r.
func (r Reference) String() string {
	switch r.Kind {
	case KindSemver:
		return "npm:" + r.Version.String()
	case KindRegistry:
		return "npm:" + r.Ident.String() + "@" + r.Version.String()
	case KindTarball, KindFolder:
		return "file:" + r.Path
	case KindLink:
		return "link:" + r.Path
	case KindPortal:
		return "portal:" + r.Path
	case KindPatch:
		return "patch:" + url.QueryEscape(r.PatchInner.String()) + "#" + r.PatchPath
	case KindVirtual:
		return "virtual:" + r.VirtualInner.String() + "#" + r.VirtualHash
	case KindWorkspace:
		if r.Path != "" {
			return "workspace:" + r.Path
		}
		return "workspace:" + r.WorkspaceIdent.String()
	case KindGit:
		s := "git:" + r.GitURL
		if r.GitCommit != "" {
			s += "#" + r.GitCommit
		} else if r.GitPrepare != "" {
			s += "#" + r.GitPrepare
		}
		return s
	case KindURL:
		return r.Path
	default:
		return ""
	}
}
