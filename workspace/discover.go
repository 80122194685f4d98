// Package workspace implements §4.M: root project discovery, workspace
// member enumeration, and the top-level orchestration that wires the
// scheduler, peer propagation, linker, build scheduler, and lockfile into
// one install operation, grounded on the teacher's top-level registry
// package (storage/auth/handlers assembled into one served object).
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/manifest"
)

// Member is one workspace project: the root itself (Dir ".") or one of the
// projects its manifest's "workspaces" globs expand to.
type Member struct {
	Ident    ident.Ident
	Dir      string // project-root-relative, "." for the root itself
	Manifest manifest.Manifest
}

// Project is a discovered, fully enumerated workspace.
type Project struct {
	RootDir string
	Root    Member
	Members []Member
}

// All returns the root followed by every member, in a stable order.
func (p *Project) All() []Member {
	out := make([]Member, 0, len(p.Members)+1)
	out = append(out, p.Root)
	out = append(out, p.Members...)
	return out
}

// WorkspaceDirs maps every project's own ident to its project-relative
// directory, the table protocol/workspace consults to fetch a "workspace:"
// dependency value.
func (p *Project) WorkspaceDirs() map[ident.Ident]string {
	out := make(map[ident.Ident]string, len(p.Members)+1)
	for _, m := range p.All() {
		out[m.Ident] = m.Dir
	}
	return out
}

// Discover reads rootDir's package.json and expands its "workspaces" globs
// (§4.M) against the filesystem, skipping any match that isn't a directory
// containing its own package.json.
func Discover(rootDir string) (*Project, error) {
	rootManifest, err := readManifest(rootDir, ".")
	if err != nil {
		return nil, fmt.Errorf("workspace: reading root manifest: %w", err)
	}
	rootIdent, err := identFor(rootManifest, ".")
	if err != nil {
		return nil, err
	}

	proj := &Project{RootDir: rootDir, Root: Member{Ident: rootIdent, Dir: ".", Manifest: rootManifest}}

	fsys := os.DirFS(rootDir)
	seen := map[string]bool{}
	for _, pattern := range rootManifest.Workspaces {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("workspace: invalid glob %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true

			info, err := fs.Stat(fsys, rel)
			if err != nil || !info.IsDir() {
				continue
			}
			m, err := readManifest(rootDir, rel)
			if os.IsNotExist(err) {
				continue // a glob match with no package.json isn't a workspace project
			}
			if err != nil {
				return nil, fmt.Errorf("workspace: reading %s: %w", rel, err)
			}
			id, err := identFor(m, rel)
			if err != nil {
				return nil, err
			}
			proj.Members = append(proj.Members, Member{Ident: id, Dir: rel, Manifest: m})
		}
	}
	sort.Slice(proj.Members, func(i, j int) bool { return proj.Members[i].Dir < proj.Members[j].Dir })
	return proj, nil
}

func readManifest(rootDir, rel string) (manifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(rootDir, rel, "package.json"))
	if err != nil {
		return manifest.Manifest{}, err
	}
	return manifest.Parse(data)
}

func identFor(m manifest.Manifest, rel string) (ident.Ident, error) {
	if m.Name == "" {
		return ident.Ident{}, fmt.Errorf("workspace: %s has no \"name\"", rel)
	}
	id, err := ident.Parse(m.Name)
	if err != nil {
		return ident.Ident{}, fmt.Errorf("workspace: %s: %w", rel, err)
	}
	return id, nil
}
