package hoist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/corepm/corepm/formats"
)

// sentinelName records the checksum a directory was last materialized from,
// so a later Diff can recognize unchanged content without re-reading or
// re-extracting the archive (§4.J "an existing directory whose content
// matches... is left untouched").
const sentinelName = ".corepm-checksum"

// isRoot reports whether id is one of the tree's workspace-project roots, as
// opposed to an ordinary dependency node that happens to sit directly under
// the super-root after maximal hoisting.
func isRoot(t *Tree, id NodeID) bool {
	for _, r := range t.Roots {
		if r == id {
			return true
		}
	}
	return false
}

// workspacePath renders a workspace-root node's own project path, relative
// to projectRoot: the directory that holds every workspace project. Falls
// back to the node's dependency ident when the root locator carries no
// explicit path, which only the primary (non-workspace) project's root ever
// does.
func workspacePath(t *Tree, id NodeID) string {
	n := t.Nodes[id]
	if n.Locator.Reference.Path != "" {
		return filepath.FromSlash(n.Locator.Reference.Path)
	}
	return n.DependencyIdent.Slug()
}

// Path renders id's on-disk location relative to projectRoot. A workspace
// root renders as its own project path; every other node renders as a
// "node_modules/<slug>" segment appended under its parent's path, following
// the parent chain up to either a workspace root or the super-root itself
// (the shared top-level node_modules every project can hoist into).
func (t *Tree) Path(id NodeID) string {
	if id == t.SuperRoot() {
		return ""
	}

	var segments []string
	for cur := id; ; cur = t.Nodes[cur].Parent {
		if isRoot(t, cur) {
			segments = append([]string{workspacePath(t, cur)}, segments...)
			break
		}
		n := t.Nodes[cur]
		segments = append([]string{"node_modules", n.DependencyIdent.Slug()}, segments...)
		if n.Parent == t.SuperRoot() {
			break
		}
	}
	return filepath.Join(segments...)
}

// nodeModulesDirFor returns the node_modules directory dest itself lives in.
func nodeModulesDirFor(dest string) string {
	return filepath.Dir(dest)
}

// Materialize writes id's package contents to dest: a symlink to LocalPath
// for a synthetic (workspace/portal/link) entry, or the cached archive's
// contents extracted in place otherwise (§4.J step 4). A synthetic node's
// LocalPath is recorded relative to projectRoot (every protocol.FetchResult
// that produces one joins against the requesting project's own directory,
// never against the eventual symlink's location), so it is resolved against
// projectRoot before use: os.Symlink leaves a relative target to be resolved
// at dereference time relative to the symlink file's own directory, which is
// almost never projectRoot.
func (t *Tree) Materialize(id NodeID, dest, projectRoot string) error {
	n := t.Nodes[id]
	if n.Synthetic {
		source := n.LocalPath
		if !filepath.IsAbs(source) {
			source = filepath.Join(projectRoot, source)
		}
		return symlinkInto(dest, source)
	}
	if n.ArchivePath == "" {
		return fmt.Errorf("hoist: %s has no archive to extract", n.Locator)
	}

	data, err := os.ReadFile(n.ArchivePath)
	if err != nil {
		return fmt.Errorf("hoist: reading archive for %s: %w", n.Locator, err)
	}
	entries, err := formats.ReadZip(data)
	if err != nil {
		return fmt.Errorf("hoist: reading archive for %s: %w", n.Locator, err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	slug := n.Physical.Ident.Slug()
	for _, e := range entries {
		rel, ok := packageRelativeName(e.Name, slug)
		if !ok {
			continue
		}
		target, err := securejoin.SecureJoin(dest, rel)
		if err != nil {
			return fmt.Errorf("hoist: unsafe entry path %q in %s: %w", e.Name, n.Locator, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if e.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(target, e.Body, mode); err != nil {
			return err
		}
	}

	if n.Checksum != "" {
		sentinel, err := securejoin.SecureJoin(dest, sentinelName)
		if err == nil {
			_ = os.WriteFile(sentinel, []byte(n.Checksum), 0o644)
		}
	}
	return nil
}

// packageRelativeName strips the "node_modules/<identSlug>/" prefix every
// cached archive entry carries, returning the path relative to the
// package's own directory.
func packageRelativeName(entryName, identSlug string) (string, bool) {
	prefix := "node_modules/" + identSlug + "/"
	if len(entryName) <= len(prefix) || entryName[:len(prefix)] != prefix {
		return "", false
	}
	return entryName[len(prefix):], true
}

func symlinkInto(dest, source string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(dest); err == nil {
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
	}
	return os.Symlink(source, dest)
}

func matchesExisting(dest string, n Node) bool {
	if n.Synthetic || n.Checksum == "" {
		return false
	}
	sentinel, err := securejoin.SecureJoin(dest, sentinelName)
	if err != nil {
		return false
	}
	got, err := os.ReadFile(sentinel)
	if err != nil {
		return false
	}
	return string(got) == n.Checksum
}

// OpKind distinguishes the three directory operations a commit can issue.
type OpKind int

const (
	OpDelete OpKind = iota
	OpCreate
	OpUpdate
)

// Op is one directory operation produced by Diff.
type Op struct {
	Kind OpKind
	Path string // absolute filesystem path
	Node NodeID // valid for OpCreate and OpUpdate
}

// Diff walks t's desired layout against the existing node_modules
// directories under projectRoot and returns the minimal set of operations
// needed to bring the latter in line with the former: deletions are ordered
// before creations and updates, and a destination whose checksum sentinel
// already matches its node is omitted entirely (§4.J "Commit stage").
func Diff(t *Tree, projectRoot string) ([]Op, error) {
	desired := map[string]NodeID{}
	nmDirs := map[string]bool{}
	for i := range t.Nodes {
		id := NodeID(i)
		if id == t.SuperRoot() || isRoot(t, id) {
			continue
		}
		dest := filepath.Join(projectRoot, t.Path(id))
		desired[dest] = id
		nmDirs[nodeModulesDirFor(dest)] = true
	}

	existing := map[string]bool{}
	for dir := range nmDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.Name() == ".bin" {
				continue
			}
			existing[filepath.Join(dir, e.Name())] = true
		}
	}

	var deletes []Op
	for path := range existing {
		if _, ok := desired[path]; !ok {
			deletes = append(deletes, Op{Kind: OpDelete, Path: path})
		}
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Path < deletes[j].Path })

	var upserts []Op
	for path, id := range desired {
		n := t.Nodes[id]
		if matchesExisting(path, n) {
			continue
		}
		kind := OpCreate
		if existing[path] {
			kind = OpUpdate
		}
		upserts = append(upserts, Op{Kind: kind, Path: path, Node: id})
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].Path < upserts[j].Path })

	return append(deletes, upserts...), nil
}

// Apply executes ops against disk, in order (deletions first). projectRoot
// resolves any synthetic node's relative LocalPath (see Materialize).
func (t *Tree) Apply(ops []Op, projectRoot string) error {
	for _, op := range ops {
		switch op.Kind {
		case OpDelete:
			if err := os.RemoveAll(op.Path); err != nil {
				return fmt.Errorf("hoist: removing %s: %w", op.Path, err)
			}
		case OpCreate, OpUpdate:
			if err := os.RemoveAll(op.Path); err != nil {
				return err
			}
			if err := t.Materialize(op.Node, op.Path, projectRoot); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit runs Diff, Apply, and BinLink in sequence: the full §4.J "convert
// the packing tree to directory operations" stage.
func Commit(t *Tree, projectRoot string) error {
	ops, err := Diff(t, projectRoot)
	if err != nil {
		return err
	}
	if err := t.Apply(ops, projectRoot); err != nil {
		return err
	}
	return BinLink(t, projectRoot)
}

// BinLink writes a .bin/<name> symlink for every bin script declared across
// the tree into the nearest .bin/ directory, following each manifest's bin
// map in bin-name order for deterministic output (§4.J "Bin-link pass").
func BinLink(t *Tree, projectRoot string) error {
	for i := range t.Nodes {
		id := NodeID(i)
		if id == t.SuperRoot() {
			continue
		}
		n := t.Nodes[id]
		if len(n.Manifest.Bin) == 0 {
			continue
		}

		dest := filepath.Join(projectRoot, t.Path(id))
		var binDir string
		if isRoot(t, id) {
			binDir = filepath.Join(projectRoot, "node_modules", ".bin")
		} else {
			binDir = filepath.Join(nodeModulesDirFor(dest), ".bin")
		}
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			return err
		}

		names := make([]string, 0, len(n.Manifest.Bin))
		for name := range n.Manifest.Bin {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			target, err := securejoin.SecureJoin(dest, filepath.FromSlash(n.Manifest.Bin[name]))
			if err != nil {
				return fmt.Errorf("hoist: unsafe bin path for %s: %w", name, err)
			}
			if err := os.Chmod(target, 0o755); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("hoist: marking %s executable: %w", target, err)
			}

			link := filepath.Join(binDir, name)
			_ = os.Remove(link)
			relTarget, err := filepath.Rel(binDir, target)
			if err != nil {
				relTarget = target
			}
			if err := os.Symlink(relTarget, link); err != nil {
				return fmt.Errorf("hoist: linking bin %s: %w", name, err)
			}
		}
	}
	return nil
}
