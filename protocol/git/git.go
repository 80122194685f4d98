// Package git implements the "git:" protocol: clone (or fetch into a
// scratch worktree), pin a concrete commit per the requested treeish, and
// snapshot the resulting tree into a normalized archive (§4.F). Treeish
// interpretation follows the query-string grammar of the original
// zpm-git range parser: "#<commit-sha>" (bare, already recognized by
// locator.ParseReference), "#head=<ref>", "#commit=<sha>",
// "#semver=<range>" (matched against tags), "#tag=<name>", or a bare
// "#<anything>" treeish passed straight to go-git's revision resolver.
package git

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
	"github.com/corepm/corepm/semver"
)

// Protocol implements protocol.Protocol for KindGit references.
type Protocol struct{}

// New returns a git Protocol.
func New() *Protocol { return &Protocol{} }

// Resolve clones the repository into a scratch worktree (a full clone with
// all tags; no shallow clone is made), interprets GitPrepare into a concrete
// commit, and records that commit on the Reference so Fetch never needs to
// touch the network again (§4.F "fetch is required before resolve can
// complete" — resolution IS the clone for git dependencies).
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	ref, err := locator.ParseReference(protocol.NormalizeDependencyValue(req.Raw))
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("git: %w", err)
	}
	if ref.Kind != locator.KindGit {
		return protocol.ResolveResult{}, fmt.Errorf("git: %q is not a git reference", req.Raw)
	}

	if ref.GitCommit == "" {
		dir, err := os.MkdirTemp("", "corepm-git-resolve-*")
		if err != nil {
			return protocol.ResolveResult{}, err
		}
		defer os.RemoveAll(dir)

		repo, err := cloneInto(ctx, dir, ref.GitURL)
		if err != nil {
			return protocol.ResolveResult{}, err
		}
		commit, err := pinTreeish(repo, ref.GitPrepare)
		if err != nil {
			return protocol.ResolveResult{}, fmt.Errorf("git: resolving %s: %w", req.Raw, err)
		}
		ref.GitCommit = commit
	}

	id, err := resolveIdent(req, ref)
	if err != nil {
		return protocol.ResolveResult{}, err
	}
	loc := locator.Locator{Ident: id, Reference: ref, Parent: req.Parent}
	return protocol.ResolveResult{Locator: loc}, nil
}

// resolveIdent prefers the dependency key's own ident; a bare "git:<url>"
// dependency (no manifest key context, e.g. direct CLI add) falls back to
// deriving one from the repository path, same shape npm's git resolver uses
// when a package.json lacks a "name" field until the manifest is fetched.
func resolveIdent(req protocol.Request, ref locator.Reference) (ident.Ident, error) {
	if req.Ident != (ident.Ident{}) {
		return req.Ident, nil
	}
	return ident.Parse(repoSlugFromURL(ref.GitURL))
}

func repoSlugFromURL(gitURL string) string {
	u := strings.TrimSuffix(gitURL, ".git")
	parts := strings.Split(u, "/")
	return parts[len(parts)-1]
}

// Fetch re-clones (Resolve's scratch clone is never retained) pinned at the
// resolved commit and snapshots the tree, excluding .git, into the cache —
// the same normalize-and-zip shape every archived protocol uses.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	ref := loc.Reference
	if ref.GitCommit == "" {
		return protocol.FetchResult{}, fmt.Errorf("git: %s has no pinned commit; must be resolved first", loc)
	}

	entry, err := pc.Cache.EnsureBlob(ctx, loc, "zip", func(ctx context.Context) ([]byte, error) {
		dir, err := os.MkdirTemp("", "corepm-git-fetch-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)

		repo, err := cloneInto(ctx, dir, ref.GitURL)
		if err != nil {
			return nil, err
		}
		wt, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref.GitCommit)}); err != nil {
			return nil, fmt.Errorf("git: checking out %s: %w", ref.GitCommit, err)
		}

		entries, err := snapshot(dir)
		if err != nil {
			return nil, err
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

func cloneInto(ctx context.Context, dir, gitURL string) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  gitURL,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("git: cloning %s: %w", gitURL, err)
	}
	return repo, nil
}

// pinTreeish interprets a GitPrepare string against the checked-out
// repository, mirroring zpm-git's GitTreeish variants: Head, Commit,
// Semver(Range), Tag, and a bare AnythingGoes revision string.
func pinTreeish(repo *git.Repository, prepare string) (string, error) {
	if prepare == "" {
		return headCommit(repo)
	}
	if !strings.Contains(prepare, "=") {
		return revisionCommit(repo, prepare)
	}

	values, err := url.ParseQuery(prepare)
	if err != nil {
		return "", fmt.Errorf("parsing treeish params %q: %w", prepare, err)
	}

	if v := values.Get("commit"); v != "" {
		return revisionCommit(repo, v)
	}
	if v := values.Get("tag"); v != "" {
		return revisionCommit(repo, "refs/tags/"+v)
	}
	if v := values.Get("head"); v != "" {
		return revisionCommit(repo, v)
	}
	if v := values.Get("semver"); v != "" {
		return semverTagCommit(repo, v)
	}
	return headCommit(repo)
}

func headCommit(repo *git.Repository) (string, error) {
	h, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return h.Hash().String(), nil
}

func revisionCommit(repo *git.Repository, rev string) (string, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	return h.String(), nil
}

// semverTagCommit finds the highest tag name parseable as a semver version
// satisfying rangeSpec, stripping a leading "v" the way npm's git resolver
// does when matching tags against a dependency range.
func semverTagCommit(repo *git.Repository, rangeSpec string) (string, error) {
	rng, err := semver.ParseRange(rangeSpec)
	if err != nil {
		return "", fmt.Errorf("parsing semver treeish %q: %w", rangeSpec, err)
	}

	tagRefs, err := repo.Tags()
	if err != nil {
		return "", fmt.Errorf("listing tags: %w", err)
	}
	defer tagRefs.Close()

	type candidate struct {
		version semver.Version
		hash    plumbing.Hash
	}
	var candidates []candidate
	if err := tagRefs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		v, err := semver.Parse(strings.TrimPrefix(name, "v"))
		if err != nil {
			return nil
		}
		if !rng.Check(v) {
			return nil
		}
		hash := ref.Hash()
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			hash = tagObj.Target
		}
		candidates = append(candidates, candidate{version: v, hash: hash})
		return nil
	}); err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no tag satisfies %q", rangeSpec)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].version.Less(candidates[j].version) })
	return candidates[len(candidates)-1].hash.String(), nil
}

func snapshot(dir string) ([]formats.Entry, error) {
	var out []formats.Entry
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if rel == ".git" {
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

func init() {
	protocol.Register(locator.KindGit, New())
}
