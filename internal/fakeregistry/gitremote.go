package fakeregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitRemote is a local, non-bare repository usable as a "git:" locator
// target: go-git clones and fetches from its working directory path just as
// it would from a real remote, without needing a network transport.
type GitRemote struct {
	Dir  string
	repo *git.Repository
}

// NewGitRemote initializes a repository at dir, commits files (path ->
// content), and tags the resulting commit with each of tags.
func NewGitRemote(dir string, files map[string]string, tags []string) (*GitRemote, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init git remote at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, err
		}
		if _, err := wt.Add(name); err != nil {
			return nil, fmt.Errorf("staging %s: %w", name, err)
		}
	}

	sig := &object.Signature{Name: "corepm-test", Email: "test@corepm.invalid", When: time.Unix(0, 0)}
	commit, err := wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return nil, fmt.Errorf("committing fixture: %w", err)
	}

	for _, tag := range tags {
		if _, err := repo.CreateTag(tag, commit, &git.CreateTagOptions{Tagger: sig, Message: tag}); err != nil {
			return nil, fmt.Errorf("tagging %s: %w", tag, err)
		}
	}

	return &GitRemote{Dir: dir, repo: repo}, nil
}

// Commit adds a new commit with the given files (overlaid on the existing
// tree) and returns its hash, used by tests that pin a bare "#<commit>"
// reference or resolve a "#semver=" tag range.
func (g *GitRemote) Commit(files map[string]string, message string) (plumbing.Hash, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	for name, content := range files {
		full := filepath.Join(g.Dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return plumbing.ZeroHash, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return plumbing.ZeroHash, err
		}
		if _, err := wt.Add(name); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	sig := &object.Signature{Name: "corepm-test", Email: "test@corepm.invalid", When: time.Unix(0, 0)}
	return wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
}

// URL returns the remote's filesystem path; callers prefix it with "git:" to
// form a git reference that clones from that path.
func (g *GitRemote) URL() string { return g.Dir }
