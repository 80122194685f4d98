package git_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/cache"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/internal/fakeregistry"
	"github.com/corepm/corepm/protocol"
	protogit "github.com/corepm/corepm/protocol/git"
)

func TestGitResolveDefaultsToHead(t *testing.T) {
	remote, err := fakeregistry.NewGitRemote(t.TempDir(), map[string]string{
		"package.json": `{"name":"left-pad","version":"1.0.0"}`,
	}, nil)
	require.NoError(t, err)

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c}

	p := protogit.New()
	req := protocol.Request{Ident: ident.MustParse("left-pad"), Raw: "git:" + remote.URL()}
	result, err := p.Resolve(context.Background(), pc, req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Locator.Reference.GitCommit)
}

func TestGitResolveSemverTagAndFetchSnapshots(t *testing.T) {
	remote, err := fakeregistry.NewGitRemote(t.TempDir(), map[string]string{
		"package.json": `{"name":"left-pad","version":"1.0.0"}`,
		"index.js":     "module.exports = {}",
	}, []string{"v1.0.0"})
	require.NoError(t, err)

	_, err = remote.Commit(map[string]string{
		"package.json": `{"name":"left-pad","version":"2.0.0"}`,
	}, "bump to 2.0.0")
	require.NoError(t, err)

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c}

	p := protogit.New()
	req := protocol.Request{
		Ident: ident.MustParse("left-pad"),
		Raw:   "git:" + remote.URL() + "#semver=^1.0.0",
	}
	result, err := p.Resolve(context.Background(), pc, req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Locator.Reference.GitCommit)

	fetchRes, err := p.Fetch(context.Background(), pc, result.Locator)
	require.NoError(t, err)
	require.NotEmpty(t, fetchRes.ArchivePath)
	require.Contains(t, string(fetchRes.ManifestData), `"1.0.0"`)
}

func TestGitResolveExplicitCommit(t *testing.T) {
	remote, err := fakeregistry.NewGitRemote(t.TempDir(), map[string]string{
		"package.json": `{"name":"left-pad","version":"1.0.0"}`,
	}, nil)
	require.NoError(t, err)

	second, err := remote.Commit(map[string]string{
		"package.json": `{"name":"left-pad","version":"1.1.0"}`,
	}, "bump")
	require.NoError(t, err)

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c}

	p := protogit.New()
	req := protocol.Request{
		Ident: ident.MustParse("left-pad"),
		Raw:   "git:" + remote.URL() + "#" + second.String(),
	}
	result, err := p.Resolve(context.Background(), pc, req)
	require.NoError(t, err)
	require.Equal(t, second.String(), result.Locator.Reference.GitCommit)
}
