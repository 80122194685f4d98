package fakeregistry

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryServesMetadataAndTarball(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	reg.PublishVersion("left-pad", "1.3.0", map[string]any{
		"name":    "left-pad",
		"version": "1.3.0",
	}, []byte("fake-tarball-bytes"))

	resp, err := http.Get(reg.URL() + "/left-pad")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(reg.URL() + "/left-pad/-/left-pad-1.3.0.tgz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	require.Equal(t, "fake-tarball-bytes", string(body))
}

func TestRegistryScopedPackage(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	reg.PublishVersion("@scope/pkg", "2.0.0", map[string]any{}, []byte("scoped-bytes"))

	resp, err := http.Get(reg.URL() + "/@scope/pkg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(reg.URL() + "/@scope/pkg/-/pkg-2.0.0.tgz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRegistryUnknownPackage404s(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	resp, err := http.Get(reg.URL() + "/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGitRemoteCommitAndTag(t *testing.T) {
	dir := t.TempDir()
	remote, err := NewGitRemote(dir, map[string]string{
		"package.json": `{"name":"gitpkg","version":"1.0.0"}`,
	}, []string{"v1.0.0"})
	require.NoError(t, err)
	require.Equal(t, dir, remote.URL())

	hash, err := remote.Commit(map[string]string{
		"package.json": `{"name":"gitpkg","version":"1.1.0"}`,
	}, "bump version")
	require.NoError(t, err)
	require.False(t, hash.IsZero())
}
