package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/config"
	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/internal/fakeregistry"
	"github.com/corepm/corepm/workspace"

	_ "github.com/corepm/corepm/protocol/registry"
)

func mustTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	entries := make([]formats.Entry, 0, len(files))
	for name, content := range files {
		entries = append(entries, formats.Entry{Name: name, Mode: 0o644, Body: []byte(content)})
	}
	data, err := formats.WriteTarGz(entries)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverExpandsWorkspaceGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name":"my-app","workspaces":["packages/*"]}`)
	writeFile(t, filepath.Join(root, "packages/a/package.json"), `{"name":"a","version":"1.0.0"}`)
	writeFile(t, filepath.Join(root, "packages/b/package.json"), `{"name":"b","version":"1.0.0"}`)
	// a non-package directory matching the glob must be skipped, not error.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages/empty"), 0o755))

	project, err := workspace.Discover(root)
	require.NoError(t, err)
	require.Equal(t, "my-app", project.Root.Ident.String())
	require.Len(t, project.Members, 2)
	require.Equal(t, "packages/a", project.Members[0].Dir)
	require.Equal(t, "packages/b", project.Members[1].Dir)

	dirs := project.WorkspaceDirs()
	require.Equal(t, ".", dirs[project.Root.Ident])
	require.Equal(t, "packages/a", dirs[project.Members[0].Ident])
}

func buildTarGzFile(t *testing.T, name, content string) []byte {
	t.Helper()
	return mustTarGz(t, map[string]string{name: content})
}

func TestInstallResolvesWorkspaceMemberAndRegistryDependency(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()
	reg.PublishVersion("left-pad", "1.3.0", map[string]any{"name": "left-pad", "version": "1.3.0"},
		buildTarGzFile(t, "package/package.json", `{"name":"left-pad","version":"1.3.0"}`))

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"),
		`{"name":"my-app","workspaces":["packages/*"],"dependencies":{"a":"workspace:*"}}`)
	writeFile(t, filepath.Join(root, "packages/a/package.json"),
		`{"name":"a","version":"1.0.0","dependencies":{"left-pad":"^1.0.0"}}`)

	cfg := config.Default()
	cfg.Registry = reg.URL()
	cfg.CacheFolder = ".yarn/cache"

	result, err := workspace.Install(context.Background(), root, workspace.Options{Config: cfg})
	require.NoError(t, err)
	require.Len(t, result.Builds, 0)

	_, err = os.Stat(filepath.Join(root, "node_modules/left-pad/package.json"))
	require.NoError(t, err, "left-pad must be hoisted into the shared node_modules")

	link, err := os.Readlink(filepath.Join(root, "node_modules/a"))
	require.NoError(t, err)
	require.Contains(t, link, "packages/a")

	lockData, err := os.ReadFile(filepath.Join(root, "yarn.lock"))
	require.NoError(t, err)
	require.Contains(t, string(lockData), "left-pad@npm:left-pad@1.3.0")
}

func TestInstallImmutableRejectsLockfileDrift(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()
	reg.PublishVersion("left-pad", "1.3.0", map[string]any{"name": "left-pad", "version": "1.3.0"},
		buildTarGzFile(t, "package/package.json", `{"name":"left-pad","version":"1.3.0"}`))

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name":"my-app","dependencies":{"left-pad":"^1.0.0"}}`)

	cfg := config.Default()
	cfg.Registry = reg.URL()
	cfg.EnableImmutableInstalls = true

	_, err := workspace.Install(context.Background(), root, workspace.Options{Config: cfg})
	require.Error(t, err, "an immutable install with no existing lockfile must fail")

	cfg.EnableImmutableInstalls = false
	_, err = workspace.Install(context.Background(), root, workspace.Options{Config: cfg})
	require.NoError(t, err)

	cfg.EnableImmutableInstalls = true
	_, err = workspace.Install(context.Background(), root, workspace.Options{Config: cfg})
	require.NoError(t, err, "re-running against the now-committed lockfile must succeed")
}
