package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoaderLayering(t *testing.T) {
	dir := t.TempDir()
	projectRc := filepath.Join(dir, ".corepmrc.yml")
	require.NoError(t, os.WriteFile(projectRc, []byte("nodeLinker: pnp\n"), 0o644))

	loader := NewLoader()
	require.NoError(t, loader.AddFile(SourceProject, projectRc))

	cfg, sources, err := loader.Resolve()
	require.NoError(t, err)
	require.Equal(t, "pnp", cfg.NodeLinker)
	require.Equal(t, SourceProject, sources["nodeLinker"])
	require.Equal(t, SourceDefault, sources["cacheFolder"])
}

func TestEnvironmentOverridesProject(t *testing.T) {
	dir := t.TempDir()
	projectRc := filepath.Join(dir, ".corepmrc.yml")
	require.NoError(t, os.WriteFile(projectRc, []byte("enableImmutableInstalls: false\n"), 0o644))

	t.Setenv("COREPM_ENABLEIMMUTABLEINSTALLS", "true")

	loader := NewLoader()
	require.NoError(t, loader.AddFile(SourceProject, projectRc))
	cfg, sources, err := loader.Resolve()
	require.NoError(t, err)
	require.True(t, cfg.EnableImmutableInstalls)
	require.Equal(t, SourceEnvironment, sources["enableImmutableInstalls"])
}

func TestDiscoverDefaultsTsconfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte("{}"), 0o644))

	cfg := Default()
	DiscoverDefaults(&cfg, dir)
	require.NotNil(t, cfg.EnableAutoTypes)
	require.True(t, *cfg.EnableAutoTypes)
}
