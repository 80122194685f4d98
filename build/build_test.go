package build_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/build"
	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/peers"
	"github.com/corepm/corepm/semver"
)

func fixture(t *testing.T) *peers.Result {
	t.Helper()
	depSrc := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(depSrc, "package.json"), []byte(`{"name":"dep","version":"1.0.0"}`), 0o644))

	dep := locator.Locator{Ident: ident.MustParse("dep"), Reference: locator.Reference{Kind: locator.KindSemver, Version: semver.MustParse("1.0.0")}}
	root := locator.Locator{Ident: ident.MustParse("my-app"), Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."}}

	return &peers.Result{
		Roots: []locator.Locator{root},
		Nodes: map[string]*peers.Node{
			root.String(): {
				Locator: root, Physical: root,
				Manifest: manifest.Manifest{Name: "my-app"},
				Edges:    map[ident.Ident]locator.Locator{ident.MustParse("dep"): dep},
			},
			dep.String(): {
				Locator: dep, Physical: dep,
				Manifest: manifest.Manifest{
					Name:    "dep",
					Scripts: map[string]string{"install": "touch built.txt"},
				},
				Checksum:  "abc123",
				Synthetic: true,
				LocalPath: depSrc,
			},
		},
	}
}

func buildTreeFor(t *testing.T, result *peers.Result, projectRoot string) *hoist.Tree {
	t.Helper()
	tree, err := hoist.Build(result)
	require.NoError(t, err)
	tree.Hoist()
	require.NoError(t, hoist.Commit(tree, projectRoot))
	return tree
}

func TestPlanOrdersDependencyBeforeDependent(t *testing.T) {
	result := fixture(t)
	plan := build.Plan(result)
	require.Len(t, plan, 2)
	require.Equal(t, "dep", plan[0].Locator.Ident.Name())
	require.Equal(t, "my-app", plan[1].Locator.Ident.Name())
}

func TestInputHashStableAndSensitiveToInputs(t *testing.T) {
	h1 := build.InputHash("checksum", []string{"install"}, "node-modules")
	h2 := build.InputHash("checksum", []string{"install"}, "node-modules")
	require.Equal(t, h1, h2)

	h3 := build.InputHash("checksum", []string{"install"}, "pnp")
	require.NotEqual(t, h1, h3)
}

func TestRunSkipsWhenPlatformIncompatible(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only fixture")
	}
	result := fixture(t)
	dep := result.Nodes["dep@npm:1.0.0"]
	require.NotNil(t, dep)
	dep.Manifest.OS = []string{"!" + runtime.GOOS}

	projectRoot := t.TempDir()
	tree := buildTreeFor(t, result, projectRoot)

	results, err := build.Run(context.Background(), result, tree, projectRoot, filepath.Join(projectRoot, ".yarn/build-state"), "node-modules")
	require.NoError(t, err)
	require.Empty(t, results, "an incompatible package's scripts must not run")
}

func TestRunExecutesAndSkipsOnSecondPass(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only fixture")
	}
	result := fixture(t)
	projectRoot := t.TempDir()
	tree := buildTreeFor(t, result, projectRoot)
	statePath := filepath.Join(projectRoot, ".yarn/build-state")

	results, err := build.Run(context.Background(), result, tree, projectRoot, statePath, "node-modules")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Skipped)

	depID, ok := tree.Locate(result.Nodes["dep@npm:1.0.0"].Locator)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(projectRoot, tree.Path(depID), "built.txt"))
	require.NoError(t, err, "the install script should have run inside the package's own directory")

	results, err = build.Run(context.Background(), result, tree, projectRoot, statePath, "node-modules")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Skipped, "an unchanged build-state hash should skip re-running the scripts")
}
