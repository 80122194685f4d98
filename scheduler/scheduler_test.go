package scheduler_test

import (
	"context"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/cache"
	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/internal/fakeregistry"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/protocol"
	_ "github.com/corepm/corepm/protocol/registry"
	"github.com/corepm/corepm/scheduler"
)

func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 1
	return c
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	entries := make([]formats.Entry, 0, len(files))
	for name, content := range files {
		entries = append(entries, formats.Entry{Name: name, Mode: 0o644, Body: []byte(content)})
	}
	data, err := formats.WriteTarGz(entries)
	require.NoError(t, err)
	return data
}

func TestInstallResolvesTransitiveRegistryDependencies(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("left-pad", "1.3.0", map[string]any{
		"name": "left-pad", "version": "1.3.0",
		"dependencies": map[string]any{"right-pad": "^2.0.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"left-pad","version":"1.3.0","dependencies":{"right-pad":"^2.0.0"}}`,
	}))
	reg.PublishVersion("right-pad", "2.1.0", map[string]any{
		"name": "right-pad", "version": "2.1.0",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"right-pad","version":"2.1.0"}`,
	}))

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c, HTTPClient: newHTTPClient(), Registry: reg.URL()}

	s := scheduler.New(pc, scheduler.Config{Concurrency: 4})

	rootLoc := locator.Locator{
		Ident:     ident.MustParse("my-app"),
		Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."},
	}
	rootManifest := manifest.Manifest{
		Name: "my-app",
		Dependencies: map[string]string{
			"left-pad": "^1.0.0",
		},
	}

	tree, err := s.Install(context.Background(), []scheduler.RootInput{
		{Locator: rootLoc, Manifest: rootManifest},
	})
	require.NoError(t, err)

	require.Contains(t, tree.Resolutions, rootLoc.String())

	var leftPad, rightPad *scheduler.Resolution
	for _, res := range tree.Resolutions {
		res := res
		switch res.Locator.Ident.Name() {
		case "left-pad":
			leftPad = &res
		case "right-pad":
			rightPad = &res
		}
	}
	require.NotNil(t, leftPad)
	require.Equal(t, "1.3.0", leftPad.Locator.Reference.Version.String())
	require.NotNil(t, rightPad)
	require.Equal(t, "2.1.0", rightPad.Locator.Reference.Version.String())
}

func TestInstallDeduplicatesDiamondDependency(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("shared", "1.0.0", map[string]any{}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"shared","version":"1.0.0"}`,
	}))
	reg.PublishVersion("a", "1.0.0", map[string]any{}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"a","version":"1.0.0","dependencies":{"shared":"^1.0.0"}}`,
	}))
	reg.PublishVersion("b", "1.0.0", map[string]any{}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"b","version":"1.0.0","dependencies":{"shared":"^1.0.0"}}`,
	}))

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c, HTTPClient: newHTTPClient(), Registry: reg.URL()}
	s := scheduler.New(pc, scheduler.Config{Concurrency: 4})

	rootLoc := locator.Locator{
		Ident:     ident.MustParse("my-app"),
		Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."},
	}
	rootManifest := manifest.Manifest{
		Dependencies: map[string]string{"a": "^1.0.0", "b": "^1.0.0"},
	}

	tree, err := s.Install(context.Background(), []scheduler.RootInput{
		{Locator: rootLoc, Manifest: rootManifest},
	})
	require.NoError(t, err)

	sharedCount := 0
	for _, res := range tree.Resolutions {
		if res.Locator.Ident.Name() == "shared" {
			sharedCount++
		}
	}
	require.Equal(t, 1, sharedCount)
}
