package peers_test

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
	"github.com/corepm/corepm/peers"
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

func install(t *testing.T, reg *fakeregistry.Registry, rootDeps map[string]string) *scheduler.Tree {
	t.Helper()
	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c, HTTPClient: newHTTPClient(), Registry: reg.URL()}
	s := scheduler.New(pc, scheduler.Config{Concurrency: 4})

	rootLoc := locator.Locator{
		Ident:     ident.MustParse("my-app"),
		Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."},
	}
	rootManifest := manifest.Manifest{Name: "my-app", Dependencies: rootDeps}

	tree, err := s.Install(context.Background(), []scheduler.RootInput{
		{Locator: rootLoc, Manifest: rootManifest},
	})
	require.NoError(t, err)
	return tree
}

// widget declares react as a peer dependency; two different react versions
// sit in two different consumers (app-a, app-b), so widget must be
// virtualized into two distinct identities, one per consumer's react.
func TestPropagateVirtualizesDistinctPeerContexts(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("widget", "1.0.0", map[string]any{
		"name": "widget", "version": "1.0.0",
		"peerDependencies": map[string]any{"react": "^16.0.0 || ^17.0.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"widget","version":"1.0.0","peerDependencies":{"react":"^16.0.0 || ^17.0.0"}}`,
	}))
	reg.PublishVersion("react", "16.14.0", map[string]any{
		"name": "react", "version": "16.14.0",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"react","version":"16.14.0"}`,
	}))
	reg.PublishVersion("react", "17.0.2", map[string]any{
		"name": "react", "version": "17.0.2",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"react","version":"17.0.2"}`,
	}))
	reg.PublishVersion("app-a", "1.0.0", map[string]any{
		"name": "app-a", "version": "1.0.0",
		"dependencies": map[string]any{"widget": "^1.0.0", "react": "16.14.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"app-a","version":"1.0.0","dependencies":{"widget":"^1.0.0","react":"16.14.0"}}`,
	}))
	reg.PublishVersion("app-b", "1.0.0", map[string]any{
		"name": "app-b", "version": "1.0.0",
		"dependencies": map[string]any{"widget": "^1.0.0", "react": "17.0.2"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"app-b","version":"1.0.0","dependencies":{"widget":"^1.0.0","react":"17.0.2"}}`,
	}))

	tree := install(t, reg, map[string]string{"app-a": "^1.0.0", "app-b": "^1.0.0"})

	result, err := peers.Propagate(tree)
	require.NoError(t, err)

	var widgetLocs []locator.Locator
	for _, n := range result.Nodes {
		if n.Physical.Ident.Name() == "widget" {
			widgetLocs = append(widgetLocs, n.Locator)
		}
	}
	require.Len(t, widgetLocs, 2)
	require.NotEqual(t, widgetLocs[0].String(), widgetLocs[1].String())
	for _, loc := range widgetLocs {
		require.Equal(t, locator.KindVirtual, loc.Reference.Kind)
		require.Len(t, loc.Reference.VirtualHash, 64)
	}
}

// Two unrelated consumers depending on the exact same peer-providing sibling
// version must deduplicate to a single virtual identity for the shared
// peer-dependent package.
func TestPropagateDeduplicatesIdenticalPeerContexts(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("widget", "1.0.0", map[string]any{
		"name": "widget", "version": "1.0.0",
		"peerDependencies": map[string]any{"react": "^17.0.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"widget","version":"1.0.0","peerDependencies":{"react":"^17.0.0"}}`,
	}))
	reg.PublishVersion("react", "17.0.2", map[string]any{
		"name": "react", "version": "17.0.2",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"react","version":"17.0.2"}`,
	}))
	reg.PublishVersion("app-a", "1.0.0", map[string]any{
		"name": "app-a", "version": "1.0.0",
		"dependencies": map[string]any{"widget": "^1.0.0", "react": "17.0.2"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"app-a","version":"1.0.0","dependencies":{"widget":"^1.0.0","react":"17.0.2"}}`,
	}))
	reg.PublishVersion("app-b", "1.0.0", map[string]any{
		"name": "app-b", "version": "1.0.0",
		"dependencies": map[string]any{"widget": "^1.0.0", "react": "17.0.2"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"app-b","version":"1.0.0","dependencies":{"widget":"^1.0.0","react":"17.0.2"}}`,
	}))

	tree := install(t, reg, map[string]string{"app-a": "^1.0.0", "app-b": "^1.0.0"})

	result, err := peers.Propagate(tree)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, n := range result.Nodes {
		if n.Physical.Ident.Name() == "widget" {
			seen[n.Locator.String()] = true
		}
	}
	require.Len(t, seen, 1)
}

// §8 scenario 2: the peer-providing sibling is a root-level dependency
// itself, not nested under some other package. b's peer dependency on c must
// be satisfied by the root's own direct dependency on c, so b is virtualized
// against it rather than erroring as an unsatisfied peer.
func TestPropagateFindsPeerProvidedByRootSibling(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("c", "1.2.3", map[string]any{
		"name": "c", "version": "1.2.3",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"c","version":"1.2.3"}`,
	}))
	reg.PublishVersion("b", "1.0.0", map[string]any{
		"name": "b", "version": "1.0.0",
		"peerDependencies": map[string]any{"c": "^1.0.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"b","version":"1.0.0","peerDependencies":{"c":"^1.0.0"}}`,
	}))
	reg.PublishVersion("a", "1.0.0", map[string]any{
		"name": "a", "version": "1.0.0",
		"dependencies": map[string]any{"b": "^1.0.0"},
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"a","version":"1.0.0","dependencies":{"b":"^1.0.0"}}`,
	}))

	tree := install(t, reg, map[string]string{"a": "^1.0.0", "c": "1.2.3"})

	result, err := peers.Propagate(tree)
	require.NoError(t, err)

	var bFound bool
	for _, n := range result.Nodes {
		if n.Physical.Ident.Name() != "b" {
			continue
		}
		bFound = true
		require.Equal(t, locator.KindVirtual, n.Locator.Reference.Kind)
		cLoc, ok := n.ResolvedPeers[ident.MustParse("c")]
		require.True(t, ok, "b's peer on c should resolve via the root's own dependency on c")
		require.Equal(t, "1.2.3", cLoc.Reference.Version.String())
	}
	require.True(t, bFound, "expected a virtualized node for b")
}

// A package with no peerDependencies is never virtualized: its identity in
// the propagated tree is exactly its physical locator.
func TestPropagateLeavesPlainPackagesPhysical(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	reg.PublishVersion("left-pad", "1.3.0", map[string]any{
		"name": "left-pad", "version": "1.3.0",
	}, buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"left-pad","version":"1.3.0"}`,
	}))

	tree := install(t, reg, map[string]string{"left-pad": "^1.0.0"})

	result, err := peers.Propagate(tree)
	require.NoError(t, err)

	for _, n := range result.Nodes {
		if n.Physical.Ident.Name() == "left-pad" {
			require.True(t, n.Locator.Physical())
			require.Equal(t, n.Locator.String(), n.Physical.String())
		}
	}
}
