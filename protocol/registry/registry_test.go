package registry_test

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
	"github.com/corepm/corepm/protocol"
	protoregistry "github.com/corepm/corepm/protocol/registry"
	"github.com/corepm/corepm/semver"
)

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

func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 1
	return c
}

func TestRegistryResolvePicksHighestSatisfying(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()
	reg.PublishVersion("left-pad", "1.2.0", map[string]any{}, []byte("v1"))
	reg.PublishVersion("left-pad", "1.3.0", map[string]any{}, []byte("v2"))
	reg.PublishVersion("left-pad", "2.0.0", map[string]any{}, []byte("v3"))

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c, HTTPClient: newHTTPClient(), Registry: reg.URL()}

	p := protoregistry.New()
	req := protocol.Request{Ident: ident.MustParse("left-pad"), Raw: "^1.0.0"}
	result, err := p.Resolve(context.Background(), pc, req)
	require.NoError(t, err)
	require.Equal(t, "1.3.0", result.Locator.Reference.Version.String())
}

func TestRegistryFetchNormalizesAndCaches(t *testing.T) {
	reg := fakeregistry.NewRegistry()
	defer reg.Close()

	tgz := buildTarGz(t, map[string]string{
		"package/package.json": `{"name":"left-pad","version":"1.3.0","dependencies":{}}`,
		"package/index.js":     "module.exports = {}",
	})
	reg.PublishVersion("left-pad", "1.3.0", map[string]any{}, tgz)

	c, err := cache.New(t.TempDir(), false)
	require.NoError(t, err)
	pc := &protocol.Context{Cache: c, HTTPClient: newHTTPClient(), Registry: reg.URL()}

	p := protoregistry.New()
	loc := locator.Locator{
		Ident:     ident.MustParse("left-pad"),
		Reference: locator.Reference{Kind: locator.KindRegistry, Ident: ident.MustParse("left-pad"), Version: semver.MustParse("1.3.0")},
	}
	res, err := p.Fetch(context.Background(), pc, loc)
	require.NoError(t, err)
	require.NotEmpty(t, res.ArchivePath)
	require.Contains(t, string(res.ManifestData), `"left-pad"`)
}
