package manifest

import (
	"testing"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/semver"
	"github.com/stretchr/testify/require"
)

func TestParsePreservesUnknownFields(t *testing.T) {
	data := []byte(`{"name":"x","version":"1.0.0","dependencies":{"left-pad":"^1.3.0"},"somethingCustom":{"a":1}}`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "x", m.Name)
	require.Contains(t, m.Raw, "somethingCustom")

	deps, err := m.DependencyDescriptors()
	require.NoError(t, err)
	require.Contains(t, deps, ident.MustParse("left-pad"))
}

func TestExtensionTableApply(t *testing.T) {
	table := NewExtensionTable()
	deps := map[ident.Ident]string{}
	peers := map[ident.Ident]string{}
	table.Apply(ident.MustParse("react-dom"), semver.MustParse("18.0.0"), deps, peers)
	require.Equal(t, "*", peers[ident.MustParse("react")])
}
