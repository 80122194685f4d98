package linker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/linker"
)

func TestUnknownStrategyErrors(t *testing.T) {
	err := linker.Link("bogus", nil, "")
	require.Error(t, err)
	require.Equal(t, linker.ErrUnknownStrategy{Name: "bogus"}, err)
}

func TestIsolatedAndPnpAreRegisteredButUnimplemented(t *testing.T) {
	_, ok := linker.Get("isolated")
	require.True(t, ok)
	_, ok = linker.Get("pnp")
	require.True(t, ok)

	err := linker.Link("isolated", nil, "")
	require.Equal(t, linker.ErrNotImplemented{Name: "isolated"}, err)
}

func TestNodeModulesStrategyIsRegistered(t *testing.T) {
	_, ok := linker.Get("node-modules")
	require.True(t, ok)
}
