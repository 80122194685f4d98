package locator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceRoundTrip(t *testing.T) {
	cases := []string{
		"npm:1.2.3",
		"npm:left-pad@1.3.0",
		"file:./fixtures/pkg.tgz",
		"file:./fixtures/pkg",
		"link:../shared",
		"portal:../shared",
		"workspace:packages/x",
		"workspace:*",
		"git:https://github.com/foo/bar.git#abcdef0123456789",
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			ref, err := ParseReference(c)
			require.NoError(t, err)
			require.Equal(t, c, ref.String())
		})
	}
}

func TestPatchAndVirtualRoundTrip(t *testing.T) {
	inner, err := ParseReference("npm:left-pad@1.3.0")
	require.NoError(t, err)

	patch := Reference{Kind: KindPatch, PatchInner: inner, PatchPath: "./fixes/lp.patch"}
	parsedPatch, err := ParseReference(patch.String())
	require.NoError(t, err)
	require.Equal(t, patch.PatchInner.String(), parsedPatch.PatchInner.String())
	require.Equal(t, patch.PatchPath, parsedPatch.PatchPath)

	hash := "a000000000000000000000000000000000000000000000000000000000000000"
	virt := Reference{Kind: KindVirtual, VirtualInner: inner, VirtualHash: hash}
	parsedVirt, err := ParseReference(virt.String())
	require.NoError(t, err)
	require.Equal(t, virt.VirtualInner.String(), parsedVirt.VirtualInner.String())
	require.Equal(t, hash, parsedVirt.VirtualHash)
}

func TestDescriptorAndLocatorRoundTrip(t *testing.T) {
	d, err := ParseDescriptor("left-pad@^1.3.0")
	require.NoError(t, err)
	require.Equal(t, "left-pad@^1.3.0", d.String())

	l, err := ParseLocator("left-pad@npm:left-pad@1.3.0")
	require.NoError(t, err)
	require.Equal(t, "left-pad@npm:left-pad@1.3.0", l.String())
}

func TestLocatorWithParent(t *testing.T) {
	parent, err := ParseLocator("a@npm:a@1.0.0")
	require.NoError(t, err)
	child := Locator{Ident: parent.Ident, Reference: Reference{Kind: KindFolder, Path: "./vendor/a"}, Parent: &parent}

	reparsed, err := ParseLocator(child.String())
	require.NoError(t, err)
	require.NotNil(t, reparsed.Parent)
	require.Equal(t, parent.String(), reparsed.Parent.String())
}

func TestRequiresBinding(t *testing.T) {
	folder, _ := ParseReference("file:./x")
	require.True(t, folder.RequiresBinding())

	reg, _ := ParseReference("npm:a@1.0.0")
	require.False(t, reg.RequiresBinding())
}
