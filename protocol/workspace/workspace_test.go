package workspace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
	"github.com/corepm/corepm/protocol/workspace"
)

func TestResolveAndFetchUseTheWorkspaceDirectory(t *testing.T) {
	p := workspace.New()
	pc := &protocol.Context{WorkspaceDirs: map[ident.Ident]string{
		ident.MustParse("a"): "packages/a",
	}}

	res, err := p.Resolve(context.Background(), pc, protocol.Request{Ident: ident.MustParse("a"), Raw: "workspace:*"})
	require.NoError(t, err)
	require.Equal(t, "a@workspace:packages/a", res.Locator.String())
	require.Nil(t, res.Locator.Parent, "a workspace reference never requires parent binding")

	fetched, err := p.Fetch(context.Background(), pc, res.Locator)
	require.NoError(t, err)
	require.True(t, fetched.Synthetic)
	require.Equal(t, "packages/a", fetched.LocalPath)
}

func TestResolveConvergesRegardlessOfRequester(t *testing.T) {
	p := workspace.New()
	pc := &protocol.Context{WorkspaceDirs: map[ident.Ident]string{
		ident.MustParse("a"): "packages/a",
	}}

	parentOne := &locator.Locator{Ident: ident.MustParse("root-one"), Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."}}
	parentTwo := &locator.Locator{Ident: ident.MustParse("root-two"), Reference: locator.Reference{Kind: locator.KindWorkspace, Path: "."}}

	resOne, err := p.Resolve(context.Background(), pc, protocol.Request{Ident: ident.MustParse("a"), Raw: "workspace:*", Parent: parentOne})
	require.NoError(t, err)
	resTwo, err := p.Resolve(context.Background(), pc, protocol.Request{Ident: ident.MustParse("a"), Raw: "workspace:^1.0.0", Parent: parentTwo})
	require.NoError(t, err)

	require.Equal(t, resOne.Locator.String(), resTwo.Locator.String(), "two different dependents requesting the same workspace sibling must converge on one locator")
}

func TestResolveUnknownWorkspaceErrors(t *testing.T) {
	p := workspace.New()
	pc := &protocol.Context{WorkspaceDirs: map[ident.Ident]string{}}
	_, err := p.Resolve(context.Background(), pc, protocol.Request{Ident: ident.MustParse("missing"), Raw: "workspace:*"})
	require.Error(t, err)
	require.ErrorAs(t, err, &workspace.ErrUnknownWorkspace{})
}
