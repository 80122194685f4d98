package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/workspace"
)

const unplugDir = ".yarn/unplugged"

// unplugCmd extracts one already-resolved package out of its normal hoisted
// location into a persistent, directly-editable copy under .yarn/unplugged,
// the same cache-entry-to-directory materialization hoist.Tree.Materialize
// already performs for an ordinary install, just targeted at one node
// instead of the whole tree.
var unplugCmd = &cobra.Command{
	Use:   "unplug <name> ...",
	Short: "Extract a package into an editable directory outside the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		res, err := workspace.Install(context.Background(), root, workspace.Options{Config: cfg, Sink: newProgressSink(verboseFlag)})
		if err != nil {
			return err
		}

		tree, err := hoist.Build(res.Propagated)
		if err != nil {
			return err
		}
		tree.Hoist()

		for _, name := range args {
			id, err := ident.Parse(name)
			if err != nil {
				return err
			}
			if err := unplugOne(tree, res, id, root); err != nil {
				return err
			}
		}
		return nil
	},
}

func unplugOne(tree *hoist.Tree, res *workspace.Result, id ident.Ident, root string) error {
	var nodeID hoist.NodeID
	found := false
	for i, n := range tree.Nodes {
		if n.Locator.Ident.Equal(id) {
			nodeID, found = hoist.NodeID(i), true
			break
		}
	}
	if !found {
		return fmt.Errorf("unplug: %s is not in the resolved dependency graph", id)
	}

	dest := filepath.Join(root, unplugDir, id.Slug())
	if err := tree.Materialize(nodeID, dest, root); err != nil {
		return err
	}
	reportInfo("unplugged %s into %s", id, dest)
	return nil
}
