package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/build"
	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/workspace"
)

const buildStateName = ".yarn/build-state"

// rebuildCmd forces every platform-compatible package with lifecycle
// scripts to run again: it re-resolves, then clears the persisted
// build-state memo and reruns the build (§4.L: a package is skipped only
// when its build-state hash is unchanged, so wiping the memo makes every
// hash count as changed).
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-run every package's lifecycle build scripts",
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

		statePath := filepath.Join(root, buildStateName)
		empty := build.State{}
		if err := empty.Save(statePath); err != nil {
			return err
		}

		builds, err := build.Run(context.Background(), res.Propagated, tree, root, statePath, cfg.NodeLinker)
		if err != nil {
			return err
		}
		reportInfo("rebuilt %d package(s)", len(builds))
		return nil
	},
}
