package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/workspace"
)

var refreshLockfile bool

// installCmd runs the full §4.G-through-§4.M pipeline via workspace.Install.
var installCmd = &cobra.Command{
	Use:     "install",
	Aliases: []string{"i"},
	Short:   "Resolve, fetch, link, and build the project's dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall()
	},
}

func init() {
	installCmd.Flags().BoolVar(&refreshLockfile, "refresh-lockfile", false, "ignore the existing lockfile and re-resolve everything")
}

func runInstall() error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	reportInfo("resolving %s", root)
	res, err := workspace.Install(context.Background(), root, workspace.Options{
		Config:  cfg,
		Refresh: refreshLockfile,
		Sink:    newProgressSink(verboseFlag),
	})
	if err != nil {
		fail(err)
		return err
	}

	reportInfo("resolved %d package(s) across %d workspace project(s)", len(res.Resolved.Resolutions), len(res.Project.All()))
	built := 0
	for _, b := range res.Builds {
		if !b.Skipped {
			built++
		}
	}
	if built > 0 {
		reportInfo("ran lifecycle scripts for %d package(s)", built)
	}
	fmt.Fprintln(os.Stdout, "done.")
	return nil
}
