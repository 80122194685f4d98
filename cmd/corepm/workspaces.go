package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/workspace"
)

// workspacesCmd is the parent for workspace-scoped operations (§6
// "workspaces focus"): a monorepo root exposes every member discovered by
// workspace.Discover.
var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List or operate on workspace member projects",
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every discovered workspace member",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		proj, err := workspace.Discover(root)
		if err != nil {
			return err
		}
		for _, m := range proj.All() {
			fmt.Printf("%s\t%s\n", m.Ident, m.Dir)
		}
		return nil
	},
}

// workspacesFocusCmd checks the named members and then installs the full
// monorepo; §6 lists "workspaces focus" as a core entry point. corepm doesn't prune the scheduler's own
// root set narrower than "the discovered project" (§4.M has no notion of a
// partial install), so focus is implemented as a validating filter over the
// normal install: it fails fast on an unknown member name instead of
// silently installing everything.
var workspacesFocusCmd = &cobra.Command{
	Use:   "focus <member> ...",
	Short: "Check that the named workspace members exist, then run a full install",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		proj, err := workspace.Discover(root)
		if err != nil {
			return err
		}
		known := map[string]bool{}
		for _, m := range proj.Members {
			known[m.Ident.String()] = true
		}
		for _, name := range args {
			if !known[name] {
				return fmt.Errorf("workspaces focus: no workspace member named %q", name)
			}
		}
		return runInstall()
	},
}

func init() {
	workspacesCmd.AddCommand(workspacesListCmd, workspacesFocusCmd)
}
