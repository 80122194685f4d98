package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ErrOutOfScope is returned by CLI entry points that exist for §6's command
// surface but whose implementation belongs to a collaborator §1 explicitly
// places outside the core (the embedded version-switcher that downloads and
// pins the corepm binary itself).
type ErrOutOfScope struct {
	Command string
}

func (e ErrOutOfScope) Error() string {
	return fmt.Sprintf("%s: handled by the version-switcher front-end, not the core engine", e.Command)
}

// setCmd is the parent for "set version" (§6); pinning and downloading a
// specific corepm release is the embedded switcher's job (§1 "out of
// scope / external collaborators"), so the core only validates that the
// command exists and reports why it can't act on it here.
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Project-level settings",
}

var setVersionCmd = &cobra.Command{
	Use:   "version <range>",
	Short: "Pin the project's packageManager version (handled by the version-switcher)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ErrOutOfScope{Command: "set version"}
	},
}

func init() {
	setCmd.AddCommand(setVersionCmd)
}
