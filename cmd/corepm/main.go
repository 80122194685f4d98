package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cwdFlag     string
	verboseFlag bool
)

// RootCmd is the main command for the "corepm" binary, grounded on
// registry/root.go's RootCmd + Flags()/AddCommand() assembly.
var RootCmd = &cobra.Command{
	Use:   "corepm",
	Short: "`corepm` — a package manager core",
	Long:  "`corepm` resolves, fetches, and links an npm-compatible dependency graph.",
	// Bare "corepm" with no subcommand behaves like "corepm install", the
	// same default-action wiring cmd/dist gives its own list command.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cwdFlag, "cwd", "", "run as if corepm was started in <path> instead of the current directory")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "print resolve/fetch/load progress")

	RootCmd.AddCommand(installCmd)
	RootCmd.AddCommand(addCmd)
	RootCmd.AddCommand(removeCmd)
	RootCmd.AddCommand(upCmd)
	RootCmd.AddCommand(rebuildCmd)
	RootCmd.AddCommand(unplugCmd)
	RootCmd.AddCommand(packCmd)
	RootCmd.AddCommand(setCmd)
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(workspacesCmd)
	RootCmd.AddCommand(linkCmd)
	RootCmd.AddCommand(unlinkCmd)
	RootCmd.AddCommand(execCmd)
	RootCmd.AddCommand(runCmd)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
