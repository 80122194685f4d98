package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// linkCmd records a "resolutions" override pointing name at a local
// directory via the "portal:" protocol (§3/§4.F), so a subsequent install
// resolves that dependency (at every depth it appears) straight to the
// given path instead of the registry.
var linkCmd = &cobra.Command{
	Use:   "link <name> <path>",
	Short: "Resolve a dependency to a local directory via resolutions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		target, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("link: %w", err)
		}

		path := filepath.Join(root, "package.json")
		m, err := readManifestFile(path)
		if err != nil {
			return err
		}
		if m.Resolutions == nil {
			m.Resolutions = map[string]string{}
		}
		m.Resolutions[args[0]] = "portal:" + target
		delete(m.Raw, "resolutions")
		if err := writeManifestFile(path, m); err != nil {
			return err
		}
		reportInfo("linked %s -> %s", args[0], target)
		return runInstall()
	},
}

// unlinkCmd removes a previously recorded "link" resolutions override.
var unlinkCmd = &cobra.Command{
	Use:   "unlink <name>",
	Short: "Remove a local-directory resolution override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		path := filepath.Join(root, "package.json")
		m, err := readManifestFile(path)
		if err != nil {
			return err
		}
		if _, ok := m.Resolutions[args[0]]; !ok {
			return fmt.Errorf("unlink: no link resolution recorded for %s", args[0])
		}
		delete(m.Resolutions, args[0])
		delete(m.Raw, "resolutions")
		if err := writeManifestFile(path, m); err != nil {
			return err
		}
		reportInfo("unlinked %s", args[0])
		return runInstall()
	},
}
