package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/manifest"
)

var (
	addDev      bool
	addPeer     bool
	addOptional bool
	addExact    bool
	skipInstall bool
)

// addCmd appends one or more dependencies to the root package.json and then
// runs the ordinary install pipeline, matching real package managers'
// add-then-resolve behavior.
var addCmd = &cobra.Command{
	Use:   "add <name>[@<range>] ...",
	Short: "Add one or more dependencies and install",
	Args:  cobra.MinimumNArgs(1),
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

		field := "dependencies"
		switch {
		case addDev:
			field = "devDependencies"
		case addPeer:
			field = "peerDependencies"
		case addOptional:
			field = "optionalDependencies"
		}

		for _, arg := range args {
			name, rangeOrRef := splitNameRange(arg)
			if !addExact && rangeOrRef != "" && rangeOrRef[0] >= '0' && rangeOrRef[0] <= '9' {
				rangeOrRef = "^" + rangeOrRef
			}
			setDependencyField(&m, field, name, rangeOrRef)
			reportInfo("added %s@%s to %s", name, rangeOrRef, field)
		}

		if err := writeManifestFile(path, m); err != nil {
			return err
		}
		if skipInstall {
			return nil
		}
		return runInstall()
	},
}

// removeCmd deletes one or more dependencies (from whichever field they were
// found in) and reinstalls.
var removeCmd = &cobra.Command{
	Use:   "remove <name> ...",
	Short: "Remove one or more dependencies and install",
	Args:  cobra.MinimumNArgs(1),
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

		removedAny := false
		for _, name := range args {
			if m.RemoveDependency(name) {
				removedAny = true
				reportInfo("removed %s", name)
			} else {
				reportWarn("%s is not a dependency of this project", name)
			}
		}
		if !removedAny {
			return nil
		}
		if err := writeManifestFile(path, m); err != nil {
			return err
		}
		if skipInstall {
			return nil
		}
		return runInstall()
	},
}

// upCmd bumps one or more existing dependencies to a new range (or their
// latest satisfying version, when no range is given) and reinstalls.
var upCmd = &cobra.Command{
	Use:   "up <name>[@<range>] ...",
	Short: "Upgrade one or more dependencies and install",
	Args:  cobra.MinimumNArgs(1),
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

		for _, arg := range args {
			name, rangeOrRef := splitNameRange(arg)
			if rangeOrRef == "" {
				rangeOrRef = "*"
			}
			field, ok := fieldContaining(m, name)
			if !ok {
				reportWarn("%s is not a dependency of this project; adding it", name)
				field = "dependencies"
			}
			setDependencyField(&m, field, name, rangeOrRef)
			reportInfo("upgraded %s to %s", name, rangeOrRef)
		}

		if err := writeManifestFile(path, m); err != nil {
			return err
		}
		if skipInstall {
			return nil
		}
		return runInstall()
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, removeCmd, upCmd} {
		c.Flags().BoolVar(&skipInstall, "no-install", false, "update package.json only, without running install")
	}
	addCmd.Flags().BoolVarP(&addDev, "dev", "D", false, "add to devDependencies")
	addCmd.Flags().BoolVarP(&addPeer, "peer", "P", false, "add to peerDependencies")
	addCmd.Flags().BoolVarP(&addOptional, "optional", "O", false, "add to optionalDependencies")
	addCmd.Flags().BoolVarP(&addExact, "exact", "E", false, "pin the exact value given instead of widening it to a caret range")
}

func splitNameRange(arg string) (name, rangeOrRef string) {
	// "@scope/name@range" / "name@range"; the leading "@scope/" (if any)
	// must not itself be mistaken for the separator.
	rest := arg
	prefix := ""
	if strings.HasPrefix(rest, "@") {
		if idx := strings.Index(rest, "/"); idx >= 0 {
			prefix = rest[:idx+1]
			rest = rest[idx+1:]
		}
	}
	if idx := strings.LastIndex(rest, "@"); idx > 0 {
		return prefix + rest[:idx], rest[idx+1:]
	}
	return prefix + rest, ""
}

func fieldContaining(m manifest.Manifest, name string) (string, bool) {
	for field, set := range map[string]map[string]string{
		"dependencies":         m.Dependencies,
		"devDependencies":      m.DevDependencies,
		"peerDependencies":     m.PeerDependencies,
		"optionalDependencies": m.OptionalDependencies,
	} {
		if _, ok := set[name]; ok {
			return field, true
		}
	}
	return "", false
}

func setDependencyField(m *manifest.Manifest, field, name, value string) {
	switch field {
	case "devDependencies":
		if m.DevDependencies == nil {
			m.DevDependencies = map[string]string{}
		}
		m.DevDependencies[name] = value
	case "peerDependencies":
		if m.PeerDependencies == nil {
			m.PeerDependencies = map[string]string{}
		}
		m.PeerDependencies[name] = value
	case "optionalDependencies":
		if m.OptionalDependencies == nil {
			m.OptionalDependencies = map[string]string{}
		}
		m.OptionalDependencies[name] = value
	default:
		m.SetDependency(name, value)
	}
	delete(m.Raw, field)
}

func readManifestFile(path string) (manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return manifest.Parse(data)
}

func writeManifestFile(path string, m manifest.Manifest) error {
	data, err := manifest.Write(m)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
