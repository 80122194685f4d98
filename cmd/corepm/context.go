// Package main implements the §6 CLI surface: a cobra command tree wired
// against the install pipeline workspace.Install assembles, grounded on the
// teacher's own cmd/dist (one file per subcommand) and registry/root.go's
// root-command-plus-subcommands shape.
package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/corepm/corepm/cache"
	"github.com/corepm/corepm/config"
	"github.com/corepm/corepm/workspace"
)

// loadConfig builds the layered configuration of §4.D: built-in defaults,
// then the user's global rc file, then the project's own, then environment
// overrides (config.Loader.Resolve applies COREPM_* env vars last).
func loadConfig(projectRoot string) (config.Configuration, error) {
	loader := config.NewLoader()

	home, err := os.UserHomeDir()
	if err == nil {
		if err := loader.AddFile(config.SourceUser, filepath.Join(home, ".corepmrc.yml")); err != nil {
			return config.Configuration{}, err
		}
	}
	if err := loader.AddFile(config.SourceProject, filepath.Join(projectRoot, ".corepmrc.yml")); err != nil {
		return config.Configuration{}, err
	}

	cfg, _, err := loader.Resolve()
	if err != nil {
		return config.Configuration{}, err
	}
	config.DiscoverDefaults(&cfg, projectRoot)
	return cfg, nil
}

// projectRoot resolves the --cwd flag (or the process's own working
// directory) to an absolute path.
func projectRoot() (string, error) {
	if cwdFlag != "" {
		return filepath.Abs(cwdFlag)
	}
	return os.Getwd()
}

// fail prints a user-facing error (§7: colored label, canonical form) and
// exits with the process's documented exit code for that error.
func fail(err error) {
	reportError(err)
	os.Exit(exitCode(err))
}

// exitCode maps an error to one of §6's documented process exit codes: 1 for
// a user error (bad descriptor, ambiguous workspace, unsupported command),
// 2 for an environment error (immutable cache/lockfile violated, missing
// home folder). Anything unrecognized defaults to the general user-error
// code rather than a bare panic exit.
func exitCode(err error) int {
	var immutableInstall workspace.ErrImmutableInstall
	var immutableCache cache.ErrImmutableCacheMiss
	switch {
	case errors.As(err, &immutableInstall), errors.As(err, &immutableCache):
		return 2
	default:
		return 1
	}
}
