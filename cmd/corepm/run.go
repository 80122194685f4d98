package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/manifest"
)

// runCmd runs a package.json "scripts" entry for the current project,
// mirroring build.Run's own PATH-augmentation rule (§4.L) so a script can
// invoke its own dependencies' binaries by bare name.
var runCmd = &cobra.Command{
	Use:                "run <script> [args...]",
	Short:              "Run a package.json script",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(root, "package.json"))
		if err != nil {
			return err
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return err
		}
		script, ok := m.Scripts[args[0]]
		if !ok {
			return fmt.Errorf("run: no script named %q in package.json", args[0])
		}
		if len(args) > 1 {
			script = script + " " + strings.Join(args[1:], " ")
		}
		return runShellCommand(root, script)
	},
}

// execCmd runs an arbitrary binary (typically one installed into
// node_modules/.bin) with PATH augmented the same way.
var execCmd = &cobra.Command{
	Use:                "exec <command> [args...]",
	Short:              "Run a binary with node_modules/.bin on PATH",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		c := exec.CommandContext(context.Background(), args[0], args[1:]...)
		c.Dir = root
		c.Env = augmentedEnv(root)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		return c.Run()
	},
}

func runShellCommand(dir, script string) error {
	shellPath, shellFlag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shellPath, shellFlag = "cmd", "/C"
	}
	c := exec.CommandContext(context.Background(), shellPath, shellFlag, script)
	c.Dir = dir
	c.Env = augmentedEnv(dir)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}

// augmentedEnv mirrors build.augmentedEnv (unexported there): the current
// process environment with PATH prefixed by dir's own node_modules/.bin.
func augmentedEnv(dir string) []string {
	binDir := filepath.Join(dir, "node_modules", ".bin")
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+binDir+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+binDir)
	}
	return out
}
