// Package build implements the §4.L build scheduler: after hoisting settles,
// walk the dependency graph in dependency-before-dependent order and run
// each platform-compatible package's preinstall/install/postinstall scripts,
// skipping any whose build-state hash is unchanged since the last install.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/peers"
)

// scriptOrder is the fixed lifecycle order a package's scripts run in.
var scriptOrder = []string{"preinstall", "install", "postinstall"}

// State is the build-state memo (§4.L "a flat map... locator -> hash"),
// persisted as JSON at .yarn/build-state.
type State map[string]string

// LoadState reads the build-state file at path, returning an empty State if
// it doesn't exist yet.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("build: parsing build-state: %w", err)
	}
	return s, nil
}

// Save writes s to path as JSON, creating its parent directory if needed.
func (s State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// InputHash computes the build-state hash for one package from its content
// checksum, its own build commands, and the active linker kind. xxhash64 is
// deliberately distinct from the cache's Blake2b content hash: this hash only
// needs to answer "did the build inputs change", not "is this content
// trustworthy", and a cheaper hash is the right tool for that question.
func InputHash(checksum string, commands []string, linkerKind string) string {
	h := xxhash.New()
	h.Write([]byte(checksum))
	h.Write([]byte{0})
	for _, c := range commands {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	h.Write([]byte(linkerKind))
	return fmt.Sprintf("%x", h.Sum64())
}

// Plan orders result's nodes dependency-before-dependent (a post-order walk
// from each root), so a package's build scripts never run before a
// dependency it might invoke has finished its own.
func Plan(result *peers.Result) []*peers.Node {
	var order []*peers.Node
	visited := map[string]bool{}

	var visit func(loc locator.Locator)
	visit = func(loc locator.Locator) {
		key := loc.String()
		if visited[key] {
			return
		}
		visited[key] = true

		n, ok := result.Nodes[key]
		if !ok {
			return
		}
		idents := make([]ident.Ident, 0, len(n.Edges))
		for id := range n.Edges {
			idents = append(idents, id)
		}
		sort.Slice(idents, func(i, j int) bool { return idents[i].String() < idents[j].String() })
		for _, id := range idents {
			visit(n.Edges[id])
		}
		order = append(order, n)
	}

	for _, root := range result.Roots {
		visit(root)
	}
	return order
}

// Result is one package's build attempt outcome.
type Result struct {
	Locator        locator.Locator
	Skipped        bool
	Stdout, Stderr []byte
}

// Run executes Plan(result) in order: every node with at least one lifecycle
// script, compatible with the current platform, and whose build-state hash
// has changed is rebuilt; everything else is skipped. The build-state file at
// statePath is updated after each attempt, so a crash mid-install doesn't
// lose already-completed work.
func Run(ctx context.Context, result *peers.Result, tree *hoist.Tree, projectRoot, statePath, linkerKind string) ([]Result, error) {
	state, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, n := range Plan(result) {
		commands := buildCommands(n.Manifest)
		if len(commands) == 0 || !compatible(n.Manifest) {
			continue
		}

		key := n.Locator.String()
		hash := InputHash(n.Checksum, commands, linkerKind)
		if state[key] == hash {
			results = append(results, Result{Locator: n.Locator, Skipped: true})
			continue
		}

		id, ok := tree.Locate(n.Locator)
		if !ok {
			return results, fmt.Errorf("build: %s not found in packing tree", n.Locator)
		}
		dir := filepath.Join(projectRoot, tree.Path(id))

		res, runErr := runScripts(ctx, dir, commands)
		res.Locator = n.Locator
		results = append(results, res)
		if runErr != nil {
			delete(state, key)
			_ = state.Save(statePath)
			return results, fmt.Errorf("build: %s: %w", n.Locator, runErr)
		}

		state[key] = hash
		if err := state.Save(statePath); err != nil {
			return results, err
		}
	}
	return results, nil
}

func buildCommands(m manifest.Manifest) []string {
	var cmds []string
	for _, name := range scriptOrder {
		if cmd, ok := m.Scripts[name]; ok && cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func runScripts(ctx context.Context, dir string, commands []string) (Result, error) {
	env := augmentedEnv(dir)
	var stdout, stderr bytes.Buffer
	for _, cmdline := range commands {
		cmd := exec.CommandContext(ctx, shellPath(), shellFlag(), cmdline)
		cmd.Dir = dir
		cmd.Env = env
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
		}
	}
	return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

func shellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/sh"
}

func shellFlag() string {
	if runtime.GOOS == "windows" {
		return "/C"
	}
	return "-c"
}

// augmentedEnv returns the current process environment with PATH prefixed by
// dir's own node_modules/.bin, so a package's lifecycle scripts can invoke
// its own dependencies' binaries by bare name (§4.L).
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
