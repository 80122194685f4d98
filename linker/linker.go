// Package linker implements the §4.K link-strategy dispatcher: a project's
// "nodeLinker" setting ("node-modules", "pnp", "pnpm"-style isolated) selects
// which Strategy lays the resolved tree out on disk, mirroring protocol's
// kind-to-implementation registration table.
package linker

import (
	"fmt"

	"github.com/corepm/corepm/hoist"
	"github.com/corepm/corepm/peers"
)

// Strategy commits a propagated resolution tree to disk using one linking
// model.
type Strategy interface {
	Link(result *peers.Result, projectRoot string) error
}

var registered = map[string]Strategy{}

// Register makes a Strategy available under name. Panics on a duplicate
// registration.
func Register(name string, s Strategy) {
	if s == nil {
		panic("linker: nil Strategy")
	}
	if _, ok := registered[name]; ok {
		panic(fmt.Sprintf("linker: %s already registered", name))
	}
	registered[name] = s
}

// Get returns the Strategy registered under name, if any.
func Get(name string) (Strategy, bool) {
	s, ok := registered[name]
	return s, ok
}

// ErrUnknownStrategy is returned when a project names a nodeLinker with no
// registered Strategy.
type ErrUnknownStrategy struct {
	Name string
}

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("linker: no strategy registered for %q", e.Name)
}

// Link dispatches to the Strategy registered under name.
func Link(name string, result *peers.Result, projectRoot string) error {
	s, ok := Get(name)
	if !ok {
		return ErrUnknownStrategy{Name: name}
	}
	return s.Link(result, projectRoot)
}

// nmStrategy is the classic "node_modules" linker: build the packing tree,
// hoist it to a fixed point, and commit it to disk via hoist.Commit.
type nmStrategy struct{}

func (nmStrategy) Link(result *peers.Result, projectRoot string) error {
	tree, err := hoist.Build(result)
	if err != nil {
		return err
	}
	tree.Hoist()
	return hoist.Commit(tree, projectRoot)
}

// isolatedStrategy mirrors pnpm's isolated node_modules: every package gets
// its own never-hoisted directory, reachable only through explicit symlinks
// from its direct dependents (§4.K, out of core scope per the distilled
// spec's Non-goals for alternate linkers — registered so "nodeLinker:
// isolated" fails with ErrNotImplemented instead of silently falling back to
// nm semantics).
type isolatedStrategy struct{}

// ErrNotImplemented is returned by a registered but unimplemented Strategy.
type ErrNotImplemented struct {
	Name string
}

func (e ErrNotImplemented) Error() string {
	return fmt.Sprintf("linker: %q is registered but not implemented", e.Name)
}

func (isolatedStrategy) Link(result *peers.Result, projectRoot string) error {
	return ErrNotImplemented{Name: "isolated"}
}

// pnpStrategy mirrors Yarn's Plug'n'Play linker: no node_modules at all, just
// a generated resolution map (.pnp.cjs) consulted by a runtime require() hook
// (§4.K, same Non-goal as isolatedStrategy).
type pnpStrategy struct{}

func (pnpStrategy) Link(result *peers.Result, projectRoot string) error {
	return ErrNotImplemented{Name: "pnp"}
}

func init() {
	Register("node-modules", nmStrategy{})
	Register("isolated", isolatedStrategy{})
	Register("pnp", pnpStrategy{})
}
