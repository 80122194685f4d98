package manifest

import (
	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/semver"
)

// ExtensionTable is a built-in (ident, range) -> Extension table. Extensions
// are applied once, at resolution time, after manifest parsing and before
// descriptor propagation (§4.C), matched against the package's resolved
// Version (per zpm-config/src/exts.rs) rather than the requested range.
type ExtensionTable struct {
	entries map[ident.Ident][]extensionEntry
}

type extensionEntry struct {
	rangeStr string
	r        semver.Range
	ext      Extension
}

// NewExtensionTable builds a table from the default, built-in extension set.
func NewExtensionTable() *ExtensionTable {
	t := &ExtensionTable{entries: map[ident.Ident][]extensionEntry{}}
	for _, e := range defaultExtensions {
		t.Register(e.ident, e.rangeStr, e.ext)
	}
	return t
}

// Register adds an extension matching idRange to the table.
func (t *ExtensionTable) Register(id ident.Ident, rangeStr string, ext Extension) {
	r, err := semver.ParseRange(rangeStr)
	if err != nil {
		return
	}
	t.entries[id] = append(t.entries[id], extensionEntry{rangeStr: rangeStr, r: r, ext: ext})
}

// Lookup returns every extension matching id at the resolved version v, in
// registration order.
func (t *ExtensionTable) Lookup(id ident.Ident, v semver.Version) []Extension {
	var out []Extension
	for _, e := range t.entries[id] {
		if e.r.Check(v) {
			out = append(out, e.ext)
		}
	}
	return out
}

// Apply merges every matching extension's dependencies/peerDependencies into
// deps/peers, without overriding an already-present descriptor (manifest
// dependencies always win over extensions).
func (t *ExtensionTable) Apply(id ident.Ident, v semver.Version, deps map[ident.Ident]string, peers map[ident.Ident]string) {
	for _, ext := range t.Lookup(id, v) {
		for name, r := range ext.Dependencies {
			depID, err := ident.Parse(name)
			if err != nil {
				continue
			}
			if _, exists := deps[depID]; !exists {
				deps[depID] = r
			}
		}
		for name, r := range ext.PeerDependencies {
			peerID, err := ident.Parse(name)
			if err != nil {
				continue
			}
			if _, exists := peers[peerID]; !exists {
				peers[peerID] = r
			}
		}
	}
}

type builtinExtension struct {
	ident    ident.Ident
	rangeStr string
	ext      Extension
}

// defaultExtensions seeds a handful of well-known fixups, the same way real
// package managers ship a small built-in packageExtensions table for
// packages whose published manifest is missing a peer dependency.
var defaultExtensions = []builtinExtension{
	{
		ident:    ident.MustParse("react-dom"),
		rangeStr: "*",
		ext: Extension{
			PeerDependencies: map[string]string{"react": "*"},
		},
	},
}
