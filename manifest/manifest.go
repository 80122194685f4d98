// Package manifest implements the package.json model of spec.md §4.C,
// including the built-in package-extensions table applied at resolution time.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/semver"
)

// Bin is either a single string (package name -> script) or a map of
// command name -> script path.
type Bin map[string]string

// UnmarshalJSON accepts both the bare-string and map forms of "bin".
func (b *Bin) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		*b = m
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bin: %w", err)
	}
	*b = Bin{}
	return nil
}

// DependencyMeta captures dependenciesMeta.<name> flags.
type DependencyMeta struct {
	Built     bool `json:"built,omitempty"`
	Optional  bool `json:"optional,omitempty"`
	Unplugged bool `json:"unplugged,omitempty"`
}

// PeerMeta captures peerDependenciesMeta.<name> flags.
type PeerMeta struct {
	Optional bool `json:"optional,omitempty"`
}

// Manifest is the parsed content of a package.json file. Unknown top-level
// fields are preserved verbatim in Raw so a document-preserving writer can
// round-trip them (§6).
type Manifest struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	DependenciesMeta     map[string]DependencyMeta `json:"dependenciesMeta,omitempty"`
	Resolutions          map[string]string `json:"resolutions,omitempty"`

	Bin     Bin               `json:"bin,omitempty"`
	Scripts map[string]string `json:"scripts,omitempty"`

	Exports json.RawMessage `json:"exports,omitempty"`
	Imports json.RawMessage `json:"imports,omitempty"`
	Browser json.RawMessage `json:"browser,omitempty"`

	OS   []string `json:"os,omitempty"`
	CPU  []string `json:"cpu,omitempty"`
	Libc []string `json:"libc,omitempty"`

	PackageManager    string            `json:"packageManager,omitempty"`
	PackageExtensions map[string]Extension `json:"packageExtensions,omitempty"`
	Workspaces        []string          `json:"workspaces,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// Parse parses raw package.json bytes into a Manifest, retaining unknown
// fields in Raw. A bare-string "bin" becomes a one-entry Bin keyed by the
// package name without its scope.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest raw fields: %w", err)
	}
	m.Raw = raw
	if len(m.Bin) == 0 && m.Name != "" {
		var script string
		if json.Unmarshal(raw["bin"], &script) == nil && script != "" {
			m.Bin = Bin{m.Name[strings.LastIndex(m.Name, "/")+1:]: script}
		}
	}
	return m, nil
}

// Extension is one packageExtensions entry: additional dependencies/peer
// dependencies contributed to resolutions matching its key.
type Extension struct {
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta,omitempty"`
}

// DependencyDescriptors returns the manifest's direct (non-dev) dependency
// descriptors, merging optionalDependencies.
func (m Manifest) DependencyDescriptors() (map[ident.Ident]locator.Descriptor, error) {
	out := map[ident.Ident]locator.Descriptor{}
	for _, src := range []map[string]string{m.Dependencies, m.OptionalDependencies} {
		for name, rangeStr := range src {
			id, err := ident.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("dependency %q: %w", name, err)
			}
			r, err := semver.ParseRange(rangeStr)
			if err != nil {
				return nil, fmt.Errorf("dependency %q range %q: %w", name, rangeStr, err)
			}
			out[id] = locator.Descriptor{Ident: id, Range: r}
		}
	}
	return out, nil
}

// RawDependencyValues returns the manifest's direct (non-dev) dependency
// values verbatim, merging optionalDependencies — unlike DependencyDescriptors,
// values are not parsed as semver ranges, so a caller can classify literal
// protocol-prefixed values (git+, file:, workspace:, patch:, ...) before
// deciding how each dependency should be resolved.
func (m Manifest) RawDependencyValues() map[string]string {
	out := make(map[string]string, len(m.Dependencies)+len(m.OptionalDependencies))
	for name, v := range m.Dependencies {
		out[name] = v
	}
	for name, v := range m.OptionalDependencies {
		out[name] = v
	}
	return out
}

// PeerDescriptors returns the manifest's peer-dependency ranges, keyed by ident.
func (m Manifest) PeerDescriptors() (map[ident.Ident]locator.PeerRange, error) {
	out := map[ident.Ident]locator.PeerRange{}
	for name, rangeStr := range m.PeerDependencies {
		id, err := ident.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("peerDependency %q: %w", name, err)
		}
		r, err := semver.ParseRange(rangeStr)
		if err != nil {
			return nil, fmt.Errorf("peerDependency %q range %q: %w", name, rangeStr, err)
		}
		out[id] = locator.PeerRange{Range: r, Optional: m.PeerDependenciesMeta[name].Optional}
	}
	return out, nil
}
