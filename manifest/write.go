package manifest

import (
	"bytes"
	"encoding/json"
	"sort"
)

// fieldOrder is the conventional key order real package.json files are
// written in; Write follows it for the fields it knows about and appends any
// remaining Raw-only fields afterward, sorted by key. The document's original
// key order is not kept.
var fieldOrder = []string{
	"name", "version", "packageManager", "bin", "scripts",
	"dependencies", "devDependencies", "peerDependencies", "peerDependenciesMeta",
	"optionalDependencies", "dependenciesMeta", "resolutions",
	"exports", "imports", "browser",
	"os", "cpu", "libc",
	"packageExtensions", "workspaces",
}

// Write renders m back to package.json bytes. Typed fields take precedence
// over whatever Raw captured for the same key (a caller that mutated
// m.Dependencies expects that mutation to win); any field Raw carries that
// manifest.Manifest has no typed representation for is preserved verbatim.
func Write(m Manifest) ([]byte, error) {
	typed, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(m.Raw)+len(typedMap))
	for k, v := range m.Raw {
		merged[k] = v
	}
	for k, v := range typedMap {
		merged[k] = v
	}

	seen := make(map[string]bool, len(fieldOrder))
	var keys []string
	for _, k := range fieldOrder {
		if _, ok := merged[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range merged {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		var indented bytes.Buffer
		if err := json.Indent(&indented, merged[k], "  ", "  "); err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(kb)
		buf.WriteString(": ")
		buf.Write(indented.Bytes())
		if i < len(keys)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// SetDependency adds or overwrites a "dependencies" entry, creating the map
// if the manifest had none.
func (m *Manifest) SetDependency(name, rangeOrRef string) {
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	m.Dependencies[name] = rangeOrRef
	delete(m.Raw, "dependencies")
}

// RemoveDependency removes name from every dependency field it might appear
// in ("remove" doesn't ask which field a package was added under).
func (m *Manifest) RemoveDependency(name string) (removed bool) {
	for _, set := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies, m.OptionalDependencies} {
		if _, ok := set[name]; ok {
			delete(set, name)
			removed = true
		}
	}
	if removed {
		delete(m.Raw, "dependencies")
		delete(m.Raw, "devDependencies")
		delete(m.Raw, "peerDependencies")
		delete(m.Raw, "optionalDependencies")
	}
	return removed
}
