package formats

import "strings"

// NormalizeEntries ensures every entry sits under "node_modules/<ident>/",
// stripping one leading path segment where every entry of the source archive
// sits under one shared top-level directory (npm tarballs use "package/"). Mirrors
// zpm-formats's entry normalization step between a fetched tarball and the
// cache's canonical zip layout (§4.B).
func NormalizeEntries(entries []Entry, identSlug string) []Entry {
	prefix := "node_modules/" + identSlug + "/"
	out := make([]Entry, 0, len(entries))
	wrapper, wrapped := "", len(entries) > 0
	for _, e := range entries {
		i := strings.IndexByte(e.Name, '/')
		if i < 0 || (wrapper != "" && e.Name[:i] != wrapper) {
			wrapped = false
			break
		}
		wrapper = e.Name[:i]
	}
	for _, e := range entries {
		name := e.Name
		if strings.HasPrefix(name, prefix) {
			out = append(out, e)
			continue
		}
		if wrapped {
			name = stripLeadingSegment(name)
		}
		e.Name = prefix + name
		out = append(out, e)
	}
	return out
}

// stripLeadingSegment drops a single leading path component, e.g. turns
// "package/index.js" into "index.js". Leaves names with no separator intact.
func stripLeadingSegment(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
