// Package lockfile implements the yarn.lock-shaped lockfile of spec.md
// §4.H: a canonical-order YAML document, one block per descriptor list,
// with a mandatory "__metadata" header carrying the format version and the
// cache's compatibility fingerprint. Block/key ordering is built by hand
// with yaml.v3's Node API rather than marshaling a map, so the canonical
// order the format requires doesn't depend on the encoder's own map-key
// sorting behavior.
package lockfile

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the lockfile format version this package reads and
// writes (§4.H "Mandatory header __metadata.version ≥ 8").
const FormatVersion = 8

// Metadata is the lockfile's mandatory header.
type Metadata struct {
	Version  int
	CacheKey string
}

// Entry is one resolved package block. Descriptors holds every descriptor
// string that resolved to this exact Version+Resolution; the lockfile
// collapses duplicate resolutions from different descriptors into a single
// block keyed by all of them, comma-joined.
type Entry struct {
	Descriptors      []string
	Version          string
	Resolution       string
	Dependencies     map[string]string
	PeerDependencies map[string]string
	Checksum         string
	Conditions       string
	LanguageName     string
	LinkType         string
}

// Lockfile is a parsed or to-be-written lockfile document.
type Lockfile struct {
	Metadata Metadata
	Entries  []Entry
}

// New returns an empty Lockfile stamped with the current format version and
// the given cache compatibility key.
func New(cacheKey string) *Lockfile {
	return &Lockfile{Metadata: Metadata{Version: FormatVersion, CacheKey: cacheKey}}
}

// Stale reports whether a loaded lockfile's header no longer matches what
// the current install expects, per §4.H: too old a format version, or a
// cache compatibility key that no longer matches, means the file must be
// regenerated rather than trusted.
func (lf *Lockfile) Stale(cacheKey string) bool {
	return lf.Metadata.Version < FormatVersion || lf.Metadata.CacheKey != cacheKey
}

// Lookup returns the entry whose descriptor list contains descriptor
// verbatim.
func (lf *Lockfile) Lookup(descriptor string) (Entry, bool) {
	for _, e := range lf.Entries {
		for _, d := range e.Descriptors {
			if d == descriptor {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// ReuseOptions tunes Reuse's behavior.
type ReuseOptions struct {
	// Refresh, when true, forces every descriptor to re-resolve
	// (--refresh-lockfile).
	Refresh bool
}

// Reuse implements §4.H's reuse contract: a lockfile entry is reused for a
// descriptor iff (a) the descriptor matches a block key verbatim, (b) the
// entry's platform conditions permit the running platform, and (c) the
// caller did not request a refresh. Checksum verification against a freshly
// fetched archive is the caller's job (Entry.VerifyChecksum) once it has
// bytes to check.
func (lf *Lockfile) Reuse(descriptor string, opts ReuseOptions) (Entry, bool) {
	if opts.Refresh {
		return Entry{}, false
	}
	e, ok := lf.Lookup(descriptor)
	if !ok {
		return Entry{}, false
	}
	if !conditionsSatisfied(e.Conditions) {
		return Entry{}, false
	}
	return e, true
}

// VerifyChecksum reports whether got matches e's recorded checksum. A
// missing recorded checksum (synthetic entries have none) always verifies.
func (e Entry) VerifyChecksum(got string) bool {
	return e.Checksum == "" || e.Checksum == got
}

// conditionsSatisfied evaluates a "os=linux & cpu=x64" style condition
// string (§4.H) against the running platform. Each "&"-joined clause may
// list "|"-separated alternatives; an unrecognized key is ignored rather
// than rejected, so future condition kinds don't retroactively invalidate
// older lockfiles.
func conditionsSatisfied(conditions string) bool {
	if conditions == "" {
		return true
	}
	for _, clause := range strings.Split(conditions, "&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		kv := strings.SplitN(clause, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		var actual string
		switch key {
		case "os":
			actual = nodeOS(runtime.GOOS)
		case "cpu":
			actual = nodeCPU(runtime.GOARCH)
		default:
			continue
		}
		matched := false
		for _, opt := range strings.Split(kv[1], "|") {
			if strings.TrimSpace(opt) == actual {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func nodeOS(goos string) string {
	switch goos {
	case "windows":
		return "win32"
	default:
		return goos
	}
}

func nodeCPU(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}

// rawMetadata and rawEntry mirror the wire shape of the "__metadata" block
// and a descriptor block for decoding; Parse re-shapes them into Metadata
// and Entry.
type rawMetadata struct {
	Version  int    `yaml:"version"`
	CacheKey string `yaml:"cacheKey"`
}

type rawEntry struct {
	Version          string            `yaml:"version"`
	Resolution       string            `yaml:"resolution"`
	Dependencies     map[string]string `yaml:"dependencies"`
	PeerDependencies map[string]string `yaml:"peerDependencies"`
	Checksum         string            `yaml:"checksum"`
	Conditions       string            `yaml:"conditions"`
	LanguageName     string            `yaml:"languageName"`
	LinkType         string            `yaml:"linkType"`
}

// Parse reads a lockfile document.
func Parse(data []byte) (*Lockfile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Lockfile{}, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("lockfile: parsing yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return &Lockfile{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("lockfile: document root is not a mapping")
	}

	lf := &Lockfile{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		if keyNode.Value == "__metadata" {
			var m rawMetadata
			if err := valNode.Decode(&m); err != nil {
				return nil, fmt.Errorf("lockfile: decoding __metadata: %w", err)
			}
			lf.Metadata = Metadata{Version: m.Version, CacheKey: m.CacheKey}
			continue
		}

		var raw rawEntry
		if err := valNode.Decode(&raw); err != nil {
			return nil, fmt.Errorf("lockfile: decoding block %q: %w", keyNode.Value, err)
		}
		lf.Entries = append(lf.Entries, Entry{
			Descriptors:      splitDescriptorKey(keyNode.Value),
			Version:          raw.Version,
			Resolution:       raw.Resolution,
			Dependencies:     raw.Dependencies,
			PeerDependencies: raw.PeerDependencies,
			Checksum:         raw.Checksum,
			Conditions:       raw.Conditions,
			LanguageName:     raw.LanguageName,
			LinkType:         raw.LinkType,
		})
	}
	return lf, nil
}

func splitDescriptorKey(key string) []string {
	parts := strings.Split(key, ", ")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

// Write renders lf in canonical order: the "__metadata" header first, then
// one block per entry sorted by its first descriptor, with in-block keys in
// the fixed order §4.H specifies and map-valued fields (dependencies,
// peerDependencies) sorted by key.
func Write(lf *Lockfile) ([]byte, error) {
	entries := append([]Entry(nil), lf.Entries...)
	sort.Slice(entries, func(i, j int) bool {
		return firstDescriptor(entries[i]) < firstDescriptor(entries[j])
	})

	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	appendPair(root, "__metadata", false, metadataNode(lf.Metadata))
	for _, e := range entries {
		sorted := append([]string(nil), e.Descriptors...)
		sort.Strings(sorted)
		appendPair(root, strings.Join(sorted, ", "), true, entryNode(e))
	}

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("lockfile: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func firstDescriptor(e Entry) string {
	if len(e.Descriptors) == 0 {
		return ""
	}
	sorted := append([]string(nil), e.Descriptors...)
	sort.Strings(sorted)
	return sorted[0]
}

func metadataNode(m Metadata) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	appendPair(n, "version", false, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(m.Version)})
	addScalarPair(n, "cacheKey", m.CacheKey, true)
	return n
}

func entryNode(e Entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	addScalarPair(n, "version", e.Version, false)
	addScalarPair(n, "resolution", e.Resolution, true)
	if len(e.Dependencies) > 0 {
		appendPair(n, "dependencies", false, stringMapNode(e.Dependencies))
	}
	if len(e.PeerDependencies) > 0 {
		appendPair(n, "peerDependencies", false, stringMapNode(e.PeerDependencies))
	}
	if e.Checksum != "" {
		addScalarPair(n, "checksum", e.Checksum, false)
	}
	if e.Conditions != "" {
		addScalarPair(n, "conditions", e.Conditions, true)
	}
	if e.LanguageName != "" {
		addScalarPair(n, "languageName", e.LanguageName, false)
	}
	if e.LinkType != "" {
		addScalarPair(n, "linkType", e.LinkType, false)
	}
	return n
}

func stringMapNode(m map[string]string) *yaml.Node {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		addScalarPair(n, k, m[k], true)
	}
	return n
}

func addScalarPair(n *yaml.Node, key, value string, quoted bool) {
	appendPair(n, key, quoted, scalarNode(value, quoted))
}

func appendPair(n *yaml.Node, key string, quoted bool, val *yaml.Node) {
	keyNode := scalarNode(key, quoted)
	n.Content = append(n.Content, keyNode, val)
}

func scalarNode(value string, quoted bool) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	if quoted {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}
