// Package registry implements the "npm:" protocol: GET registry metadata,
// pick the highest satisfying version, GET the tarball, and convert it to a
// normalized zip cache entry, grounded on
// distribution-distribution/registry/client's HTTP-GET-plus-JSON-decode
// client shape.
package registry

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/protocol"
	"github.com/corepm/corepm/semver"
)

type metadataDoc struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

type versionDist struct {
	Dist struct {
		Shasum  string `json:"shasum"`
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// ErrNoSatisfyingVersion is returned when no published version satisfies a
// descriptor's range.
type ErrNoSatisfyingVersion struct {
	Descriptor locator.Descriptor
}

func (e ErrNoSatisfyingVersion) Error() string {
	return fmt.Sprintf("no published version of %s satisfies %s", e.Descriptor.Ident, e.Descriptor.Range)
}

// ErrChecksumMismatch is returned when a downloaded tarball's shasum doesn't
// match the metadata's advertised dist.shasum.
type ErrChecksumMismatch struct {
	Ident    string
	Expected string
	Actual   string
}

func (e ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s got %s", e.Ident, e.Expected, e.Actual)
}

// Protocol implements protocol.Protocol for "npm:" locators.
type Protocol struct{}

// New returns a registry Protocol.
func New() *Protocol { return &Protocol{} }

func (p *Protocol) fetchMetadata(pc *protocol.Context, name string) (metadataDoc, error) {
	base := pc.Registry
	if base == "" {
		base = "https://registry.npmjs.org"
	}
	url := strings.TrimRight(base, "/") + "/" + escapeName(name)
	resp, err := pc.HTTPClient.Get(url)
	if err != nil {
		return metadataDoc{}, fmt.Errorf("fetching registry metadata for %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metadataDoc{}, fmt.Errorf("registry metadata for %s: HTTP %d", name, resp.StatusCode)
	}
	var doc metadataDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return metadataDoc{}, fmt.Errorf("decoding registry metadata for %s: %w", name, err)
	}
	return doc, nil
}

// escapeName encodes a scoped package name ("@scope/name") the way npm's
// registry expects: the slash kept literal works for most registries that
// serve scoped packages as two path segments.
func escapeName(name string) string { return name }

// Resolve picks the highest published version satisfying req.Raw (a semver
// range).
func (p *Protocol) Resolve(ctx context.Context, pc *protocol.Context, req protocol.Request) (protocol.ResolveResult, error) {
	r, err := semver.ParseRange(req.Raw)
	if err != nil {
		return protocol.ResolveResult{}, fmt.Errorf("registry: %q is not a valid range: %w", req.Raw, err)
	}
	d := locator.Descriptor{Ident: req.Ident, Range: r}

	doc, err := p.fetchMetadata(pc, d.Ident.String())
	if err != nil {
		return protocol.ResolveResult{}, err
	}

	versions := make([]semver.Version, 0, len(doc.Versions))
	for raw := range doc.Versions {
		v, err := semver.Parse(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })

	var best *semver.Version
	for i := len(versions) - 1; i >= 0; i-- {
		if d.Range.Check(versions[i]) {
			best = &versions[i]
			break
		}
	}
	if best == nil {
		return protocol.ResolveResult{}, ErrNoSatisfyingVersion{Descriptor: d}
	}

	loc := locator.Locator{
		Ident:     d.Ident,
		Reference: locator.Reference{Kind: locator.KindRegistry, Ident: d.Ident, Version: *best},
	}
	return protocol.ResolveResult{Locator: loc}, nil
}

// Fetch downloads the version's tarball, verifies its shasum, and converts
// it into a normalized zip cache entry.
func (p *Protocol) Fetch(ctx context.Context, pc *protocol.Context, loc locator.Locator) (protocol.FetchResult, error) {
	doc, err := p.fetchMetadata(pc, loc.Ident.String())
	if err != nil {
		return protocol.FetchResult{}, err
	}
	raw, ok := doc.Versions[loc.Reference.Version.String()]
	if !ok {
		return protocol.FetchResult{}, fmt.Errorf("version %s of %s disappeared from registry metadata", loc.Reference.Version, loc.Ident)
	}
	var vd versionDist
	if err := json.Unmarshal(raw, &vd); err != nil {
		return protocol.FetchResult{}, fmt.Errorf("decoding dist for %s: %w", loc, err)
	}

	entry, err := pc.Cache.EnsureBlob(ctx, loc, "zip", func(ctx context.Context) ([]byte, error) {
		resp, err := pc.HTTPClient.Get(vd.Dist.Tarball)
		if err != nil {
			return nil, fmt.Errorf("downloading tarball for %s: %w", loc, err)
		}
		defer resp.Body.Close()
		tgz, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if vd.Dist.Shasum != "" {
			sum := sha1.Sum(tgz)
			actual := fmt.Sprintf("%x", sum[:])
			if actual != vd.Dist.Shasum {
				return nil, ErrChecksumMismatch{Ident: loc.Ident.String(), Expected: vd.Dist.Shasum, Actual: actual}
			}
		}
		entries, err := formats.ReadTarGz(tgz)
		if err != nil {
			return nil, fmt.Errorf("reading tarball for %s: %w", loc, err)
		}
		normalized := formats.NormalizeEntries(entries, loc.Ident.Slug())
		return formats.WriteZip(normalized)
	})
	if err != nil {
		return protocol.FetchResult{}, err
	}

	entries, err := formats.ReadZip(entry.Bytes)
	if err != nil {
		return protocol.FetchResult{}, fmt.Errorf("reading back cached archive for %s: %w", loc, err)
	}
	manifestData, _ := protocol.ExtractManifest(entries, loc.Ident.Slug())

	return protocol.FetchResult{
		ManifestData: manifestData,
		ArchivePath:  entry.Path,
		Checksum:     entry.Checksum,
	}, nil
}

func init() {
	protocol.Register(locator.KindRegistry, New())
}
