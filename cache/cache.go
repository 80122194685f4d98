// Package cache implements the content-addressed package cache of spec.md
// §4.E: a zip archive store keyed by locator + content checksum, with
// at-most-once concurrent population and atomic-rename-then-".ready" commit,
// grounded on registry/storage/blobwriter.go's resumable-upload commit shape.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/corepm/corepm/internal/dlog"
	"github.com/corepm/corepm/locator"
)

// AlgorithmBlake2b is the digest.Algorithm used for cache-entry checksums
// (§4.E mandates Blake2b-64, i.e. the first 16 hex characters of a Blake2b
// digest over the archive bytes).
const AlgorithmBlake2b digest.Algorithm = "blake2b"

// ErrImmutableCacheMiss is returned by EnsureBlob when enableImmutableCache
// is set and no valid cache entry exists (§4.E).
type ErrImmutableCacheMiss struct {
	Locator locator.Locator
}

func (e ErrImmutableCacheMiss) Error() string {
	return fmt.Sprintf("immutable cache: missing entry for %s", e.Locator)
}

// Entry describes one populated cache slot.
type Entry struct {
	Path     string
	Checksum string // short (16 hex char) Blake2b checksum, embedded in Path
	Bytes    []byte
}

// Producer materializes the bytes for a cache entry; called at most once per
// concurrently-requested locator+extension.
type Producer func(ctx context.Context) ([]byte, error)

// Cache is a content-addressed, at-most-once-populated archive store rooted
// at a single directory.
type Cache struct {
	dir              string
	immutable        bool
	sf               singleflight.Group
	hits, misses     prometheus.Counter
	coalesced        prometheus.Counter
}

// New returns a Cache rooted at dir, creating it if necessary.
func New(dir string, immutable bool) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	c := &Cache{
		dir:       dir,
		immutable: immutable,
		hits:      prometheus.NewCounter(prometheus.CounterOpts{Name: "corepm_cache_hits_total"}),
		misses:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corepm_cache_misses_total"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{Name: "corepm_cache_coalesced_total"}),
	}
	return c, nil
}

// CompatibilityKey is the fingerprint a lockfile stamps into its
// "__metadata.cacheKey" header (§4.H): a mismatch against the cache the
// current binary would populate means every lockfile entry must be treated
// as stale rather than trusted blindly. It names the two facts that would
// invalidate a prior run's entries if they ever changed: the checksum
// algorithm and the archive container format.
func (c *Cache) CompatibilityKey() string {
	return "blake2b16/zip1"
}

// Collectors exposes the cache's prometheus counters for registration.
func (c *Cache) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.hits, c.misses, c.coalesced}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Slug renders a path-safe transform of loc, used as the cache filename
// prefix ("@scope/name" -> "@scope-name-<reference>", §6).
func Slug(loc locator.Locator) string {
	refSlug := unsafePathChars.ReplaceAllString(loc.Reference.String(), "-")
	return loc.Ident.Slug() + "-" + strings.Trim(refSlug, "-")
}

// KeyPath returns the final path a cache entry for loc+ext would occupy once
// its checksum is known: "<dir>/<slug>.<short-checksum>.<ext>" (§4.E).
func (c *Cache) KeyPath(loc locator.Locator, ext, shortChecksum string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s.%s.%s", Slug(loc), shortChecksum, ext))
}

func readyPath(path string) string { return path + ".ready" }

// CheckCacheEntry looks for an existing, valid cache entry for loc+ext: a
// ".ready" sentinel must exist, and the filename's embedded checksum must
// match the archive's actual content (invariant 4).
func (c *Cache) CheckCacheEntry(loc locator.Locator, ext string) (Entry, bool) {
	pattern := filepath.Join(c.dir, fmt.Sprintf("%s.*.%s", Slug(loc), ext))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Entry{}, false
	}
	for _, path := range matches {
		if strings.HasSuffix(path, ".ready") {
			continue
		}
		if _, err := os.Stat(readyPath(path)); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		checksum := shortChecksum(data)
		if !strings.Contains(filepath.Base(path), "."+checksum+".") {
			continue // filename checksum stale relative to content: not valid
		}
		return Entry{Path: path, Checksum: checksum, Bytes: data}, true
	}
	return Entry{}, false
}

// EnsureBlob returns the existing cache entry for loc+ext if present and
// valid, otherwise populates it via UpsertBlob. Under enableImmutableCache a
// missing entry is a fatal ErrImmutableCacheMiss (§4.E).
func (c *Cache) EnsureBlob(ctx context.Context, loc locator.Locator, ext string, producer Producer) (Entry, error) {
	if entry, ok := c.CheckCacheEntry(loc, ext); ok {
		c.hits.Inc()
		return entry, nil
	}
	if c.immutable {
		return Entry{}, ErrImmutableCacheMiss{Locator: loc}
	}
	c.misses.Inc()
	return c.UpsertBlob(ctx, loc, ext, producer)
}

// lockPath is the per-locator sentinel flock'd to arbitrate population
// across processes (§5 "Shared-resource policy", §9 "Cache concurrency": do
// not rely solely on filesystem atomicity, since workers on the same host
// may race). It is keyed by locator+ext alone, not by content checksum, since
// the checksum isn't known until after the producer runs.
func (c *Cache) lockPath(loc locator.Locator, ext string) string {
	return filepath.Join(c.dir, fmt.Sprintf(".%s.%s.lock", unsafePathChars.ReplaceAllString(loc.String(), "-"), ext))
}

// withFileLock runs fn while holding a blocking, exclusive advisory lock
// (flock(2)) on c.lockPath(loc, ext), released on return. A process that
// already found a ".ready" sentinel via CheckCacheEntry never needs the
// lock; this is only reached on a cache miss, when a concurrent process
// populating the same entry must be waited on rather than raced.
func (c *Cache) withFileLock(loc locator.Locator, ext string, fn func() (Entry, error)) (Entry, error) {
	f, err := os.OpenFile(c.lockPath(loc, ext), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("opening cache lock file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return Entry{}, fmt.Errorf("flock cache entry: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// UpsertBlob populates (or re-populates) the cache entry for loc+ext.
// Concurrent callers for the same (locator, extension) coalesce onto a
// single producer invocation via singleflight (at-most-once per process);
// across processes, population is additionally arbitrated by an advisory
// file lock on a per-locator sentinel (withFileLock), so two processes on
// the same host never run the producer concurrently for the same entry.
// Completion is marked by atomically renaming a temp file to its final name
// and writing a ".ready" sibling, so a reader never observes a partial file
// under its final name.
func (c *Cache) UpsertBlob(ctx context.Context, loc locator.Locator, ext string, producer Producer) (Entry, error) {
	key := loc.String() + "#" + ext
	v, err, shared := c.sf.Do(key, func() (any, error) {
		return c.withFileLock(loc, ext, func() (Entry, error) {
			// Another process may have populated (and released its lock
			// on) this entry while we were waiting to acquire ours.
			if entry, ok := c.CheckCacheEntry(loc, ext); ok {
				return entry, nil
			}

			data, err := producer(ctx)
			if err != nil {
				return Entry{}, err
			}
			checksum := shortChecksum(data)
			finalPath := c.KeyPath(loc, ext, checksum)

			tmp, err := os.CreateTemp(c.dir, ".tmp-*")
			if err != nil {
				return Entry{}, fmt.Errorf("creating temp cache file: %w", err)
			}
			tmpPath := tmp.Name()
			if _, err := tmp.Write(data); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return Entry{}, fmt.Errorf("writing temp cache file: %w", err)
			}
			if err := tmp.Close(); err != nil {
				os.Remove(tmpPath)
				return Entry{}, err
			}
			if err := os.Rename(tmpPath, finalPath); err != nil {
				os.Remove(tmpPath)
				return Entry{}, fmt.Errorf("committing cache entry: %w", err)
			}
			if err := os.WriteFile(readyPath(finalPath), nil, 0o644); err != nil {
				return Entry{}, fmt.Errorf("writing .ready sentinel: %w", err)
			}

			dlog.GetLogger(ctx).Debugf("cache: populated %s", finalPath)
			return Entry{Path: finalPath, Checksum: checksum, Bytes: data}, nil
		})
	})
	if shared {
		c.coalesced.Inc()
	}
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// shortChecksum returns the first 16 hex characters of the Blake2b-256
// digest of data, the checksum embedded in cache filenames.
func shortChecksum(data []byte) string {
	sum := blake2b.Sum256(data)
	d := digest.NewDigestFromBytes(AlgorithmBlake2b, sum[:])
	return d.Encoded()[:16]
}
