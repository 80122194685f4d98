package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
)

func testLocator(t *testing.T) locator.Locator {
	t.Helper()
	loc, err := locator.ParseLocator("left-pad@npm:1.3.0")
	require.NoError(t, err)
	return loc
}

func TestUpsertBlobThenCheckCacheEntry(t *testing.T) {
	c, err := New(t.TempDir(), false)
	require.NoError(t, err)
	loc := testLocator(t)

	entry, err := c.UpsertBlob(context.Background(), loc, "zip", func(ctx context.Context) ([]byte, error) {
		return []byte("archive bytes"), nil
	})
	require.NoError(t, err)
	require.FileExists(t, entry.Path)
	require.FileExists(t, entry.Path+".ready")

	found, ok := c.CheckCacheEntry(loc, "zip")
	require.True(t, ok)
	require.Equal(t, entry.Path, found.Path)
	require.Equal(t, entry.Checksum, found.Checksum)
}

func TestEnsureBlobCoalescesConcurrentProducers(t *testing.T) {
	c, err := New(t.TempDir(), false)
	require.NoError(t, err)
	loc := testLocator(t)

	var calls int32
	var wg sync.WaitGroup
	results := make([]Entry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.EnsureBlob(context.Background(), loc, "zip", func(ctx context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				return []byte("payload"), nil
			})
			require.NoError(t, err)
			results[i] = entry
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, calls, int32(8))
	require.GreaterOrEqual(t, calls, int32(1))
	for _, r := range results {
		require.Equal(t, results[0].Path, r.Path)
	}
}

func TestEnsureBlobImmutableCacheMiss(t *testing.T) {
	c, err := New(t.TempDir(), true)
	require.NoError(t, err)
	loc := testLocator(t)

	_, err = c.EnsureBlob(context.Background(), loc, "zip", func(ctx context.Context) ([]byte, error) {
		t.Fatal("producer must not run under immutable cache miss")
		return nil, nil
	})
	require.ErrorAs(t, err, &ErrImmutableCacheMiss{})
}

func TestCheckCacheEntryRejectsTamperedContent(t *testing.T) {
	c, err := New(t.TempDir(), false)
	require.NoError(t, err)
	loc := testLocator(t)

	entry, err := c.UpsertBlob(context.Background(), loc, "zip", func(ctx context.Context) ([]byte, error) {
		return []byte("original"), nil
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(entry.Path, []byte("tampered"), 0o644))

	_, ok := c.CheckCacheEntry(loc, "zip")
	require.False(t, ok)
}

func TestCheckCacheEntryMissingReadySentinel(t *testing.T) {
	c, err := New(t.TempDir(), false)
	require.NoError(t, err)
	loc := testLocator(t)

	entry, err := c.UpsertBlob(context.Background(), loc, "zip", func(ctx context.Context) ([]byte, error) {
		return []byte("data"), nil
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.Path+".ready"))

	_, ok := c.CheckCacheEntry(loc, "zip")
	require.False(t, ok)
}

func TestSlugIsPathSafe(t *testing.T) {
	loc, err := locator.ParseLocator("@scope/pkg@npm:1.0.0")
	require.NoError(t, err)
	s := Slug(loc)
	require.NotContains(t, s, "/")
	require.NotContains(t, s, ":")
	require.Equal(t, filepath.Base(s), s)
}
