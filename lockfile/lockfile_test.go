package lockfile_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corepm/corepm/lockfile"
)

func sampleLockfile() *lockfile.Lockfile {
	lf := lockfile.New("blake2b16/zip1")
	lf.Entries = []lockfile.Entry{
		{
			Descriptors:  []string{"right-pad@^2.0.0"},
			Version:      "2.1.0",
			Resolution:   "right-pad@npm:2.1.0",
			Checksum:     "deadbeef",
			LanguageName: "node",
			LinkType:     "hard",
		},
		{
			Descriptors: []string{"left-pad@^1.0.0", "left-pad@1.3.0"},
			Version:     "1.3.0",
			Resolution:  "left-pad@npm:1.3.0",
			Dependencies: map[string]string{
				"right-pad": "^2.0.0",
			},
			Checksum:     "cafef00d",
			LanguageName: "node",
			LinkType:     "hard",
		},
	}
	return lf
}

func TestWriteParseRoundTrip(t *testing.T) {
	lf := sampleLockfile()
	data, err := lockfile.Write(lf)
	require.NoError(t, err)

	parsed, err := lockfile.Parse(data)
	require.NoError(t, err)
	require.Equal(t, lf.Metadata, parsed.Metadata)
	require.Len(t, parsed.Entries, 2)

	e, ok := parsed.Lookup("left-pad@1.3.0")
	require.True(t, ok)
	require.Equal(t, "1.3.0", e.Version)
	require.Equal(t, "left-pad@npm:1.3.0", e.Resolution)
	require.Equal(t, "^2.0.0", e.Dependencies["right-pad"])

	_, ok = parsed.Lookup("left-pad@^1.0.0")
	require.True(t, ok)
}

func TestWriteCanonicalOrder(t *testing.T) {
	lf := sampleLockfile()
	data, err := lockfile.Write(lf)
	require.NoError(t, err)

	text := string(data)
	metaIdx := indexOf(t, text, "__metadata")
	leftIdx := indexOf(t, text, "left-pad@1.3.0")
	rightIdx := indexOf(t, text, "right-pad@^2.0.0")

	require.Less(t, metaIdx, leftIdx, "metadata must come before any descriptor block")
	require.Less(t, leftIdx, rightIdx, "blocks must be sorted by their first descriptor")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("expected %q to contain %q", haystack, needle)
	return -1
}

func TestStaleOnVersionOrCacheKeyMismatch(t *testing.T) {
	lf := lockfile.New("blake2b16/zip1")
	require.False(t, lf.Stale("blake2b16/zip1"))
	require.True(t, lf.Stale("some-other-key"))

	lf.Metadata.Version = lockfile.FormatVersion - 1
	require.True(t, lf.Stale("blake2b16/zip1"))
}

func TestReuseContract(t *testing.T) {
	lf := sampleLockfile()

	_, ok := lf.Reuse("left-pad@1.3.0", lockfile.ReuseOptions{Refresh: true})
	require.False(t, ok, "a forced refresh never reuses")

	_, ok = lf.Reuse("left-pad@2.0.0", lockfile.ReuseOptions{})
	require.False(t, ok, "a descriptor absent from the lockfile can't be reused")

	e, ok := lf.Reuse("left-pad@1.3.0", lockfile.ReuseOptions{})
	require.True(t, ok)
	require.True(t, e.VerifyChecksum("cafef00d"))
	require.False(t, e.VerifyChecksum("wrong"))
}

func TestReuseRespectsPlatformConditions(t *testing.T) {
	lf := lockfile.New("k")
	other := "windows"
	if runtime.GOOS == "windows" {
		other = "linux"
	}
	lf.Entries = []lockfile.Entry{
		{Descriptors: []string{"native-thing@1.0.0"}, Conditions: "os=" + other},
	}
	_, ok := lf.Reuse("native-thing@1.0.0", lockfile.ReuseOptions{})
	require.False(t, ok, "an entry built for a different platform must not be reused")

	lf.Entries[0].Conditions = ""
	e, ok := lf.Reuse("native-thing@1.0.0", lockfile.ReuseOptions{})
	require.True(t, ok)
	require.Equal(t, "native-thing@1.0.0", e.Descriptors[0])
}
