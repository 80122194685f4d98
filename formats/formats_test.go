package formats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZipRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "package/index.js", Body: []byte("module.exports = 1;")},
		{Name: "package/bin/cli.js", Body: []byte("#!/usr/bin/env node"), Executable: true},
	}
	data, err := WriteZip(entries)
	require.NoError(t, err)

	got, err := ReadZip(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// alphabetical order: "package/bin/cli.js" < "package/index.js"
	require.Equal(t, "package/bin/cli.js", got[0].Name)
	require.True(t, got[0].Executable)
	require.Equal(t, "package/index.js", got[1].Name)
}

func TestZipRejectsEscapingEntry(t *testing.T) {
	_, err := WriteZip([]Entry{{Name: "../escape.js", Body: []byte("x")}})
	require.Error(t, err)
}

func TestTarGzRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "package/package.json", Body: []byte(`{"name":"x"}`)},
	}
	data, err := WriteTarGz(entries)
	require.NoError(t, err)

	got, err := ReadTarGz(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "package/package.json", got[0].Name)
}

func TestNormalizeEntries(t *testing.T) {
	entries := []Entry{{Name: "package/index.js"}}
	out := NormalizeEntries(entries, "left-pad")
	require.Equal(t, "node_modules/left-pad/index.js", out[0].Name)
}
