// Package formats implements the Zip and Tar(+gzip) archive codecs of
// spec.md §4.B: reading, writing, traversal-safety validation, and entry
// normalization for package archives moving through the cache and protocol
// layers.
package formats

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	kzip "github.com/klauspost/compress/flate"
)

// ErrInvalidZip is returned for malformed or unsafe zip archives.
type ErrInvalidZip struct {
	Reason string
}

func (e ErrInvalidZip) Error() string { return "invalid zip: " + e.Reason }

// Entry is one file stored in an archive.
type Entry struct {
	Name       string
	Mode       uint32 // POSIX permission bits; executable bit preserved from source fs
	Executable bool
	Body       []byte
}

func init() {
	// Swap the deflate codec for klauspost/compress's pure-Go implementation,
	// which is faster than the standard library's compress/flate; archive/zip
	// exposes exactly this registration seam for custom decompressors.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return kzip.NewReader(r)
	})
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return kzip.NewWriter(w, kzip.DefaultCompression)
	})
}

// ReadZip parses a zip archive and returns its entries, rejecting any entry
// whose name would escape the archive root.
func ReadZip(data []byte) ([]Entry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ErrInvalidZip{Reason: err.Error()}
	}

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := validateEntryPath(f.Name); err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, ErrInvalidZip{Reason: err.Error()}
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, ErrInvalidZip{Reason: err.Error()}
		}
		mode := f.Mode()
		entries = append(entries, Entry{
			Name:       f.Name,
			Mode:       uint32(mode.Perm()),
			Executable: mode.Perm()&0o111 != 0,
			Body:       body,
		})
	}
	return entries, nil
}

// WriteZip produces a zip archive whose central directory lists entries in
// stable alphabetical order by name, with executable/non-executable mode
// bits recorded per entry (§4.B).
func WriteZip(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range sorted {
		if err := validateEntryPath(e.Name); err != nil {
			return nil, err
		}
		mode := uint32(0o644)
		if e.Executable {
			mode = 0o755
		}
		hdr := &zip.FileHeader{
			Name:   e.Name,
			Method: zip.Deflate,
		}
		hdr.SetMode(os.FileMode(mode))
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(e.Body); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// validateEntryPath rejects absolute paths and "parent directory" escapes,
// per zpm-formats/src/zip_iter.rs and spec.md §9's open question on
// `..`-prefixed entries.
func validateEntryPath(name string) error {
	if name == "" {
		return ErrInvalidZip{Reason: "empty entry name"}
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return ErrInvalidZip{Reason: fmt.Sprintf("entry %q has an absolute or backslash path", name)}
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidZip{Reason: fmt.Sprintf("entry %q escapes archive root", name)}
	}
	return nil
}
