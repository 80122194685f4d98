package formats

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
)

// ErrInvalidTarPath is returned when a tar entry's name escapes the archive root.
type ErrInvalidTarPath struct {
	Name string
}

func (e ErrInvalidTarPath) Error() string {
	return fmt.Sprintf("invalid tar entry path: %q", e.Name)
}

// ReadTarGz reads a gzip-compressed tar archive, accepting only regular
// files (type '0'/TypeReg) and validating paths with the same escape check
// as zip (§4.B).
func ReadTarGz(data []byte) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading gzip header: %w", err)
	}
	defer gz.Close()
	return ReadTar(gz)
}

// ReadTar reads an uncompressed tar stream.
func ReadTar(r io.Reader) ([]Entry, error) {
	tr := tar.NewReader(r)
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := validateEntryPath(hdr.Name); err != nil {
			return nil, ErrInvalidTarPath{Name: hdr.Name}
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading tar entry %q: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{
			Name:       hdr.Name,
			Mode:       uint32(hdr.Mode),
			Executable: hdr.Mode&0o111 != 0,
			Body:       body,
		})
	}
	return entries, nil
}

// WriteTarGz writes entries as a gzip-compressed tar archive in stable
// alphabetical order.
func WriteTarGz(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, e := range sorted {
		mode := int64(0o644)
		if e.Executable {
			mode = 0o755
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     mode,
			Size:     int64(len(e.Body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(e.Body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
