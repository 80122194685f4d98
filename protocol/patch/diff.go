package patch

import (
	"fmt"
	"strconv"
	"strings"
)

// hunk is one "@@ -oldStart,oldLines +newStart,newLines @@" block of a
// unified diff, plus its body lines (each prefixed ' ', '+', or '-').
type hunk struct {
	oldStart int
	oldLines int
	lines    []string
}

// fileDiff is every hunk touching one file, identified by its "+++ b/<path>"
// header.
type fileDiff struct {
	path  string
	hunks []hunk
}

// parseUnifiedDiff parses a standard "diff -u"/git-style unified diff into
// one fileDiff per "--- a/"/"+++ b/" pair. No ecosystem library in the
// example pack parses this format (sergi/go-diff's Patch type is Google's
// own non-unified format; pmezard/go-difflib only generates diffs), so this
// is hand-rolled against the well-known grammar.
func parseUnifiedDiff(text string) ([]fileDiff, error) {
	lines := strings.Split(text, "\n")
	var files []fileDiff
	var cur *fileDiff

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			i++
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			path = strings.TrimPrefix(path, "b/")
			files = append(files, fileDiff{path: path})
			cur = &files[len(files)-1]
			i++
		case strings.HasPrefix(line, "@@ "):
			h, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				return nil, fmt.Errorf("hunk with no preceding file header at line %d", i+1)
			}
			cur.hunks = append(cur.hunks, h)
			i = next
		default:
			i++
		}
	}
	return files, nil
}

func parseHunk(lines []string, start int) (hunk, int, error) {
	header := lines[start]
	// "@@ -oldStart,oldLines +newStart,newLines @@" (lines counts optional,
	// default to 1 when omitted).
	parts := strings.SplitN(header, "@@", 3)
	if len(parts) < 2 {
		return hunk{}, 0, fmt.Errorf("malformed hunk header %q", header)
	}
	rangeSpec := strings.TrimSpace(parts[1])
	fields := strings.Fields(rangeSpec)
	if len(fields) < 1 {
		return hunk{}, 0, fmt.Errorf("malformed hunk range %q", rangeSpec)
	}
	oldStart, oldLines, err := parseRange(fields[0])
	if err != nil {
		return hunk{}, 0, err
	}

	h := hunk{oldStart: oldStart, oldLines: oldLines}
	i := start + 1
	for i < len(lines) {
		l := lines[i]
		if strings.HasPrefix(l, "@@ ") || strings.HasPrefix(l, "--- ") || strings.HasPrefix(l, "+++ ") {
			break
		}
		if l == "" && i == len(lines)-1 {
			break
		}
		h.lines = append(h.lines, l)
		i++
	}
	return h, i, nil
}

func parseRange(spec string) (start, count int, err error) {
	spec = strings.TrimPrefix(spec, "-")
	spec = strings.TrimPrefix(spec, "+")
	parts := strings.SplitN(spec, ",", 2)
	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed range %q: %w", spec, err)
	}
	count = 1
	if len(parts) == 2 {
		count, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range %q: %w", spec, err)
		}
	}
	return start, count, nil
}

// applyFileDiff applies fd's hunks to original, returning the patched text.
func applyFileDiff(original string, fd fileDiff) (string, error) {
	srcLines := strings.Split(original, "\n")
	var out []string
	cursor := 0 // 0-based index into srcLines already emitted

	for _, h := range fd.hunks {
		target := h.oldStart - 1
		if target < 0 {
			target = 0
		}
		if target > len(srcLines) {
			return "", fmt.Errorf("hunk targets line %d past end of file (%d lines)", h.oldStart, len(srcLines))
		}
		out = append(out, srcLines[cursor:target]...)
		cursor = target

		for _, l := range h.lines {
			if l == "" {
				continue
			}
			marker, content := l[0], l[1:]
			switch marker {
			case ' ':
				if cursor >= len(srcLines) || srcLines[cursor] != content {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, content)
				cursor++
			case '-':
				if cursor >= len(srcLines) || srcLines[cursor] != content {
					return "", fmt.Errorf("removal mismatch at line %d", cursor+1)
				}
				cursor++
			case '+':
				out = append(out, content)
			default:
				return "", fmt.Errorf("unrecognized hunk line marker %q", marker)
			}
		}
	}
	out = append(out, srcLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}
