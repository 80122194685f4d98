// Package semver implements the Version and Range primitives of spec.md §3/§4.A:
// a semver-compatible version triple with an ordered prerelease sequence, and a
// boolean range expression over version comparisons.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	maxSourceLen    = 256
	maxComponentLen = 16          // decimal digits
	maxComponent    = 1<<53 - 1 // 2^53-1
)

// ErrInvalidVersion is returned when a string fails to parse as a Version.
type ErrInvalidVersion struct {
	Source string
	Reason string
}

func (e ErrInvalidVersion) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Source, e.Reason)
}

// PrereleaseSegment is one dot-separated component of a prerelease sequence.
// Exactly one of Num/Str is meaningful, selected by Numeric.
type PrereleaseSegment struct {
	Numeric bool
	Num     uint64
	Str     string
}

// Compare orders two prerelease segments: numeric sorts before string;
// same-kind segments compare as integers or lexicographically.
func (s PrereleaseSegment) Compare(o PrereleaseSegment) int {
	switch {
	case s.Numeric && !o.Numeric:
		return -1
	case !s.Numeric && o.Numeric:
		return 1
	case s.Numeric && o.Numeric:
		switch {
		case s.Num < o.Num:
			return -1
		case s.Num > o.Num:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(s.Str, o.Str)
	}
}

func (s PrereleaseSegment) String() string {
	if s.Numeric {
		return strconv.FormatUint(s.Num, 10)
	}
	return s.Str
}

// Version is a parsed major.minor.patch triple with an optional prerelease sequence.
type Version struct {
	Major, Minor, Patch uint64
	Prerelease          []PrereleaseSegment
	Build               string
	source              string
}

// Parse parses s as a Version. Rejects source strings over 256 characters and
// numeric components with more than 16 digits or a value above 2^53-1.
func Parse(s string) (Version, error) {
	if len(s) > maxSourceLen {
		return Version{}, ErrInvalidVersion{Source: s, Reason: "source too long"}
	}

	rest := s
	var build string
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		build = rest[i+1:]
		rest = rest[:i]
	}

	var prereleaseRaw string
	hasPrerelease := false
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		prereleaseRaw = rest[i+1:]
		rest = rest[:i]
		hasPrerelease = true
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return Version{}, ErrInvalidVersion{Source: s, Reason: "expected major.minor.patch"}
	}

	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Version{}, ErrInvalidVersion{Source: s, Reason: err.Error()}
		}
		nums[i] = n
	}

	v := Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Build: build, source: s}

	if hasPrerelease {
		if prereleaseRaw == "" {
			return Version{}, ErrInvalidVersion{Source: s, Reason: "empty prerelease"}
		}
		for _, seg := range strings.Split(prereleaseRaw, ".") {
			if seg == "" {
				return Version{}, ErrInvalidVersion{Source: s, Reason: "empty prerelease segment"}
			}
			if isAllDigits(seg) {
				n, err := parseComponent(seg)
				if err != nil {
					return Version{}, ErrInvalidVersion{Source: s, Reason: err.Error()}
				}
				v.Prerelease = append(v.Prerelease, PrereleaseSegment{Numeric: true, Num: n})
			} else {
				v.Prerelease = append(v.Prerelease, PrereleaseSegment{Str: seg})
			}
		}
	}

	return v, nil
}

// MustParse is Parse but panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseComponent(p string) (uint64, error) {
	if p == "" || len(p) > maxComponentLen {
		return 0, fmt.Errorf("component %q exceeds %d digits", p, maxComponentLen)
	}
	if !isAllDigits(p) {
		return 0, fmt.Errorf("component %q is not numeric", p)
	}
	n, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > maxComponent {
		return 0, fmt.Errorf("component %q exceeds 2^53-1", p)
	}
	return n, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HasPrerelease reports whether v carries a prerelease sequence.
func (v Version) HasPrerelease() bool { return len(v.Prerelease) > 0 }

// String renders the canonical "major.minor.patch[-prerelease][+build]" form.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if len(v.Prerelease) > 0 {
		b.WriteByte('-')
		segs := make([]string, len(v.Prerelease))
		for i, s := range v.Prerelease {
			segs[i] = s.String()
		}
		b.WriteString(strings.Join(segs, "."))
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// Compare orders versions by (major, minor, patch, has-no-prerelease, prerelease).
// A version with a prerelease sorts before the same version without one.
func (v Version) Compare(o Version) int {
	if c := compareUint(v.Major, o.Major); c != 0 {
		return c
	}
	if c := compareUint(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := compareUint(v.Patch, o.Patch); c != 0 {
		return c
	}

	vHasNone, oHasNone := !v.HasPrerelease(), !o.HasPrerelease()
	if vHasNone != oHasNone {
		if vHasNone {
			return 1 // no-prerelease sorts after prerelease-present
		}
		return -1
	}
	if vHasNone && oHasNone {
		return 0
	}

	for i := 0; i < len(v.Prerelease) && i < len(o.Prerelease); i++ {
		if c := v.Prerelease[i].Compare(o.Prerelease[i]); c != 0 {
			return c
		}
	}
	return compareUint(uint64(len(v.Prerelease)), uint64(len(o.Prerelease)))
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v sorts strictly before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o compare equal (ignoring Build metadata).
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }
