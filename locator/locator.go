package locator

import (
	"strings"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/semver"
)

// Descriptor is (ident, range) — what a manifest asks for.
type Descriptor struct {
	Ident ident.Ident
	Range semver.Range
}

// String renders the canonical "ident@range" form.
func (d Descriptor) String() string {
	return d.Ident.String() + "@" + d.Range.String()
}

// ParseDescriptor parses "ident@range" into a Descriptor.
func ParseDescriptor(s string) (Descriptor, error) {
	idRaw, rangeRaw, err := splitIdentSuffix(s)
	if err != nil {
		return Descriptor{}, err
	}
	id, err := ident.Parse(idRaw)
	if err != nil {
		return Descriptor{}, err
	}
	r, err := semver.ParseRange(rangeRaw)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Ident: id, Range: r}, nil
}

// Locator is (ident, reference) — what resolution chose. It may carry a
// parent locator solely to disambiguate bound references (§3), printed as
// "::parent=...".
type Locator struct {
	Ident     ident.Ident
	Reference Reference
	Parent    *Locator
}

// String renders the canonical "ident@reference[::parent=...]" form.
func (l Locator) String() string {
	s := l.Ident.String() + "@" + l.Reference.String()
	if l.Parent != nil {
		s += "::parent=" + l.Parent.String()
	}
	return s
}

// ParseLocator parses "ident@reference[::parent=...]" into a Locator.
func ParseLocator(s string) (Locator, error) {
	main := s
	var parentRaw string
	if i := strings.Index(s, "::parent="); i >= 0 {
		main, parentRaw = s[:i], s[i+len("::parent="):]
	}

	idRaw, refRaw, err := splitIdentSuffix(main)
	if err != nil {
		return Locator{}, err
	}
	id, err := ident.Parse(idRaw)
	if err != nil {
		return Locator{}, err
	}
	ref, err := ParseReference(refRaw)
	if err != nil {
		return Locator{}, err
	}

	loc := Locator{Ident: id, Reference: ref}
	if parentRaw != "" {
		parent, err := ParseLocator(parentRaw)
		if err != nil {
			return Locator{}, err
		}
		loc.Parent = &parent
	}
	return loc, nil
}

// Physical reports whether l is not a virtualized locator.
func (l Locator) Physical() bool { return l.Reference.Kind != KindVirtual }

// PhysicalLocator strips any virtualization, returning the underlying
// physical locator (invariant 3: a virtualized locator's physical locator
// has no virtualization parent of its own).
func (l Locator) PhysicalLocator() Locator {
	if l.Reference.Kind != KindVirtual {
		return l
	}
	return Locator{Ident: l.Ident, Reference: l.Reference.VirtualInner, Parent: l.Parent}
}

// Cacheable reports whether locators of this kind may be reused across
// installs (§4.F "Transient resolutions").
func (l Locator) Cacheable() bool {
	switch l.Reference.Kind {
	case KindFolder, KindTarball:
		return false // file-relative tarballs and folders are not cacheable; a tarball URL (KindURL) takes the default case
	case KindLink, KindPortal, KindPatch, KindWorkspace:
		return false
	default:
		return true
	}
}

// splitIdentSuffix splits "ident@suffix" at the last unambiguous "@" that is
// not part of a leading scope marker.
func splitIdentSuffix(s string) (idPart, suffix string, err error) {
	if strings.HasPrefix(s, "@") {
		// scoped ident: "@scope/name@suffix"
		secondAt := strings.Index(s[1:], "@")
		if secondAt < 0 {
			return "", "", ErrInvalidReference{Source: s, Reason: "missing '@suffix'"}
		}
		return s[:secondAt+1], s[secondAt+2:], nil
	}
	i := strings.Index(s, "@")
	if i < 0 {
		return "", "", ErrInvalidReference{Source: s, Reason: "missing '@suffix'"}
	}
	return s[:i], s[i+1:], nil
}

// PeerRange is a dependency range with an additional "optional" bit distinct
// from a regular dependency range (supplemented from
// zpm-primitives/src/range_peer.rs; peerDependenciesMeta.<name>.optional).
type PeerRange struct {
	Range    semver.Range
	Optional bool
}
