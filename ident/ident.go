// Package ident parses and prints npm package identifiers: an optional
// "@scope/" prefix followed by a name segment.
package ident

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// identPattern matches "@scope/name" or "name", rejecting embedded "@" or "/"
// inside either segment and an empty name.
var identPattern = regexp.MustCompile(`^(?:@([^/@]+)/)?([^/@]+)$`)

// ErrInvalidIdent is returned when a string does not parse as a valid Ident.
type ErrInvalidIdent struct {
	Source string
}

func (e ErrInvalidIdent) Error() string {
	return fmt.Sprintf("invalid ident: %q", e.Source)
}

// Ident is a parsed npm package name.
type Ident struct {
	scope string // without leading "@", empty if unscoped
	name  string
}

// Parse parses s into an Ident. Rejects empty names and embedded "@".
func Parse(s string) (Ident, error) {
	m := identPattern.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return Ident{}, ErrInvalidIdent{Source: s}
	}
	return Ident{scope: m[1], name: m[2]}, nil
}

// MustParse is Parse but panics on error; for use with literal identifiers.
func MustParse(s string) Ident {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// New constructs an Ident directly from a scope (without "@", may be empty) and a name.
func New(scope, name string) Ident {
	return Ident{scope: scope, name: name}
}

// Scope returns the scope without the leading "@", or "" if unscoped.
func (i Ident) Scope() string { return i.scope }

// Name returns the name segment.
func (i Ident) Name() string { return i.name }

// Scoped reports whether i carries a scope.
func (i Ident) Scoped() bool { return i.scope != "" }

// String renders the canonical "@scope/name" or "name" form.
func (i Ident) String() string {
	if i.scope == "" {
		return i.name
	}
	return "@" + i.scope + "/" + i.name
}

// Slug renders a path-safe transform: "@scope/name" becomes "@scope-name",
// matching the cache key convention in spec.md §6.
func (i Ident) Slug() string {
	if i.scope == "" {
		return i.name
	}
	return "@" + i.scope + "-" + i.name
}

// TypeIdent returns the corresponding "@types/*" identifier for this ident,
// following the usual DefinitelyTyped naming convention.
func (i Ident) TypeIdent() Ident {
	if i.scope == "" {
		return Ident{scope: "types", name: i.name}
	}
	return Ident{scope: "types", name: i.scope + "__" + i.name}
}

// Compare orders idents by their full string form.
func (i Ident) Compare(other Ident) int {
	return strings.Compare(i.String(), other.String())
}

// Equal reports whether i and other denote the same identifier.
func (i Ident) Equal(other Ident) bool {
	return i.scope == other.scope && i.name == other.name
}

// MatchGlob reports whether i's full string form matches a shell-style glob
// pattern (supplemented from zpm-primitives/src/ident_glob.rs; used by
// packageExtensions and resolutions lookups that target a bare name without
// pinning a scope).
func (i Ident) MatchGlob(pattern string) bool {
	ok, err := path.Match(pattern, i.String())
	return err == nil && ok
}
