// Package peers implements the §4.G post-resolution peer-propagation pass:
// walk the completed resolution tree from its roots, virtualizing any
// package whose peer dependencies resolve to a concrete sibling in its
// ancestor chain, producing the tree the hoister actually lays out.
package peers

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/scheduler"
)

// ErrUnsatisfiedPeer is returned when a required (non-optional) peer
// dependency has no match anywhere in the requesting package's ancestor
// chain.
type ErrUnsatisfiedPeer struct {
	Locator locator.Locator
	Peer    ident.Ident
}

func (e ErrUnsatisfiedPeer) Error() string {
	return fmt.Sprintf("unresolved required peer dependency %s for %s", e.Peer, e.Locator)
}

// Node is one entry of the virtualized tree: Locator is the (possibly
// virtual) identity the linker should place, Physical is the underlying
// cache-resident package it was virtualized from, and Edges are its
// dependencies, already resolved to their own (possibly virtual) identities.
type Node struct {
	Locator  locator.Locator
	Physical locator.Locator
	Manifest manifest.Manifest
	Edges    map[ident.Ident]locator.Locator

	// ResolvedPeers is the peer-ident -> concrete-locator binding this
	// node's (possible) virtualization was computed from, carried forward
	// so the hoister can check invariant 3 (a peer must remain reachable
	// from some ancestor) without recomputing the peer search itself.
	ResolvedPeers map[ident.Ident]locator.Locator

	// ArchivePath, Synthetic, LocalPath, and Checksum mirror
	// scheduler.Resolution's fields of the same name, carried forward so
	// the hoister can materialize this package's files.
	ArchivePath string
	Synthetic   bool
	LocalPath   string
	Checksum    string
}

// Result is the virtualized tree the hoister consumes.
type Result struct {
	Roots []locator.Locator
	Nodes map[string]*Node // keyed by Locator.String() (the possibly-virtual identity)
}

type propagator struct {
	tree *scheduler.Tree

	// inProgress holds a node's provisional (already-computed) identity
	// while its own children are still being walked, so a dependency cycle
	// reaching back to it resolves to that identity instead of recursing
	// forever (§4.G "back edges... satisfied by the already-visited
	// virtualization").
	inProgress map[string]locator.Locator
	done       map[string]locator.Locator
	nodes      map[string]*Node
}

// Propagate runs peer propagation over tree, returning the virtualized tree.
//
// A visited package is memoized by its final identity: the physical locator
// plus the peers it resolved to in the visiting context. The same physical
// package reached from two contexts with different available peers yields
// two virtual locators; contexts that resolve its peers identically share
// one. The memo does not consider the rest of the ancestor chain, so the
// dependencies below a shared identity are walked only in the first context
// that produced it.
func Propagate(tree *scheduler.Tree) (*Result, error) {
	p := &propagator{
		tree:       tree,
		inProgress: make(map[string]locator.Locator),
		done:       make(map[string]locator.Locator),
		nodes:      make(map[string]*Node),
	}

	result := &Result{Roots: append([]locator.Locator(nil), tree.Roots...)}
	for _, root := range tree.Roots {
		res, ok := tree.Resolutions[root.String()]
		if !ok {
			return nil, fmt.Errorf("peers: root %s missing from resolution tree", root)
		}
		rootNode := &Node{
			Locator: root, Physical: root, Manifest: res.Manifest,
			ArchivePath: res.ArchivePath, Synthetic: res.Synthetic, LocalPath: res.LocalPath, Checksum: res.Checksum,
			Edges: make(map[ident.Ident]locator.Locator, len(res.Edges)),
		}
		rootEnv := []map[ident.Ident]locator.Locator{res.Edges}
		for depIdent, childLoc := range res.Edges {
			finalChild, err := p.visit(childLoc, rootEnv)
			if err != nil {
				return nil, err
			}
			rootNode.Edges[depIdent] = finalChild
		}
		p.nodes[root.String()] = rootNode
	}

	result.Nodes = p.nodes
	return result, nil
}

// visit computes loc's virtualized identity given env, the chain of its
// ancestors' own dependency edges (nearest ancestor last), used to satisfy
// loc's own peer dependencies, then recurses into loc's children with env
// extended by loc's edges.
func (p *propagator) visit(loc locator.Locator, env []map[ident.Ident]locator.Locator) (locator.Locator, error) {
	physKey := loc.String()
	if v, ok := p.inProgress[physKey]; ok {
		return v, nil
	}

	res, ok := p.tree.Resolutions[physKey]
	if !ok {
		return locator.Locator{}, fmt.Errorf("peers: %s missing from resolution tree", loc)
	}

	resolvedPeers := make(map[ident.Ident]locator.Locator, len(res.Peers))
	for peerIdent, pr := range res.Peers {
		found, ok := searchEnv(env, peerIdent)
		if !ok {
			if pr.Optional {
				continue
			}
			return locator.Locator{}, ErrUnsatisfiedPeer{Locator: loc, Peer: peerIdent}
		}
		resolvedPeers[peerIdent] = found
	}

	finalLoc := loc
	if len(resolvedPeers) > 0 {
		finalLoc = virtualize(loc, resolvedPeers)
	}
	if v, ok := p.done[finalLoc.String()]; ok {
		return v, nil
	}
	p.inProgress[physKey] = finalLoc

	node := &Node{
		Locator: finalLoc, Physical: loc, Manifest: res.Manifest, ResolvedPeers: resolvedPeers,
		ArchivePath: res.ArchivePath, Synthetic: res.Synthetic, LocalPath: res.LocalPath, Checksum: res.Checksum,
		Edges: make(map[ident.Ident]locator.Locator, len(res.Edges)),
	}
	childEnv := append(append([]map[ident.Ident]locator.Locator{}, env...), res.Edges)
	for depIdent, childLoc := range res.Edges {
		finalChild, err := p.visit(childLoc, childEnv)
		if err != nil {
			return locator.Locator{}, err
		}
		node.Edges[depIdent] = finalChild
	}

	p.nodes[finalLoc.String()] = node
	delete(p.inProgress, physKey)
	p.done[finalLoc.String()] = finalLoc
	return finalLoc, nil
}

// searchEnv looks up id starting from the nearest ancestor (the end of env)
// outward to the root, matching node resolution's shadowing order.
func searchEnv(env []map[ident.Ident]locator.Locator, id ident.Ident) (locator.Locator, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if loc, ok := env[i][id]; ok {
			return loc, true
		}
	}
	return locator.Locator{}, false
}

// virtualize builds the virtual locator for loc given its resolved peer
// locators: a Blake2b-256 hex digest (64 characters, as locator.Reference's
// VirtualHash requires) of loc's own canonical string plus each resolved
// peer in ident-sorted order, so identical peer contexts deduplicate
// (§4.G "a single physical package may yield many virtual locators... identical
// contexts deduplicate").
func virtualize(loc locator.Locator, resolvedPeers map[ident.Ident]locator.Locator) locator.Locator {
	idents := make([]ident.Ident, 0, len(resolvedPeers))
	for id := range resolvedPeers {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].String() < idents[j].String() })

	var sb strings.Builder
	sb.WriteString(loc.String())
	for _, id := range idents {
		sb.WriteString("|")
		sb.WriteString(id.String())
		sb.WriteString("=")
		sb.WriteString(resolvedPeers[id].String())
	}

	sum := blake2b.Sum256([]byte(sb.String()))
	hash := fmt.Sprintf("%x", sum[:])

	return locator.Locator{
		Ident: loc.Ident,
		Reference: locator.Reference{
			Kind:         locator.KindVirtual,
			VirtualInner: loc.Reference,
			VirtualHash:  hash,
		},
		Parent: loc.Parent,
	}
}
