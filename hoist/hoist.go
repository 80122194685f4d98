// Package hoist implements the §4.J node_modules hoister: it expands the
// peer-propagated resolution tree into a packing tree (§9's arena design —
// a flat []Node addressed by NodeID rather than a pointer graph), then
// repeatedly raises nodes one level up until no further hoist is legal,
// preserving the packing-tree invariants (every package reachable from
// every dependent, no same-ident conflict among depth siblings, peer
// dependencies satisfied only by an ancestor).
package hoist

import (
	"fmt"
	"sort"

	"github.com/corepm/corepm/ident"
	"github.com/corepm/corepm/locator"
	"github.com/corepm/corepm/manifest"
	"github.com/corepm/corepm/peers"
)

// NodeID indexes into a Tree's Nodes arena. -1 denotes "no parent".
type NodeID int

const noParent NodeID = -1

// Node is one packing-tree slot: a directory occupied by exactly one
// package instance.
type Node struct {
	Parent NodeID

	// DependencyIdent is the ident this node is reachable under from
	// Parent's own node_modules — fixed for the node's lifetime; only
	// Parent (i.e. depth) changes as hoisting proceeds.
	DependencyIdent ident.Ident

	Locator       locator.Locator
	Physical      locator.Locator
	Manifest      manifest.Manifest
	ResolvedPeers map[ident.Ident]locator.Locator

	ArchivePath string
	Synthetic   bool
	LocalPath   string
	Checksum    string

	Children map[ident.Ident]NodeID
}

// Tree is the packing tree: NodeID 0 is a synthetic super-root standing in
// for the directory that holds every workspace project, so dependencies can
// hoist all the way up into the single node_modules a multi-project
// workspace shares.
type Tree struct {
	Nodes []Node
	Roots []NodeID // one per workspace project, each a direct child of the super-root
}

func (t *Tree) SuperRoot() NodeID { return 0 }

// Locate finds the node carrying loc's identity, if any — used by the build
// scheduler to map a dependency-graph locator back to its on-disk directory
// once hoisting has settled.
func (t *Tree) Locate(loc locator.Locator) (NodeID, bool) {
	key := loc.String()
	for i := range t.Nodes {
		if t.Nodes[i].Locator.String() == key {
			return NodeID(i), true
		}
	}
	return 0, false
}

// Build expands result (the output of peers.Propagate) into a packing tree,
// one fresh Node per dependency edge traversed — cloning virtualized
// packages so each peer context gets its own node, per §4.J step 1. A
// dependency cycle (a locator reachable from itself) is cut at the back
// edge: the already-placed ancestor occurrence satisfies any module
// resolution that would otherwise walk into the cycle again, so expansion
// simply doesn't recurse a second time into a locator already on the
// current path.
func Build(result *peers.Result) (*Tree, error) {
	t := &Tree{}
	super := t.addNode(noParent, ident.Ident{}, Node{Children: map[ident.Ident]NodeID{}})

	for _, root := range result.Roots {
		rootNode, ok := result.Nodes[root.String()]
		if !ok {
			return nil, fmt.Errorf("hoist: root %s missing from propagated tree", root)
		}
		rid := t.addNode(super, root.Ident, Node{
			Locator: root, Physical: root, Manifest: rootNode.Manifest, Checksum: rootNode.Checksum,
			Children: make(map[ident.Ident]NodeID, len(rootNode.Edges)),
		})
		t.Roots = append(t.Roots, rid)

		if err := t.expand(result, rid, rootNode, map[string]bool{root.String(): true}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) addNode(parent NodeID, depIdent ident.Ident, n Node) NodeID {
	n.Parent = parent
	n.DependencyIdent = depIdent
	if n.Children == nil {
		n.Children = map[ident.Ident]NodeID{}
	}
	id := NodeID(len(t.Nodes))
	t.Nodes = append(t.Nodes, n)
	if parent != noParent {
		t.Nodes[parent].Children[depIdent] = id
	}
	return id
}

func (t *Tree) expand(result *peers.Result, parent NodeID, parentNode *peers.Node, path map[string]bool) error {
	idents := make([]ident.Ident, 0, len(parentNode.Edges))
	for id := range parentNode.Edges {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].String() < idents[j].String() })

	for _, depIdent := range idents {
		childLoc := parentNode.Edges[depIdent]
		key := childLoc.String()
		if path[key] {
			continue
		}
		childNode, ok := result.Nodes[key]
		if !ok {
			return fmt.Errorf("hoist: %s missing from propagated tree", childLoc)
		}

		cid := t.addNode(parent, depIdent, Node{
			Locator: childLoc, Physical: childNode.Physical, Manifest: childNode.Manifest,
			ResolvedPeers: childNode.ResolvedPeers,
			ArchivePath:   childNode.ArchivePath, Synthetic: childNode.Synthetic, LocalPath: childNode.LocalPath,
			Checksum:      childNode.Checksum,
		})

		path[key] = true
		if err := t.expand(result, cid, childNode, path); err != nil {
			return err
		}
		delete(path, key)
	}
	return nil
}

// Hoist repeatedly raises nodes one level up until a fixed point is
// reached (§4.J step 3).
func (t *Tree) Hoist() {
	for t.passOnce() {
	}
}

type slot struct {
	dest     NodeID
	depIdent ident.Ident
}

// passOnce attempts one round of hoists. Candidates targeting the same
// (destination, ident) slot are grouped and settled together, so a tie
// between two sibling subtrees racing for the same newly-open slot in the
// same round is resolved by §4.J's preference rule instead of by whichever
// this pass happens to visit first.
func (t *Tree) passOnce() bool {
	counts := t.refCounts()

	candidatesBySlot := map[slot][]NodeID{}
	for i := range t.Nodes {
		id := NodeID(i)
		n := t.Nodes[id]
		if n.Parent == noParent {
			continue
		}
		if cur, ok := t.Nodes[n.Parent].Children[n.DependencyIdent]; !ok || cur != id {
			// already collapsed into an identical hoisted occurrence
			continue
		}
		dest := t.Nodes[n.Parent].Parent
		if dest == noParent {
			continue
		}
		if !t.peersSatisfiedAt(id, dest) {
			continue
		}
		s := slot{dest: dest, depIdent: n.DependencyIdent}
		candidatesBySlot[s] = append(candidatesBySlot[s], id)
	}

	moved := false
	for s, candidates := range candidatesBySlot {
		existingID, occupied := t.Nodes[s.dest].Children[s.depIdent]
		var existingLoc string
		if occupied {
			existingLoc = t.Nodes[existingID].Locator.String()
		}

		var contenders []NodeID
		for _, cand := range candidates {
			if occupied && t.Nodes[cand].Locator.String() == existingLoc {
				// this occurrence adds nothing the destination doesn't
				// already have: drop it in favor of the existing one.
				t.Nodes[t.Nodes[cand].Parent].Children[s.depIdent] = existingID
				moved = true
				continue
			}
			contenders = append(contenders, cand)
		}
		if occupied || len(contenders) == 0 {
			// a genuinely conflicting occupant at this slot is left in
			// place this round; it may vacate in a later pass as the rest
			// of the tree continues to settle.
			continue
		}

		winner := contenders[0]
		for _, cand := range contenders[1:] {
			if t.prefers(cand, winner, counts) {
				winner = cand
			}
		}
		t.move(winner, s.dest)
		moved = true
	}
	return moved
}

// prefers reports whether a should win a contested slot over b: the
// more-referenced locator wins, ties broken lexicographically (§4.J step 2).
func (t *Tree) prefers(a, b NodeID, counts map[string]int) bool {
	locA, locB := t.Nodes[a].Locator.String(), t.Nodes[b].Locator.String()
	if ca, cb := counts[locA], counts[locB]; ca != cb {
		return ca > cb
	}
	return locA < locB
}

func (t *Tree) refCounts() map[string]int {
	counts := make(map[string]int, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Parent == noParent {
			continue
		}
		counts[n.Locator.String()]++
	}
	return counts
}

// peersSatisfiedAt reports whether moving id to sit under newParent would
// keep invariant 3: every one of id's resolved peers must still be found by
// walking newParent's own ancestor chain (newParent inclusive) — never a
// sibling of id, never a descendant.
func (t *Tree) peersSatisfiedAt(id, newParent NodeID) bool {
	peers := t.Nodes[id].ResolvedPeers
	if len(peers) == 0 {
		return true
	}
	for _, peerLoc := range peers {
		found := false
		for anc := newParent; anc != noParent; anc = t.Nodes[anc].Parent {
			if t.Nodes[anc].Locator.String() == peerLoc.String() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t *Tree) move(id, newParent NodeID) {
	depIdent := t.Nodes[id].DependencyIdent
	oldParent := t.Nodes[id].Parent
	delete(t.Nodes[oldParent].Children, depIdent)
	t.Nodes[newParent].Children[depIdent] = id
	t.Nodes[id].Parent = newParent
}
