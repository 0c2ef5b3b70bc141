// Package dag implements the DAG layer: copy-on-write mutation of the
// node-revision tree rooted at a transaction, and read-only path resolution
// against either a transaction's root or a committed revision's root.
//
// All mutation is copy-on-write from the transaction root down: the first
// time a path is touched within a transaction, every ancestor directory
// from the transaction root down to that path's parent is cloned into a
// fresh, transaction-resident node revision (see noderev.ID.Transactional),
// and the transaction's root pointer is rewritten if the root itself had
// to be cloned. Subsequent edits to the same path within the same
// transaction reuse the already-cloned, already-mutable node revision in
// place.
package dag

import (
	"sort"
	"strings"

	"github.com/arborvc/arbor/pkg/bufpool"
	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/revstore"
	"github.com/arborvc/arbor/pkg/txnstore"
)

// Graph is the DAG layer bound to a node-revision store, transaction
// store, and revision store (the latter supplying fresh node/copy IDs).
type Graph struct {
	nodes noderev.Store
	txns  *txnstore.Store
	revs  *revstore.Store
}

// New binds a Graph to its three backing stores.
func New(nodes noderev.Store, txns *txnstore.Store, revs *revstore.Store) *Graph {
	return &Graph{nodes: nodes, txns: txns, revs: revs}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// OpenNode walks from rootID along path, returning the node revision found
// there. Fails with fserrors.ErrPathNotFound for missing intermediate
// components, or fserrors.ErrNotDirectory if a non-final segment names a
// file.
func (g *Graph) OpenNode(rootID noderev.ID, path string) (*noderev.NodeRevision, error) {
	id, err := g.resolve(rootID, path)
	if err != nil {
		return nil, err
	}
	return g.nodes.Get(id)
}

// resolve walks from rootID along path's segments, returning the final
// node-revision ID.
func (g *Graph) resolve(rootID noderev.ID, path string) (noderev.ID, error) {
	cur := rootID
	for _, seg := range splitPath(path) {
		rev, err := g.nodes.Get(cur)
		if err != nil {
			return noderev.ID{}, err
		}
		if rev.Kind != noderev.KindDirectory {
			return noderev.ID{}, fserrors.ErrNotDirectory
		}
		entry, ok := rev.Entries[seg]
		if !ok {
			return noderev.ID{}, fserrors.ErrPathNotFound
		}
		cur = entry.ID
	}
	return cur, nil
}

// NodeKind returns the kind of the node revision at path under rootID.
func (g *Graph) NodeKind(rootID noderev.ID, path string) (noderev.Kind, error) {
	rev, err := g.OpenNode(rootID, path)
	if err != nil {
		return 0, err
	}
	return rev.Kind, nil
}

// NodeProperties returns a snapshot of the node revision's property map.
func (g *Graph) NodeProperties(rootID noderev.ID, path string) (map[string][]byte, error) {
	rev, err := g.OpenNode(rootID, path)
	if err != nil {
		return nil, err
	}
	return rev.Properties, nil
}

// DirEntries returns the directory entries at path under rootID, sorted by
// name for deterministic listing order. Fails with fserrors.ErrNotDirectory
// if path names a file.
func (g *Graph) DirEntries(rootID noderev.ID, path string) ([]noderev.DirEntry, error) {
	rev, err := g.OpenNode(rootID, path)
	if err != nil {
		return nil, err
	}
	if rev.Kind != noderev.KindDirectory {
		return nil, fserrors.ErrNotDirectory
	}

	names := bufpool.GetNames()
	defer bufpool.PutNames(names)
	for name := range rev.Entries {
		*names = append(*names, name)
	}
	sort.Strings(*names)

	out := make([]noderev.DirEntry, 0, len(*names))
	for _, name := range *names {
		out = append(out, rev.Entries[name])
	}
	return out, nil
}

// txnOrigin returns the ID.Origin string for node revisions resident in
// txn id.
func txnOrigin(txnID string) string { return "t" + txnID }

// requireMutable loads txn and fails unless it is still open for writes.
func (g *Graph) requireMutable(txnID string) (*txnstore.Transaction, error) {
	txn, err := g.txns.Get(txnID)
	if err != nil {
		return nil, err
	}
	if txn.Kind != txnstore.KindNormal {
		return nil, fserrors.ErrTransactionNotMutable
	}
	return txn, nil
}

// CloneChild ensures the node revision at parentPath/name belongs to txnID
// (copy-on-write cloning parentPath's own ancestor chain up to the
// transaction root as needed), then returns its node-revision ID.
func (g *Graph) CloneChild(txnID, parentPath, name string) (noderev.ID, error) {
	txn, err := g.requireMutable(txnID)
	if err != nil {
		return noderev.ID{}, err
	}

	newRoot, childID, err := g.ensureMutable(txnID, txn.Root, append(splitPath(parentPath), name))
	if err != nil {
		return noderev.ID{}, err
	}
	if newRoot != txn.Root {
		if err := g.txns.SetRoot(txnID, newRoot); err != nil {
			return noderev.ID{}, err
		}
	}
	return childID, nil
}

// ensureMutable walks curID down through segments, cloning every ancestor
// directory into a transaction-resident node revision as needed, and
// returns (newCurID, targetID): newCurID is curID's own possibly-replaced
// ID (for the caller to splice into its parent's entry map), and targetID
// is the ID at the full segments path.
func (g *Graph) ensureMutable(txnID string, curID noderev.ID, segments []string) (noderev.ID, noderev.ID, error) {
	cur, err := g.nodes.Get(curID)
	if err != nil {
		return noderev.ID{}, noderev.ID{}, err
	}

	if len(segments) == 0 {
		newID, err := g.makeMutableCopy(txnID, cur)
		if err != nil {
			return noderev.ID{}, noderev.ID{}, err
		}
		return newID, newID, nil
	}

	if cur.Kind != noderev.KindDirectory {
		return noderev.ID{}, noderev.ID{}, fserrors.ErrNotDirectory
	}
	entry, ok := cur.Entries[segments[0]]
	if !ok {
		return noderev.ID{}, noderev.ID{}, fserrors.ErrPathNotFound
	}

	newChildCurID, targetID, err := g.ensureMutable(txnID, entry.ID, segments[1:])
	if err != nil {
		return noderev.ID{}, noderev.ID{}, err
	}

	newSelfID, err := g.makeMutableCopy(txnID, cur)
	if err != nil {
		return noderev.ID{}, noderev.ID{}, err
	}
	self, err := g.nodes.Get(newSelfID)
	if err != nil {
		return noderev.ID{}, noderev.ID{}, err
	}
	entry.ID = newChildCurID
	self.Entries[segments[0]] = entry
	if err := g.nodes.Put(self); err != nil {
		return noderev.ID{}, noderev.ID{}, err
	}
	return newSelfID, targetID, nil
}

// makeMutableCopy returns rev's ID unchanged if it is already
// transaction-resident under txnID; otherwise clones it into a fresh
// transaction-resident node revision sharing rev's NodeID/CopyID (same
// line of history) and persists the clone.
func (g *Graph) makeMutableCopy(txnID string, rev *noderev.NodeRevision) (noderev.ID, error) {
	if rev.ID.Transactional() && rev.ID.Origin == txnOrigin(txnID) {
		return rev.ID, nil
	}
	newID := noderev.ID{NodeID: rev.ID.NodeID, CopyID: rev.ID.CopyID, Origin: txnOrigin(txnID)}
	clone := rev.Clone(newID)
	if err := g.nodes.Put(clone); err != nil {
		return noderev.ID{}, err
	}
	return newID, nil
}

// MakeFile creates an empty file named name under parentPath, failing
// with fserrors.ErrAlreadyExists if the name is already taken.
func (g *Graph) MakeFile(txnID, parentPath, name string) (noderev.ID, error) {
	return g.makeChild(txnID, parentPath, name, noderev.KindFile)
}

// MakeDir creates an empty directory named name under parentPath, failing
// with fserrors.ErrAlreadyExists if the name is already taken.
func (g *Graph) MakeDir(txnID, parentPath, name string) (noderev.ID, error) {
	return g.makeChild(txnID, parentPath, name, noderev.KindDirectory)
}

func (g *Graph) makeChild(txnID, parentPath, name string, kind noderev.Kind) (noderev.ID, error) {
	txn, err := g.requireMutable(txnID)
	if err != nil {
		return noderev.ID{}, err
	}

	newRoot, parentID, err := g.ensureMutable(txnID, txn.Root, splitPath(parentPath))
	if err != nil {
		return noderev.ID{}, err
	}
	parent, err := g.nodes.Get(parentID)
	if err != nil {
		return noderev.ID{}, err
	}
	if parent.Kind != noderev.KindDirectory {
		return noderev.ID{}, fserrors.ErrNotDirectory
	}
	if _, exists := parent.Entries[name]; exists {
		return noderev.ID{}, fserrors.ErrAlreadyExists
	}

	nodeID, err := g.revs.AllocateNodeID()
	if err != nil {
		return noderev.ID{}, err
	}
	childID := noderev.ID{NodeID: nodeID, CopyID: "0", Origin: txnOrigin(txnID)}
	child := &noderev.NodeRevision{ID: childID, Kind: kind}
	if kind == noderev.KindDirectory {
		child.Entries = make(map[string]noderev.DirEntry)
	}
	if err := g.nodes.Put(child); err != nil {
		return noderev.ID{}, err
	}

	if parent.Entries == nil {
		parent.Entries = make(map[string]noderev.DirEntry)
	}
	parent.Entries[name] = noderev.DirEntry{Name: name, ID: childID, Kind: kind}
	if err := g.nodes.Put(parent); err != nil {
		return noderev.ID{}, err
	}

	if newRoot != txn.Root {
		if err := g.txns.SetRoot(txnID, newRoot); err != nil {
			return noderev.ID{}, err
		}
	}
	return childID, nil
}

// DeleteEntry removes name from the (cloned) parent directory's entry map.
func (g *Graph) DeleteEntry(txnID, parentPath, name string) error {
	txn, err := g.requireMutable(txnID)
	if err != nil {
		return err
	}

	newRoot, parentID, err := g.ensureMutable(txnID, txn.Root, splitPath(parentPath))
	if err != nil {
		return err
	}
	parent, err := g.nodes.Get(parentID)
	if err != nil {
		return err
	}
	if parent.Kind != noderev.KindDirectory {
		return fserrors.ErrNotDirectory
	}
	if _, exists := parent.Entries[name]; !exists {
		return fserrors.ErrPathNotFound
	}
	delete(parent.Entries, name)
	if err := g.nodes.Put(parent); err != nil {
		return err
	}

	if newRoot != txn.Root {
		return g.txns.SetRoot(txnID, newRoot)
	}
	return nil
}

// SetContents rewrites the file node revision at path's content.
func (g *Graph) SetContents(txnID, path string, content []byte) error {
	return g.mutateLeaf(txnID, path, func(rev *noderev.NodeRevision) error {
		if rev.Kind != noderev.KindFile {
			return fserrors.ErrNotFile
		}
		rev.Content = append([]byte(nil), content...)
		return nil
	})
}

// SetNodeProperties rewrites the node revision at path's property map.
func (g *Graph) SetNodeProperties(txnID, path string, props map[string][]byte) error {
	return g.mutateLeaf(txnID, path, func(rev *noderev.NodeRevision) error {
		rev.Properties = props
		return nil
	})
}

// mutateLeaf ensures the node revision at path is mutable within txnID,
// applies mutate to it, and persists the result, splicing any newly
// cloned ancestors back into their parents and the transaction root.
func (g *Graph) mutateLeaf(txnID, path string, mutate func(*noderev.NodeRevision) error) error {
	txn, err := g.requireMutable(txnID)
	if err != nil {
		return err
	}

	newRoot, leafID, err := g.ensureMutable(txnID, txn.Root, splitPath(path))
	if err != nil {
		return err
	}
	leaf, err := g.nodes.Get(leafID)
	if err != nil {
		return err
	}
	if err := mutate(leaf); err != nil {
		return err
	}
	if err := g.nodes.Put(leaf); err != nil {
		return err
	}

	if newRoot != txn.Root {
		return g.txns.SetRoot(txnID, newRoot)
	}
	return nil
}
