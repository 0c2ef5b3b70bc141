// Package tree implements the tree layer: a thin façade over pkg/dag that
// wraps either a transaction's mutable root or a committed revision's
// immutable root, rejecting mutation attempts against the latter.
package tree

import (
	"github.com/arborvc/arbor/pkg/dag"
	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/txnstore"
)

// Root wraps either an in-progress transaction (mutable) or a committed
// revision (immutable) and dispatches path operations to the DAG layer.
type Root struct {
	graph *dag.Graph
	txns  *txnstore.Store // nil for a revision root

	mutable bool
	txnID   string // set iff mutable
	rootID  noderev.ID
}

// ForTransaction returns a mutable Root over txnID's current root.
func ForTransaction(graph *dag.Graph, txns *txnstore.Store, txnID string, rootID noderev.ID) *Root {
	return &Root{graph: graph, txns: txns, mutable: true, txnID: txnID, rootID: rootID}
}

// ForRevision returns an immutable Root over a committed revision.
func ForRevision(graph *dag.Graph, rootID noderev.ID) *Root {
	return &Root{graph: graph, mutable: false, rootID: rootID}
}

// Mutable reports whether this root accepts mutating operations.
func (r *Root) Mutable() bool { return r.mutable }

// refreshRoot returns the root ID this Root currently reads from. It does
// not consult the transaction store; bumpRoot updates the ID after each
// mutation made through this Root.
func (r *Root) refreshRoot() noderev.ID {
	return r.rootID
}

func (r *Root) requireMutable() error {
	if !r.mutable {
		return fserrors.ErrNotMutable
	}
	return nil
}

// NodeKind returns the kind of the node at path.
func (r *Root) NodeKind(path string) (noderev.Kind, error) {
	return r.graph.NodeKind(r.refreshRoot(), path)
}

// NodeProperties returns the property map of the node at path.
func (r *Root) NodeProperties(path string) (map[string][]byte, error) {
	return r.graph.NodeProperties(r.refreshRoot(), path)
}

// DirEntries returns the directory entries at path.
func (r *Root) DirEntries(path string) ([]noderev.DirEntry, error) {
	return r.graph.DirEntries(r.refreshRoot(), path)
}

// OpenNode returns the full node revision at path.
func (r *Root) OpenNode(path string) (*noderev.NodeRevision, error) {
	return r.graph.OpenNode(r.refreshRoot(), path)
}

// MakeFile creates an empty file named name under parentPath.
func (r *Root) MakeFile(parentPath, name string) (noderev.ID, error) {
	if err := r.requireMutable(); err != nil {
		return noderev.ID{}, err
	}
	id, err := r.graph.MakeFile(r.txnID, parentPath, name)
	if err != nil {
		return noderev.ID{}, err
	}
	r.bumpRoot()
	return id, nil
}

// MakeDir creates an empty directory named name under parentPath.
func (r *Root) MakeDir(parentPath, name string) (noderev.ID, error) {
	if err := r.requireMutable(); err != nil {
		return noderev.ID{}, err
	}
	id, err := r.graph.MakeDir(r.txnID, parentPath, name)
	if err != nil {
		return noderev.ID{}, err
	}
	r.bumpRoot()
	return id, nil
}

// DeleteEntry removes name from parentPath's directory.
func (r *Root) DeleteEntry(parentPath, name string) error {
	if err := r.requireMutable(); err != nil {
		return err
	}
	if err := r.graph.DeleteEntry(r.txnID, parentPath, name); err != nil {
		return err
	}
	r.bumpRoot()
	return nil
}

// SetContents rewrites the file at path's content.
func (r *Root) SetContents(path string, content []byte) error {
	if err := r.requireMutable(); err != nil {
		return err
	}
	if err := r.graph.SetContents(r.txnID, path, content); err != nil {
		return err
	}
	r.bumpRoot()
	return nil
}

// SetNodeProperties rewrites the node at path's property map.
func (r *Root) SetNodeProperties(path string, props map[string][]byte) error {
	if err := r.requireMutable(); err != nil {
		return err
	}
	if err := r.graph.SetNodeProperties(r.txnID, path, props); err != nil {
		return err
	}
	r.bumpRoot()
	return nil
}

// CloneChild ensures parentPath/name is mutable within this root's
// transaction and returns its node-revision ID.
func (r *Root) CloneChild(parentPath, name string) (noderev.ID, error) {
	if err := r.requireMutable(); err != nil {
		return noderev.ID{}, err
	}
	id, err := r.graph.CloneChild(r.txnID, parentPath, name)
	if err != nil {
		return noderev.ID{}, err
	}
	r.bumpRoot()
	return id, nil
}

// bumpRoot re-reads the transaction's root pointer after a mutation, so
// subsequent reads through this Root see the freshly cloned tree without
// the caller having to re-fetch it from the transaction store.
func (r *Root) bumpRoot() {
	if txn, err := r.txns.Get(r.txnID); err == nil {
		r.rootID = txn.Root
	}
}
