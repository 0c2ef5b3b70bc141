// Package noderev implements the node-revision store: a content-addressed
// map from node-revision IDs to immutable node objects, either file
// contents or directory entries.
//
// Storage is BadgerDB-backed (see Store), keyed by node-revision ID. Once
// written, a revision-resident node revision is never modified; producing
// a new version means writing under a new ID (see NodeRevision.Clone).
package noderev

import (
	"fmt"
	"strings"
)

// Kind distinguishes file node revisions from directory node revisions.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "dir"
	}
	return "file"
}

// ID structurally encodes {node-ID, copy-ID, origin}. Two IDs designate
// the same line of history iff their NodeID fields agree.
//
// String form: "<node-id>.<copy-id>.<origin>", where origin is
// "r<revnum>/<offset>" for a revision-resident node, or "t<txn-id>" for a
// transaction-resident one.
type ID struct {
	NodeID string
	CopyID string
	Origin string
}

// String renders the canonical on-disk/wire form of id.
func (id ID) String() string {
	return fmt.Sprintf("%s.%s.%s", id.NodeID, id.CopyID, id.Origin)
}

// ParseID parses the canonical form produced by ID.String.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("noderev: malformed node-revision id %q", s)
	}
	return ID{NodeID: parts[0], CopyID: parts[1], Origin: parts[2]}, nil
}

// SameHistoryLine reports whether id and other refer to the same line of
// history (same NodeID), irrespective of copy-ID or origin.
func (id ID) SameHistoryLine(other ID) bool {
	return id.NodeID == other.NodeID
}

// Transactional reports whether id names a node revision living inside an
// in-progress transaction ("t<txn-id>" origin) rather than a committed
// revision ("r<revnum>/<offset>" origin). Transaction-resident node
// revisions are mutable scratch space the DAG layer rewrites in place as a
// transaction accumulates edits; revision-resident ones are permanent and
// content-addressed once written (see Store.Put).
func (id ID) Transactional() bool {
	return strings.HasPrefix(id.Origin, "t")
}

// DirEntry is one (name, target, kind-hint) triple within a directory node
// revision. Names are non-empty, contain no path separator, and are
// compared byte-exact.
type DirEntry struct {
	Name string
	ID   ID
	Kind Kind
}

// NodeRevision is an immutable versioned node: either a file (with a
// content pointer) or a directory (with a name-to-ID entry map, names
// unique within the directory).
type NodeRevision struct {
	ID         ID
	Kind       Kind
	Properties map[string][]byte
	// Content holds file bytes; nil for directories.
	Content []byte
	// Entries holds directory children, keyed by name; nil for files.
	Entries map[string]DirEntry
	// Predecessor is the node revision this one was cloned from, or the
	// zero ID if this is the first revision of its line of history.
	Predecessor ID
}

// HasPredecessor reports whether n was cloned from an earlier node
// revision rather than being newly created.
func (n *NodeRevision) HasPredecessor() bool {
	return n.Predecessor.NodeID != ""
}

// Clone returns a deep copy of n with a new ID and Predecessor set to n's
// own ID, ready to be written as a fresh, mutable node revision.
func (n *NodeRevision) Clone(newID ID) *NodeRevision {
	out := &NodeRevision{
		ID:          newID,
		Kind:        n.Kind,
		Predecessor: n.ID,
	}
	if n.Properties != nil {
		out.Properties = make(map[string][]byte, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v
		}
	}
	if n.Kind == KindFile {
		out.Content = append([]byte(nil), n.Content...)
		return out
	}
	out.Entries = make(map[string]DirEntry, len(n.Entries))
	for k, v := range n.Entries {
		out.Entries[k] = v
	}
	return out
}
