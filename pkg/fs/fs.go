// Package fs is the filesystem facade: the single entry point that opens a
// repository's on-disk stores, begins and commits transactions, and
// exposes revision/transaction property mutation, all behind one exclusive
// repository write lock.
package fs

import (
	"fmt"
	"path/filepath"

	"github.com/arborvc/arbor/pkg/dag"
	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/hashfile"
	"github.com/arborvc/arbor/pkg/lock"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/revstore"
	"github.com/arborvc/arbor/pkg/tree"
	"github.com/arborvc/arbor/pkg/txnstore"
)

// FS is a handle on an open repository: its revision store, transaction
// store, node-revision store, and DAG layer wired together.
type FS struct {
	nodes noderev.Store
	revs  *revstore.Store
	txns  *txnstore.Store
	graph *dag.Graph

	lockPath string
}

// Create initializes a brand-new repository rooted at dataDir (dataDir/db
// is created) with an empty root directory at revision 0, and opens it.
func Create(dataDir string) (*FS, error) {
	dbDir := filepath.Join(dataDir, "db")
	nodes := noderev.NewMemoryStore()

	emptyRootID := noderev.ID{NodeID: "0", CopyID: "0", Origin: "r0/0"}
	if err := nodes.Put(&noderev.NodeRevision{
		ID:      emptyRootID,
		Kind:    noderev.KindDirectory,
		Entries: map[string]noderev.DirEntry{},
	}); err != nil {
		return nil, err
	}

	revs, err := revstore.Create(dbDir, emptyRootID)
	if err != nil {
		return nil, err
	}
	txns, err := txnstore.Open(dbDir)
	if err != nil {
		return nil, err
	}

	return &FS{
		nodes:    nodes,
		revs:     revs,
		txns:     txns,
		graph:    dag.New(nodes, txns, revs),
		lockPath: filepath.Join(dbDir, "write-lock"),
	}, nil
}

// CreateWithNodeStore is Create but lets the caller supply a durable
// node-revision store (e.g. noderev.NewBadgerStore) instead of the default
// in-memory one.
func CreateWithNodeStore(dataDir string, nodes noderev.Store) (*FS, error) {
	dbDir := filepath.Join(dataDir, "db")

	emptyRootID := noderev.ID{NodeID: "0", CopyID: "0", Origin: "r0/0"}
	if err := nodes.Put(&noderev.NodeRevision{
		ID:      emptyRootID,
		Kind:    noderev.KindDirectory,
		Entries: map[string]noderev.DirEntry{},
	}); err != nil {
		return nil, err
	}

	revs, err := revstore.Create(dbDir, emptyRootID)
	if err != nil {
		return nil, err
	}
	txns, err := txnstore.Open(dbDir)
	if err != nil {
		return nil, err
	}

	return &FS{
		nodes:    nodes,
		revs:     revs,
		txns:     txns,
		graph:    dag.New(nodes, txns, revs),
		lockPath: filepath.Join(dbDir, "write-lock"),
	}, nil
}

// Open binds an FS to an existing repository's node store and on-disk
// revision/transaction stores.
func Open(dataDir string, nodes noderev.Store) (*FS, error) {
	dbDir := filepath.Join(dataDir, "db")
	revs, err := revstore.Open(dbDir)
	if err != nil {
		return nil, err
	}
	txns, err := txnstore.Open(dbDir)
	if err != nil {
		return nil, err
	}
	return &FS{
		nodes:    nodes,
		revs:     revs,
		txns:     txns,
		graph:    dag.New(nodes, txns, revs),
		lockPath: filepath.Join(dbDir, "write-lock"),
	}, nil
}

// Close releases the underlying node-revision store.
func (f *FS) Close() error { return f.nodes.Close() }

// Youngest returns the youngest committed revision number.
func (f *FS) Youngest() (int64, error) { return f.revs.Youngest() }

// Revision returns a read-only tree.Root over a committed revision.
func (f *FS) Revision(rev int64) (*tree.Root, error) {
	root, err := f.revs.Root(rev)
	if err != nil {
		return nil, err
	}
	return tree.ForRevision(f.graph, root), nil
}

// ReadRevisionProperty / ListRevisionProperties / SetRevisionProperty
// delegate directly to the revision store.
func (f *FS) ReadRevisionProperty(rev int64, name string) ([]byte, error) {
	return f.revs.ReadProperty(rev, name)
}
func (f *FS) ListRevisionProperties(rev int64) (hashfile.Map, error) {
	return f.revs.ListProperties(rev)
}
func (f *FS) SetRevisionProperty(rev int64, name string, value []byte) error {
	return f.revs.SetProperty(rev, name, value)
}

// BeginTxn allocates a fresh transaction rooted at baseRev, seeding the
// svn:txn-creation-time-equivalent creation-date property the transaction
// store already sets, and returns a mutable tree.Root plus the
// transaction's ID for later Commit/Abort calls.
func (f *FS) BeginTxn(baseRev int64) (txnID string, root *tree.Root, err error) {
	baseRoot, err := f.revs.Root(baseRev)
	if err != nil {
		return "", nil, err
	}
	id, err := f.txns.NextTxnID()
	if err != nil {
		return "", nil, err
	}
	txn, err := f.txns.Begin(id, baseRev, baseRoot)
	if err != nil {
		return "", nil, err
	}
	return id, tree.ForTransaction(f.graph, f.txns, id, txn.Root), nil
}

// TransactionProperty / ListTransactionProperties / SetTransactionProperty
// delegate to the transaction store.
func (f *FS) TransactionProperty(txnID, name string) ([]byte, error) {
	return f.txns.GetProperty(txnID, name)
}
func (f *FS) ListTransactionProperties(txnID string) (hashfile.Map, error) {
	return f.txns.ListProperties(txnID)
}
func (f *FS) SetTransactionProperty(txnID, name string, value []byte) error {
	return f.txns.SetProperty(txnID, name, value)
}

// AbortTxn marks txnID dead and purges its staging directory.
func (f *FS) AbortTxn(txnID string) error {
	return f.txns.Abort(txnID)
}

// CommitTxn performs the full commit protocol: validate kind=normal,
// re-read youngest-revision under the write lock, reject conflicting
// concurrent edits against the current HEAD, freeze the transaction's
// node-revision tree into permanent revision-resident node revisions,
// allocate the new revision number, write it, and mark the transaction
// committed. Returns the new revision number.
func (f *FS) CommitTxn(txnID string) (int64, error) {
	h, err := lock.Acquire(f.lockPath)
	if err != nil {
		return 0, fmt.Errorf("fs: acquiring write lock: %w", err)
	}
	defer h.Release()

	txn, err := f.txns.Get(txnID)
	if err != nil {
		return 0, err
	}
	if txn.Kind != txnstore.KindNormal {
		return 0, fmt.Errorf("fs: transaction %q: %w", txnID, fserrors.ErrTransactionNotMutable)
	}

	youngest, err := f.revs.Youngest()
	if err != nil {
		return 0, err
	}
	if youngest != txn.BaseRev {
		if err := f.checkConflicts(txn, youngest); err != nil {
			return 0, err
		}
	}

	nextRev := youngest + 1
	frozenRoot, err := f.freeze(txn.Root, nextRev, &offsetCounter{})
	if err != nil {
		return 0, err
	}

	props, err := f.txns.ListProperties(txnID)
	if err != nil {
		return 0, err
	}

	rev, err := f.revs.AppendRevision(frozenRoot, props)
	if err != nil {
		return 0, err
	}
	if err := f.txns.MarkCommitted(txnID, rev); err != nil {
		return 0, err
	}
	return rev, nil
}

// checkConflicts rejects the commit with fserrors.ErrTxnOutOfDate whenever
// a revision has been committed after the transaction's base revision,
// whether or not that revision touched the same paths. It does not consult
// the changes log, so transactions editing disjoint paths also conflict.
// This never permits a silently-lost conflicting edit, at the cost of
// forcing a rebase on any interleaved commit.
func (f *FS) checkConflicts(txn *txnstore.Transaction, youngest int64) error {
	if youngest > txn.BaseRev {
		return fmt.Errorf("fs: transaction base rev %d, head is %d: %w", txn.BaseRev, youngest, fserrors.ErrTxnOutOfDate)
	}
	return nil
}

// offsetCounter hands out increasing per-revision node offsets for frozen
// node-revision IDs ("r<rev>/<offset>").
type offsetCounter struct{ n int }

func (c *offsetCounter) next() int {
	v := c.n
	c.n++
	return v
}

// freeze walks the node-revision subtree rooted at id (transaction- or
// revision-resident) and, for every transaction-resident node, writes a
// new immutable revision-resident copy under "r<rev>/<offset>", returning
// its ID. Already revision-resident nodes (untouched by this transaction)
// are returned unchanged — copy-on-write means only the nodes actually
// cloned during the transaction carry the transactional origin.
func (f *FS) freeze(id noderev.ID, rev int64, offsets *offsetCounter) (noderev.ID, error) {
	if !id.Transactional() {
		return id, nil
	}

	n, err := f.nodes.Get(id)
	if err != nil {
		return noderev.ID{}, err
	}

	frozenID := noderev.ID{NodeID: n.ID.NodeID, CopyID: n.ID.CopyID, Origin: fmt.Sprintf("r%d/%d", rev, offsets.next())}
	frozen := &noderev.NodeRevision{
		ID:          frozenID,
		Kind:        n.Kind,
		Properties:  n.Properties,
		Content:     n.Content,
		Predecessor: n.Predecessor,
	}

	if n.Kind == noderev.KindDirectory {
		frozen.Entries = make(map[string]noderev.DirEntry, len(n.Entries))
		for name, entry := range n.Entries {
			childFrozen, err := f.freeze(entry.ID, rev, offsets)
			if err != nil {
				return noderev.ID{}, err
			}
			entry.ID = childFrozen
			frozen.Entries[name] = entry
		}
	}

	if err := f.nodes.Put(frozen); err != nil {
		return noderev.ID{}, err
	}
	return frozenID, nil
}
