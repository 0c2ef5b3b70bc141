package dag

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/revstore"
	"github.com/arborvc/arbor/pkg/txnstore"
)

// harness wires up a fresh repository: an empty root directory at
// revision 0, and one open transaction based on it.
type harness struct {
	graph *Graph
	nodes noderev.Store
	txns  *txnstore.Store
	revs  *revstore.Store
	txnID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	emptyRootID := noderev.ID{NodeID: "0", CopyID: "0", Origin: "r0/0"}
	revs, err := revstore.Create(filepath.Join(dir, "db"), emptyRootID)
	assert.NoError(t, err)

	txns, err := txnstore.Open(filepath.Join(dir, "db"))
	assert.NoError(t, err)

	nodes := noderev.NewMemoryStore()
	assert.NoError(t, nodes.Put(&noderev.NodeRevision{
		ID:      emptyRootID,
		Kind:    noderev.KindDirectory,
		Entries: map[string]noderev.DirEntry{},
	}))

	txnID, err := txns.NextTxnID()
	assert.NoError(t, err)
	_, err = txns.Begin(txnID, 0, emptyRootID)
	assert.NoError(t, err)

	return &harness{
		graph: New(nodes, txns, revs),
		nodes: nodes,
		txns:  txns,
		revs:  revs,
		txnID: txnID,
	}
}

func (h *harness) root(t *testing.T) noderev.ID {
	t.Helper()
	txn, err := h.txns.Get(h.txnID)
	assert.NoError(t, err)
	return txn.Root
}

func TestMakeFileAndOpenNode(t *testing.T) {
	h := newHarness(t)

	id, err := h.graph.MakeFile(h.txnID, "", "hello.txt")
	assert.NoError(t, err)
	assert.True(t, id.Transactional())

	rev, err := h.graph.OpenNode(h.root(t), "hello.txt")
	assert.NoError(t, err)
	assert.Equal(t, noderev.KindFile, rev.Kind)
}

func TestMakeFileDuplicateFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "hello.txt")
	assert.NoError(t, err)

	_, err = h.graph.MakeFile(h.txnID, "", "hello.txt")
	assert.ErrorIs(t, err, fserrors.ErrAlreadyExists)
}

func TestMakeDirNested(t *testing.T) {
	h := newHarness(t)

	_, err := h.graph.MakeDir(h.txnID, "", "trunk")
	assert.NoError(t, err)
	_, err = h.graph.MakeFile(h.txnID, "trunk", "a.txt")
	assert.NoError(t, err)

	rev, err := h.graph.OpenNode(h.root(t), "trunk/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, noderev.KindFile, rev.Kind)
}

func TestOpenNodeMissingFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.OpenNode(h.root(t), "nope.txt")
	assert.ErrorIs(t, err, fserrors.ErrPathNotFound)
}

func TestOpenNodeThroughFileFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)

	_, err = h.graph.OpenNode(h.root(t), "a.txt/b.txt")
	assert.ErrorIs(t, err, fserrors.ErrNotDirectory)
}

func TestSetContentsAndReopen(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)

	assert.NoError(t, h.graph.SetContents(h.txnID, "a.txt", []byte("hello world")))

	rev, err := h.graph.OpenNode(h.root(t), "a.txt")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello world"), rev.Content)
}

func TestSetContentsOnDirFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeDir(h.txnID, "", "trunk")
	assert.NoError(t, err)

	err = h.graph.SetContents(h.txnID, "trunk", []byte("x"))
	assert.ErrorIs(t, err, fserrors.ErrNotFile)
}

func TestSetNodeProperties(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)

	props := map[string][]byte{"svn:mime-type": []byte("text/plain")}
	assert.NoError(t, h.graph.SetNodeProperties(h.txnID, "a.txt", props))

	got, err := h.graph.NodeProperties(h.root(t), "a.txt")
	assert.NoError(t, err)
	assert.Equal(t, props, got)
}

func TestDeleteEntry(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)

	assert.NoError(t, h.graph.DeleteEntry(h.txnID, "", "a.txt"))

	_, err = h.graph.OpenNode(h.root(t), "a.txt")
	assert.ErrorIs(t, err, fserrors.ErrPathNotFound)
}

func TestDeleteEntryMissingFails(t *testing.T) {
	h := newHarness(t)
	err := h.graph.DeleteEntry(h.txnID, "", "nope.txt")
	assert.ErrorIs(t, err, fserrors.ErrPathNotFound)
}

func TestDirEntriesListsChildren(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)
	_, err = h.graph.MakeDir(h.txnID, "", "trunk")
	assert.NoError(t, err)

	entries, err := h.graph.DirEntries(h.root(t), "")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCloneChildIdempotentWithinTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.NoError(t, err)

	first, err := h.graph.CloneChild(h.txnID, "", "a.txt")
	assert.NoError(t, err)
	second, err := h.graph.CloneChild(h.txnID, "", "a.txt")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMutationOnCommittedTransactionFails(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.txns.MarkCommitted(h.txnID, 1))

	_, err := h.graph.MakeFile(h.txnID, "", "a.txt")
	assert.ErrorIs(t, err, fserrors.ErrTransactionNotMutable)
}

func TestCrossTransactionCloneOnWrite(t *testing.T) {
	h := newHarness(t)
	_, err := h.graph.MakeDir(h.txnID, "", "trunk")
	assert.NoError(t, err)
	_, err = h.graph.MakeFile(h.txnID, "trunk", "a.txt")
	assert.NoError(t, err)

	committedRoot := h.root(t)
	assert.NoError(t, h.txns.MarkCommitted(h.txnID, 1))
	_, err = h.revs.AppendRevision(committedRoot, nil)
	assert.NoError(t, err)

	txnID2, err := h.txns.NextTxnID()
	assert.NoError(t, err)
	_, err = h.txns.Begin(txnID2, 1, committedRoot)
	assert.NoError(t, err)

	// Editing "trunk/a.txt" in the new transaction must not touch the
	// node revisions committed under the old one.
	assert.NoError(t, h.graph.SetContents(txnID2, "trunk/a.txt", []byte("v2")))

	oldRev, err := h.graph.OpenNode(committedRoot, "trunk/a.txt")
	assert.NoError(t, err)
	assert.Empty(t, oldRev.Content)

	txn2, err := h.txns.Get(txnID2)
	assert.NoError(t, err)
	newRev, err := h.graph.OpenNode(txn2.Root, "trunk/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, []byte("v2"), newRev.Content)
}
