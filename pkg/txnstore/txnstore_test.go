package txnstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db"))
	assert.NoError(t, err)
	return s
}

func testRoot() noderev.ID {
	return noderev.ID{NodeID: "0", CopyID: "0", Origin: "r0/0"}
}

func TestBeginAndGet(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	assert.Equal(t, KindNormal, txn.Kind)
	assert.Equal(t, testRoot(), txn.Root)

	got, err := s.Get("k1")
	assert.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, txn.Root, got.Root)
}

func TestBeginDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	_, err = s.Begin("k1", 0, testRoot())
	assert.ErrorIs(t, err, fserrors.ErrAlreadyExists)
}

func TestGetMissingFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, fserrors.ErrNoSuchTransaction)
}

func TestSetRootUpdatesMutableRoot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)

	newRoot := noderev.ID{NodeID: "0", CopyID: "1", Origin: "tk1"}
	assert.NoError(t, s.SetRoot("k1", newRoot))

	got, err := s.Get("k1")
	assert.NoError(t, err)
	assert.Equal(t, newRoot, got.Root)
}

func TestPropertyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)

	assert.NoError(t, s.SetProperty("k1", "svn:log", []byte("hello")))
	v, err := s.GetProperty("k1", "svn:log")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestAppendAndReadChanges(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)

	fileID := noderev.ID{NodeID: "1", CopyID: "0", Origin: "tk1"}
	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/a.txt", Kind: ChangeAdd, NodeID: fileID}))
	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/a.txt", Kind: ChangeModify, NodeID: fileID}))

	changes, err := s.Changes("k1")
	assert.NoError(t, err)
	assert.Len(t, changes, 2)
	assert.Equal(t, ChangeAdd, changes[0].Kind)
	assert.Equal(t, ChangeModify, changes[1].Kind)
	assert.Equal(t, fileID, changes[0].NodeID)
}

func TestAppendChangeAssignsSequenceAndChecksum(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)

	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/a.txt", Kind: ChangeAdd}))
	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/b.txt", Kind: ChangeAdd}))

	changes, err := s.Changes("k1")
	assert.NoError(t, err)
	assert.Len(t, changes, 2)
	assert.Equal(t, uint64(1), changes[0].Sequence)
	assert.Equal(t, uint64(2), changes[1].Sequence)
	assert.NotZero(t, changes[0].Checksum)
	assert.NotEqual(t, changes[0].Checksum, changes[1].Checksum)
}

func TestChangesRejectsCorruptedChecksum(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/a.txt", Kind: ChangeAdd}))

	data, err := os.ReadFile(s.changesPath("k1"))
	assert.NoError(t, err)
	corrupted := strings.Replace(string(data), `"path":"/trunk/a.txt"`, `"path":"/trunk/tampered.txt"`, 1)
	assert.NoError(t, os.WriteFile(s.changesPath("k1"), []byte(corrupted), 0644))

	_, err = s.Changes("k1")
	assert.ErrorIs(t, err, fserrors.ErrCorruptRevision)
}

func TestAbortMarksDeadAndPurges(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	assert.NoError(t, s.AppendChange("k1", Change{Path: "/trunk/a.txt", Kind: ChangeAdd}))

	assert.NoError(t, s.Abort("k1"))

	_, err = s.Changes("k1")
	assert.Error(t, err)
}

func TestAbortCommittedFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	assert.NoError(t, s.MarkCommitted("k1", 1))

	err = s.Abort("k1")
	assert.ErrorIs(t, err, fserrors.ErrTransactionNotDead)
}

func TestMutationAfterCommitFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	assert.NoError(t, s.MarkCommitted("k1", 1))

	err = s.SetProperty("k1", "svn:log", []byte("x"))
	assert.ErrorIs(t, err, fserrors.ErrTransactionNotMutable)
}

func TestNextTxnIDMonotonic(t *testing.T) {
	s := newTestStore(t)
	first, err := s.NextTxnID()
	assert.NoError(t, err)
	second, err := s.NextTxnID()
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGetExpectDead(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)

	_, err = s.GetExpectDead("k1")
	assert.ErrorIs(t, err, fserrors.ErrTransactionNotDead)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("k1", 0, testRoot())
	assert.NoError(t, err)
	_, err = s.Begin("k2", 0, testRoot())
	assert.NoError(t, err)

	ids, err := s.List()
	assert.NoError(t, err)
	assert.Len(t, ids, 2)
}
