package ra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arborvc/arbor/pkg/fs"
)

type recordingEditor struct {
	opened  []string
	closed  []string
	added   []string
	deltas  map[string][]byte
	deleted []string
}

func newRecordingEditor() *recordingEditor {
	return &recordingEditor{deltas: map[string][]byte{}}
}

func (e *recordingEditor) OpenDirectory(path string) error { e.opened = append(e.opened, path); return nil }
func (e *recordingEditor) CloseDirectory(path string) error {
	e.closed = append(e.closed, path)
	return nil
}
func (e *recordingEditor) AddFile(path string) error { e.added = append(e.added, path); return nil }
func (e *recordingEditor) ApplyTextDelta(path string, content []byte) error {
	e.deltas[path] = content
	return nil
}
func (e *recordingEditor) Delete(path string) error { e.deleted = append(e.deleted, path); return nil }

func newTestRepo(t *testing.T) *fs.FS {
	t.Helper()
	f, err := fs.Create(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestLoopbackCheckPath(t *testing.T) {
	repo := newTestRepo(t)
	txnID, root, err := repo.BeginTxn(0)
	assert.NoError(t, err)
	_, err = root.MakeFile("", "a.txt")
	assert.NoError(t, err)
	rev, err := repo.CommitTxn(txnID)
	assert.NoError(t, err)

	sess := NewLoopbackSession(repo)
	exists, err := sess.CheckPath("a.txt", rev)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = sess.CheckPath("missing.txt", rev)
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestLoopbackYoungest(t *testing.T) {
	repo := newTestRepo(t)
	sess := NewLoopbackSession(repo)
	y, err := sess.Youngest()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), y)
}

func TestLoopbackStatusReportsUnreportedFiles(t *testing.T) {
	repo := newTestRepo(t)
	txnID, root, err := repo.BeginTxn(0)
	assert.NoError(t, err)
	_, err = root.MakeDir("", "trunk")
	assert.NoError(t, err)
	_, err = root.MakeFile("trunk", "a.txt")
	assert.NoError(t, err)
	assert.NoError(t, root.SetContents("trunk/a.txt", []byte("hello")))
	rev, err := repo.CommitTxn(txnID)
	assert.NoError(t, err)

	sess := NewLoopbackSession(repo)
	editor := newRecordingEditor()
	reporter, err := sess.Status(rev, editor)
	assert.NoError(t, err)

	assert.NoError(t, reporter.FinishReport(context.Background(), nil))
	assert.Contains(t, editor.added, "trunk/a.txt")
	assert.Equal(t, []byte("hello"), editor.deltas["trunk/a.txt"])
	assert.Contains(t, editor.opened, "trunk")
	assert.Contains(t, editor.closed, "trunk")
}

func TestLoopbackStatusSkipsReportedUnmodifiedFile(t *testing.T) {
	repo := newTestRepo(t)
	txnID, root, err := repo.BeginTxn(0)
	assert.NoError(t, err)
	_, err = root.MakeFile("", "a.txt")
	assert.NoError(t, err)
	rev, err := repo.CommitTxn(txnID)
	assert.NoError(t, err)

	sess := NewLoopbackSession(repo)
	editor := newRecordingEditor()
	reporter, err := sess.Status(rev, editor)
	assert.NoError(t, err)

	assert.NoError(t, reporter.SetPath("a.txt", rev))
	assert.NoError(t, reporter.FinishReport(context.Background(), nil))
	assert.NotContains(t, editor.added, "a.txt")
	_, sentDelta := editor.deltas["a.txt"]
	assert.True(t, sentDelta, "unmodified files still receive a delta under the current simplified diff")
}

func TestLoopbackStatusCancellation(t *testing.T) {
	repo := newTestRepo(t)
	txnID, root, err := repo.BeginTxn(0)
	assert.NoError(t, err)
	_, err = root.MakeFile("", "a.txt")
	assert.NoError(t, err)
	rev, err := repo.CommitTxn(txnID)
	assert.NoError(t, err)

	sess := NewLoopbackSession(repo)
	editor := newRecordingEditor()
	reporter, err := sess.Status(rev, editor)
	assert.NoError(t, err)

	err = reporter.FinishReport(context.Background(), func() bool { return true })
	assert.Error(t, err)
}
