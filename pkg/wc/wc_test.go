package wc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arborvc/arbor/pkg/fs"
	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/ra"
)

func newTestRepo(t *testing.T) *fs.FS {
	t.Helper()
	f, err := fs.Create(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestSplitAnchorTargetDirectory(t *testing.T) {
	area := NewAdminArea(t.TempDir(), "file:///repo", 1, map[string]*Entry{
		"trunk": {Path: "trunk", Kind: noderev.KindDirectory},
	})
	d := NewDriver(area)
	anchor, target, err := d.splitAnchorTarget("trunk")
	assert.NoError(t, err)
	assert.Equal(t, "trunk", anchor)
	assert.Equal(t, "", target)
}

func TestSplitAnchorTargetFile(t *testing.T) {
	area := NewAdminArea(t.TempDir(), "file:///repo", 1, map[string]*Entry{
		"trunk":       {Path: "trunk", Kind: noderev.KindDirectory},
		"trunk/a.txt": {Path: "trunk/a.txt", Kind: noderev.KindFile},
	})
	d := NewDriver(area)
	anchor, target, err := d.splitAnchorTarget("trunk/a.txt")
	assert.NoError(t, err)
	assert.Equal(t, "trunk", anchor)
	assert.Equal(t, "a.txt", target)
}

func TestSplitAnchorTargetMissingEntry(t *testing.T) {
	area := NewAdminArea(t.TempDir(), "file:///repo", 1, nil)
	d := NewDriver(area)
	_, _, err := d.splitAnchorTarget("nope")
	assert.Error(t, err)
}

func TestLocalOnlyStatusReportsDeletedEntries(t *testing.T) {
	area := NewAdminArea(t.TempDir(), "file:///repo", 1, map[string]*Entry{
		"a.txt": {Path: "a.txt", Kind: noderev.KindFile},
		"b.txt": {Path: "b.txt", Kind: noderev.KindFile, Deleted: true},
	})
	d := NewDriver(area)

	var recs []StatusRecord
	_, err := d.Status(context.Background(), "", func(path string, r StatusRecord) {
		recs = append(recs, r)
	}, Options{Recurse: true}, nil)
	assert.NoError(t, err)

	assert.Len(t, recs, 1)
	assert.Equal(t, "b.txt", recs[0].Path)
	assert.Equal(t, "deleted", recs[0].WCStatus)
}

func TestLocalOnlyStatusGetAllIncludesNormal(t *testing.T) {
	area := NewAdminArea(t.TempDir(), "file:///repo", 1, map[string]*Entry{
		"a.txt": {Path: "a.txt", Kind: noderev.KindFile},
	})
	d := NewDriver(area)

	var paths []string
	_, err := d.Status(context.Background(), "", func(path string, r StatusRecord) {
		paths = append(paths, path)
	}, Options{Recurse: true, GetAll: true}, nil)
	assert.NoError(t, err)
	assert.Contains(t, paths, "a.txt")
}

func TestStatusUpdateReportsRemoteAddition(t *testing.T) {
	repo := newTestRepo(t)
	txnID, root, err := repo.BeginTxn(0)
	assert.NoError(t, err)
	_, err = root.MakeFile("", "new.txt")
	assert.NoError(t, err)
	assert.NoError(t, root.SetContents("new.txt", []byte("fresh")))
	_, err = repo.CommitTxn(txnID)
	assert.NoError(t, err)

	area := NewAdminArea(t.TempDir(), "file:///repo", 1, nil)
	d := NewDriver(area)
	session := ra.NewLoopbackSession(repo)

	var added []string
	_, err = d.Status(context.Background(), "", func(path string, r StatusRecord) {
		if r.RepoStatus == "added" {
			added = append(added, path)
		}
	}, Options{Recurse: true, Update: true}, session)
	assert.NoError(t, err)
	assert.Contains(t, added, "new.txt")
}

func TestStatusUpdateHeadAbsentMarksAllDeleted(t *testing.T) {
	repo := newTestRepo(t)
	area := NewAdminArea(t.TempDir(), "file:///repo", 0, map[string]*Entry{
		"gone":       {Path: "gone", Kind: noderev.KindDirectory, URL: "file:///repo/gone"},
		"gone/a.txt": {Path: "gone/a.txt", Kind: noderev.KindFile},
	})
	d := NewDriver(area)
	session := ra.NewLoopbackSession(repo)

	var repoStatuses []string
	_, err := d.Status(context.Background(), "gone", func(path string, r StatusRecord) {
		repoStatuses = append(repoStatuses, r.RepoStatus)
	}, Options{Update: true}, session)
	assert.NoError(t, err)
	assert.NotEmpty(t, repoStatuses)
	for _, s := range repoStatuses {
		assert.Equal(t, "deleted", s)
	}
}

func TestStatusMissingURLFails(t *testing.T) {
	repo := newTestRepo(t)
	area := NewAdminArea(t.TempDir(), "", 0, map[string]*Entry{})
	area.Entries[""].URL = ""
	d := NewDriver(area)
	_, err := d.Status(context.Background(), "", func(string, StatusRecord) {}, Options{Update: true}, ra.NewLoopbackSession(repo))
	assert.ErrorIs(t, err, fserrors.ErrEntryMissingURL)
}

func TestStatusCancellationDuringCrawl(t *testing.T) {
	repo := newTestRepo(t)
	area := NewAdminArea(t.TempDir(), "file:///repo", 0, map[string]*Entry{
		"a.txt": {Path: "a.txt", Kind: noderev.KindFile, BaseRev: 0},
		"b.txt": {Path: "b.txt", Kind: noderev.KindFile, BaseRev: 5},
	})
	d := NewDriver(area)
	session := ra.NewLoopbackSession(repo)

	_, err := d.Status(context.Background(), "", func(string, StatusRecord) {}, Options{
		Recurse: true,
		Update:  true,
		Cancel:  func() bool { return true },
	}, session)
	assert.ErrorIs(t, err, fserrors.ErrCanceled)
}

func TestDebugModeRejectsDuplicateEditorCallback(t *testing.T) {
	e := &statusEditor{
		driver: NewDriver(NewAdminArea(t.TempDir(), "file:///repo", 0, nil)),
		sink:   func(string, StatusRecord) {},
		seen:   map[string]bool{},
	}
	e.driver.Debug = true
	assert.NoError(t, e.OpenDirectory("trunk"))
	assert.Error(t, e.OpenDirectory("trunk"))
}
