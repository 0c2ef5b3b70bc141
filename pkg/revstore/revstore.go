// Package revstore implements the revision store: an ordered, append-only
// sequence of committed revisions, each pointing to a root node-revision
// plus a property map.
//
// On-disk layout, rooted at a repository's data directory:
//
//	db/current          youngest revision, next-node-id, next-copy-id
//	db/revs/<N>          immutable revision content file
//	db/revprops/<N>      mutable property file (hash-file format)
//	db/write-lock        exclusive advisory lock covering all of the above
//
// Revision content and property files are written via a write-to-temp,
// fsync, rename-over-canonical protocol, so a reader always sees either the
// prior or the new file, never a torn one.
package revstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/hashfile"
	"github.com/arborvc/arbor/pkg/keygen"
	"github.com/arborvc/arbor/pkg/lock"
	"github.com/arborvc/arbor/pkg/noderev"
)

// Revision is an immutable snapshot: a revision number, a root
// node-revision ID, and a property map.
type Revision struct {
	Number     int64
	Root       noderev.ID
	Properties hashfile.Map
}

// Store is the on-disk revision store rooted at dataDir/db.
type Store struct {
	dbDir string
}

// Open binds a Store to an existing db/ directory. Use Create to initialize
// a brand-new repository.
func Open(dbDir string) (*Store, error) {
	if _, err := os.Stat(filepath.Join(dbDir, "current")); err != nil {
		return nil, fmt.Errorf("revstore: opening %s: %w", dbDir, err)
	}
	return &Store{dbDir: dbDir}, nil
}

// Create initializes a brand-new repository at dbDir: revision 0 with an
// empty root directory and an empty property map, and a db/current file
// recording youngest revision 0 and next node-ID and copy-ID 1 (node-ID
// and copy-ID 0 belong to the empty root).
func Create(dbDir string, emptyRoot noderev.ID) (*Store, error) {
	for _, sub := range []string{"revs", "revprops", "transactions"} {
		if err := os.MkdirAll(filepath.Join(dbDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("revstore: creating %s: %w", sub, err)
		}
	}
	s := &Store{dbDir: dbDir}

	if err := writeRevisionFile(s.revPath(0), Revision{Number: 0, Root: emptyRoot}); err != nil {
		return nil, err
	}
	if err := atomicWrite(s.revPropsPath(0), func(w *os.File) error {
		return hashfile.Encode(w, hashfile.Map{})
	}); err != nil {
		return nil, err
	}
	if err := writeCurrent(s.currentPath(), current{Youngest: 0, NextNodeID: "1", NextCopyID: "1"}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) revPath(rev int64) string      { return filepath.Join(s.dbDir, "revs", strconv.FormatInt(rev, 10)) }
func (s *Store) revPropsPath(rev int64) string { return filepath.Join(s.dbDir, "revprops", strconv.FormatInt(rev, 10)) }
func (s *Store) currentPath() string           { return filepath.Join(s.dbDir, "current") }
func (s *Store) lockPath() string              { return filepath.Join(s.dbDir, "write-lock") }

// current is the parsed form of db/current.
type current struct {
	Youngest   int64
	NextNodeID string
	NextCopyID string
}

func readCurrent(path string) (current, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return current{}, fmt.Errorf("revstore: reading %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 3 {
		return current{}, fserrors.ErrCorruptRevision
	}
	youngest, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return current{}, fserrors.ErrCorruptRevision
	}
	return current{Youngest: youngest, NextNodeID: fields[1], NextCopyID: fields[2]}, nil
}

func writeCurrent(path string, c current) error {
	return atomicWrite(path, func(w *os.File) error {
		_, err := fmt.Fprintf(w, "%d %s %s\n", c.Youngest, c.NextNodeID, c.NextCopyID)
		return err
	})
}

// Youngest returns the highest committed revision number.
func (s *Store) Youngest() (int64, error) {
	c, err := readCurrent(s.currentPath())
	if err != nil {
		return 0, err
	}
	return c.Youngest, nil
}

// Exists reports whether rev has been committed.
func (s *Store) Exists(rev int64) (bool, error) {
	youngest, err := s.Youngest()
	if err != nil {
		return false, err
	}
	return rev >= 0 && rev <= youngest, nil
}

// checkRev returns fserrors.ErrNoSuchRevision if rev exceeds youngest.
func (s *Store) checkRev(rev int64) error {
	ok, err := s.Exists(rev)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("revstore: revision %d: %w", rev, fserrors.ErrNoSuchRevision)
	}
	return nil
}

// Root returns the root node-revision ID of rev.
func (s *Store) Root(rev int64) (noderev.ID, error) {
	if err := s.checkRev(rev); err != nil {
		return noderev.ID{}, err
	}
	r, err := readRevisionFile(s.revPath(rev))
	if err != nil {
		return noderev.ID{}, err
	}
	return r.Root, nil
}

// ReadProperty returns the named property on rev, or nil if unset.
func (s *Store) ReadProperty(rev int64, name string) ([]byte, error) {
	m, err := s.ListProperties(rev)
	if err != nil {
		return nil, err
	}
	return m[name], nil
}

// ListProperties returns a snapshot of rev's full property map.
func (s *Store) ListProperties(rev int64) (hashfile.Map, error) {
	if err := s.checkRev(rev); err != nil {
		return nil, err
	}
	f, err := os.Open(s.revPropsPath(rev))
	if err != nil {
		return nil, fserrors.Wrap("read revprops", s.revPropsPath(rev), err)
	}
	defer f.Close()
	return hashfile.Decode(f)
}

// SetProperty atomically rewrites rev's property file with name set to
// value, or removed if value is nil. This is the only sanctioned mutation
// of committed revision state; it acquires the repository write lock
// itself, since — unlike AppendRevision — it is never called as part of a
// larger already-locked operation.
func (s *Store) SetProperty(rev int64, name string, value []byte) error {
	h, err := lock.Acquire(s.lockPath())
	if err != nil {
		return fmt.Errorf("revstore: acquiring write lock: %w", err)
	}
	defer h.Release()

	if err := s.checkRev(rev); err != nil {
		return err
	}

	f, err := os.Open(s.revPropsPath(rev))
	if err != nil {
		return fserrors.Wrap("read revprops", s.revPropsPath(rev), err)
	}
	m, err := hashfile.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	if value == nil {
		delete(m, name)
	} else {
		m[name] = value
	}

	return atomicWrite(s.revPropsPath(rev), func(w *os.File) error {
		return hashfile.Encode(w, m)
	})
}

// AppendRevision atomically creates revision youngest+1 pointing at root
// with the given properties, and bumps db/current accordingly.
//
// The caller must already hold the repository write lock (see pkg/lock and
// pkg/fs's commit orchestration) — AppendRevision never acquires it itself,
// because it is always one step of a larger lock scope that also retires
// the committing transaction.
func (s *Store) AppendRevision(root noderev.ID, props hashfile.Map) (int64, error) {
	c, err := readCurrent(s.currentPath())
	if err != nil {
		return 0, err
	}
	next := c.Youngest + 1

	if err := writeRevisionFile(s.revPath(next), Revision{Number: next, Root: root}); err != nil {
		return 0, err
	}
	if err := atomicWrite(s.revPropsPath(next), func(w *os.File) error {
		return hashfile.Encode(w, props)
	}); err != nil {
		return 0, err
	}

	c.Youngest = next
	if err := writeCurrent(s.currentPath(), c); err != nil {
		return 0, err
	}
	return next, nil
}

// AllocateNodeID hands out the next node-ID counter value and persists the
// bump. Unlike AppendRevision, this is called ad hoc by the DAG layer on
// every fresh node creation, independent of any commit — so it acquires
// the write lock itself rather than assuming a wider scope already holds
// it.
func (s *Store) AllocateNodeID() (string, error) {
	h, err := lock.Acquire(s.lockPath())
	if err != nil {
		return "", fmt.Errorf("revstore: acquiring write lock: %w", err)
	}
	defer h.Release()

	c, err := readCurrent(s.currentPath())
	if err != nil {
		return "", err
	}
	id := c.NextNodeID
	c.NextNodeID = keygen.Next(c.NextNodeID)
	if err := writeCurrent(s.currentPath(), c); err != nil {
		return "", err
	}
	return id, nil
}

// AllocateCopyID hands out the next copy-ID counter value and persists the
// bump, self-locking for the same reason as AllocateNodeID.
func (s *Store) AllocateCopyID() (string, error) {
	h, err := lock.Acquire(s.lockPath())
	if err != nil {
		return "", fmt.Errorf("revstore: acquiring write lock: %w", err)
	}
	defer h.Release()

	c, err := readCurrent(s.currentPath())
	if err != nil {
		return "", err
	}
	id := c.NextCopyID
	c.NextCopyID = keygen.Next(c.NextCopyID)
	if err := writeCurrent(s.currentPath(), c); err != nil {
		return "", err
	}
	return id, nil
}

// LockPath returns the path to the repository's exclusive write lock file,
// for callers (pkg/fs) that need to hold it across several store calls.
func (s *Store) LockPath() string { return s.lockPath() }

type revisionFile struct {
	Number int64  `json:"number"`
	Root   string `json:"root"`
}

func writeRevisionFile(path string, r Revision) error {
	return atomicWrite(path, func(w *os.File) error {
		return json.NewEncoder(w).Encode(revisionFile{Number: r.Number, Root: r.Root.String()})
	})
}

func readRevisionFile(path string) (Revision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Revision{}, fserrors.Wrap("read revision", path, err)
	}
	var rf revisionFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return Revision{}, fmt.Errorf("revstore: %s: %w", path, fserrors.ErrCorruptRevision)
	}
	root, err := noderev.ParseID(rf.Root)
	if err != nil {
		return Revision{}, fmt.Errorf("revstore: %s: %w", path, fserrors.ErrCorruptRevision)
	}
	return Revision{Number: rf.Number, Root: root}, nil
}

// atomicWrite writes via a sibling temp file, fsyncs, and renames over
// path, guaranteeing readers see either the old or the new content.
func atomicWrite(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fserrors.Wrap("create temp", path, err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fserrors.Wrap("fsync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fserrors.Wrap("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fserrors.Wrap("rename", path, err)
	}
	return nil
}
