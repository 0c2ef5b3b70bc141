// Package txnstore implements the transaction store: the staging area a
// commit passes through between BeginTxn and either Commit or Abort.
//
// On-disk layout, rooted at a repository's data directory:
//
//	db/transactions/<txn-id>.txn/props     transaction property file (hash-file format)
//	db/transactions/<txn-id>.txn/changes    append-only path-change log (one JSON record per line)
//
// A transaction's mutable root node revision lives in pkg/noderev under an
// ID whose Origin is "t<txn-id>"; txnstore itself only tracks the
// transaction's bookkeeping (base revision, root pointer, properties, and
// the changes log), mirroring the way db/revs/<N> vs. db/transactions/ split
// committed from in-progress state.
package txnstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/hashfile"
	"github.com/arborvc/arbor/pkg/keygen"
	"github.com/arborvc/arbor/pkg/lock"
	"github.com/arborvc/arbor/pkg/noderev"
)

// Kind distinguishes the lifecycle stage of a transaction record.
type Kind int

const (
	KindNormal Kind = iota
	KindCommitted
	KindDead
)

func (k Kind) String() string {
	switch k {
	case KindCommitted:
		return "committed"
	case KindDead:
		return "dead"
	default:
		return "normal"
	}
}

// ChangeKind classifies one path-level mutation recorded in a
// transaction's changes log.
type ChangeKind int

const (
	ChangeModify ChangeKind = iota
	ChangeAdd
	ChangeDelete
	ChangeModifyProps
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeModifyProps:
		return "modify-props"
	default:
		return "modify"
	}
}

// Change is one entry in a transaction's changes log: the path affected,
// what kind of change it was, and the node revision it now points to (the
// zero ID for deletions).
type Change struct {
	Sequence     uint64
	Path         string
	Kind         ChangeKind
	NodeID       noderev.ID
	CopyfromRev  int64
	CopyfromPath string
	Timestamp    time.Time
	Checksum     uint32
}

// Transaction is an in-progress unit of work: a mutable root rooted at
// BaseRev, accumulating changes until Commit or Abort.
type Transaction struct {
	ID       string
	BaseRev  int64
	BaseRoot noderev.ID
	Root     noderev.ID
	Kind     Kind

	// CommittedRev is set once Kind == KindCommitted.
	CommittedRev int64
}

// Store is the on-disk transaction store rooted at dataDir/db.
type Store struct {
	dbDir string
}

// Open binds a Store to dbDir/transactions, creating the directory if
// necessary.
func Open(dbDir string) (*Store, error) {
	dir := filepath.Join(dbDir, "transactions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("txnstore: creating %s: %w", dir, err)
	}
	return &Store{dbDir: dbDir}, nil
}

func (s *Store) txnDir(id string) string {
	return filepath.Join(s.dbDir, "transactions", id+".txn")
}
func (s *Store) propsPath(id string) string   { return filepath.Join(s.txnDir(id), "props") }
func (s *Store) changesPath(id string) string { return filepath.Join(s.txnDir(id), "changes") }

// metaPath lives as a sibling of the .txn staging directory, not inside
// it: Abort and MarkCommitted purge the staging directory but a
// transaction's final disposition (committed-to-revision, or dead) must
// stay lookup-able afterward.
func (s *Store) metaPath(id string) string { return filepath.Join(s.dbDir, "transactions", id+".meta") }

// Begin creates a new transaction rooted at baseRev/baseRoot, with root
// initially identical to baseRoot (the DAG layer clones it lazily on first
// mutation). The caller is responsible for allocating a fresh transaction
// ID, typically via NextTxnID; Begin itself treats id as opaque.
func (s *Store) Begin(id string, baseRev int64, baseRoot noderev.ID) (*Transaction, error) {
	dir := s.txnDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrAlreadyExists)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("txnstore: creating %s: %w", dir, err)
	}

	txn := &Transaction{ID: id, BaseRev: baseRev, BaseRoot: baseRoot, Root: baseRoot, Kind: KindNormal}

	if err := writeMeta(s.metaPath(id), txn); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := atomicWrite(s.propsPath(id), func(w *os.File) error {
		return hashfile.Encode(w, hashfile.Map{
			"svn:txn-creation-time": []byte(time.Now().UTC().Format(time.RFC3339Nano)),
		})
	}); err != nil {
		os.RemoveAll(dir)
		os.Remove(s.metaPath(id))
		return nil, err
	}
	// Touch an empty changes log so Changes() never has to distinguish
	// "no changes yet" from "directory missing".
	f, err := os.OpenFile(s.changesPath(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		os.RemoveAll(dir)
		os.Remove(s.metaPath(id))
		return nil, fserrors.Wrap("create changes log", s.changesPath(id), err)
	}
	f.Close()

	return txn, nil
}

// Get loads a transaction's current bookkeeping record.
func (s *Store) Get(id string) (*Transaction, error) {
	txn, err := readMeta(s.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrNoSuchTransaction)
	}
	return txn, nil
}

// GetExpectDead loads a transaction and fails with
// fserrors.ErrTransactionNotDead unless it is marked dead, guarding
// destructive purge paths against touching a still-live transaction.
func (s *Store) GetExpectDead(id string) (*Transaction, error) {
	txn, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if txn.Kind != KindDead {
		return nil, fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotDead)
	}
	return txn, nil
}

// List returns the IDs of all transactions currently on disk, committed or
// dead ones included (callers typically filter by Kind after Get).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dbDir, "transactions"))
	if err != nil {
		return nil, fserrors.Wrap("list transactions", s.dbDir, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".meta") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".meta"))
		}
	}
	return ids, nil
}

// SetRoot updates the transaction's current mutable root pointer, used by
// the DAG layer each time clone-on-write produces a new root node
// revision.
func (s *Store) SetRoot(id string, root noderev.ID) error {
	txn, err := s.Get(id)
	if err != nil {
		return err
	}
	if txn.Kind != KindNormal {
		return fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotMutable)
	}
	txn.Root = root
	return writeMeta(s.metaPath(id), txn)
}

// GetProperty returns the named transaction property, or nil if unset.
func (s *Store) GetProperty(id, name string) ([]byte, error) {
	m, err := s.ListProperties(id)
	if err != nil {
		return nil, err
	}
	return m[name], nil
}

// ListProperties returns a snapshot of the transaction's property map.
func (s *Store) ListProperties(id string) (hashfile.Map, error) {
	f, err := os.Open(s.propsPath(id))
	if err != nil {
		return nil, fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrNoSuchTransaction)
	}
	defer f.Close()
	return hashfile.Decode(f)
}

// SetProperty atomically rewrites the transaction's property file with
// name set to value, or removed if value is nil.
func (s *Store) SetProperty(id, name string, value []byte) error {
	txn, err := s.Get(id)
	if err != nil {
		return err
	}
	if txn.Kind != KindNormal {
		return fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotMutable)
	}

	m, err := s.ListProperties(id)
	if err != nil {
		return err
	}
	if value == nil {
		delete(m, name)
	} else {
		m[name] = value
	}
	return atomicWrite(s.propsPath(id), func(w *os.File) error {
		return hashfile.Encode(w, m)
	})
}

// AppendChange records one path-level change in the transaction's changes
// log. The log is append-only and never rewritten in place, reusing the
// teacher's write-ahead-log framing (monotonic sequence, timestamp, and a
// per-record checksum) adapted here to path-level change records instead
// of node/edge mutations.
func (s *Store) AppendChange(id string, c Change) error {
	txn, err := s.Get(id)
	if err != nil {
		return err
	}
	if txn.Kind != KindNormal {
		return fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotMutable)
	}

	seq, err := s.countChanges(id)
	if err != nil {
		return err
	}
	c.Sequence = seq + 1
	c.Timestamp = time.Now().UTC()

	rec := changeRecord{
		Sequence:     c.Sequence,
		Path:         c.Path,
		Kind:         c.Kind.String(),
		NodeID:       c.NodeID.String(),
		CopyfromRev:  c.CopyfromRev,
		CopyfromPath: c.CopyfromPath,
		Timestamp:    c.Timestamp,
	}
	rec.Checksum = changeChecksum(rec)
	c.Checksum = rec.Checksum

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txnstore: encoding change: %w", err)
	}

	f, err := os.OpenFile(s.changesPath(id), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fserrors.Wrap("append change", s.changesPath(id), err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fserrors.Wrap("append change", s.changesPath(id), err)
	}
	return f.Sync()
}

// countChanges returns the number of change records already on disk for
// id, used to assign the next record's sequence number.
func (s *Store) countChanges(id string) (uint64, error) {
	f, err := os.Open(s.changesPath(id))
	if err != nil {
		return 0, fserrors.Wrap("count changes", s.changesPath(id), err)
	}
	defer f.Close()

	var n uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if scanner.Text() != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fserrors.Wrap("count changes", s.changesPath(id), err)
	}
	return n, nil
}

// changeChecksum computes a checksum over a change record's fields prior
// to the Checksum field itself being set, matching the teacher's
// wal.go crc32Checksum helper.
func changeChecksum(rec changeRecord) uint32 {
	rec.Checksum = 0
	data, _ := json.Marshal(rec)
	var sum uint32
	for _, b := range data {
		sum = (sum >> 8) ^ uint32(b)
		sum ^= sum << 16
	}
	return sum
}

// Changes returns the full ordered changes log for the transaction.
func (s *Store) Changes(id string) ([]Change, error) {
	f, err := os.Open(s.changesPath(id))
	if err != nil {
		return nil, fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrNoSuchTransaction)
	}
	defer f.Close()

	var out []Change
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var rec changeRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("txnstore: %w", fserrors.ErrCorruptRevision)
		}
		wantSum := rec.Checksum
		if changeChecksum(rec) != wantSum {
			return nil, fmt.Errorf("txnstore: change record %d: %w", rec.Sequence, fserrors.ErrCorruptRevision)
		}
		nodeID, err := noderev.ParseID(rec.NodeID)
		if err != nil && rec.NodeID != "" {
			return nil, fmt.Errorf("txnstore: %w", fserrors.ErrCorruptRevision)
		}
		out = append(out, Change{
			Sequence:     rec.Sequence,
			Path:         rec.Path,
			Kind:         parseChangeKind(rec.Kind),
			NodeID:       nodeID,
			CopyfromRev:  rec.CopyfromRev,
			CopyfromPath: rec.CopyfromPath,
			Timestamp:    rec.Timestamp,
			Checksum:     rec.Checksum,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fserrors.Wrap("read changes", s.changesPath(id), err)
	}
	return out, nil
}

func parseChangeKind(s string) ChangeKind {
	switch s {
	case "add":
		return ChangeAdd
	case "delete":
		return ChangeDelete
	case "modify-props":
		return ChangeModifyProps
	default:
		return ChangeModify
	}
}

// Abort marks the transaction dead and purges its on-disk directory. If
// the purge itself fails (e.g. a sibling process holds an open file
// handle), the transaction stays marked dead and the error is wrapped in
// fserrors.ErrTransactionCleanupFailed so a caller can retry cleanup later
// without resurrecting the transaction as usable. Aborting a dead
// transaction whose staging directory is already gone fails with
// fserrors.ErrNoSuchTransaction.
func (s *Store) Abort(id string) error {
	txn, err := s.Get(id)
	if err != nil {
		return err
	}
	if txn.Kind == KindCommitted {
		return fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotDead)
	}
	if txn.Kind == KindDead {
		if _, err := os.Stat(s.txnDir(id)); os.IsNotExist(err) {
			return fmt.Errorf("txnstore: transaction %q already purged: %w", id, fserrors.ErrNoSuchTransaction)
		}
	}

	txn.Kind = KindDead
	if err := writeMeta(s.metaPath(id), txn); err != nil {
		return err
	}
	if err := os.RemoveAll(s.txnDir(id)); err != nil {
		return fmt.Errorf("txnstore: purging %q: %w: %w", id, fserrors.ErrTransactionCleanupFailed, err)
	}
	return nil
}

// MarkCommitted transitions the transaction to KindCommitted pointing at
// revision rev, then purges its staging directory. The caller (pkg/fs's
// commit orchestration) must already hold the repository write lock and
// must call this only after the corresponding revision has been durably
// written via pkg/revstore.Store.AppendRevision.
func (s *Store) MarkCommitted(id string, rev int64) error {
	txn, err := s.Get(id)
	if err != nil {
		return err
	}
	if txn.Kind != KindNormal {
		return fmt.Errorf("txnstore: transaction %q: %w", id, fserrors.ErrTransactionNotMutable)
	}
	txn.Kind = KindCommitted
	txn.CommittedRev = rev
	if err := writeMeta(s.metaPath(id), txn); err != nil {
		return err
	}
	return os.RemoveAll(s.txnDir(id))
}

// LockPath returns the repository's exclusive write lock path, shared with
// pkg/revstore so a full commit can be scoped under a single Acquire.
func (s *Store) LockPath() string { return filepath.Join(s.dbDir, "write-lock") }

// NextTxnID allocates a fresh, monotonically increasing transaction ID,
// persisted in db/transactions/next-id. It acquires the repository write
// lock itself, so the caller must not already hold it.
func (s *Store) NextTxnID() (string, error) {
	h, err := lock.Acquire(s.LockPath())
	if err != nil {
		return "", fmt.Errorf("txnstore: acquiring write lock: %w", err)
	}
	defer h.Release()

	counterPath := filepath.Join(s.dbDir, "transactions", "next-id")
	cur := "0"
	if data, err := os.ReadFile(counterPath); err == nil {
		cur = strings.TrimSpace(string(data))
	}
	next := keygen.Next(cur)
	if err := atomicWrite(counterPath, func(w *os.File) error {
		_, err := fmt.Fprintln(w, next)
		return err
	}); err != nil {
		return "", err
	}
	return cur, nil
}

type metaFile struct {
	ID           string `json:"id"`
	BaseRev      int64  `json:"base_rev"`
	BaseRoot     string `json:"base_root"`
	Root         string `json:"root"`
	Kind         int    `json:"kind"`
	CommittedRev int64  `json:"committed_rev"`
}

func writeMeta(path string, txn *Transaction) error {
	return atomicWrite(path, func(w *os.File) error {
		return json.NewEncoder(w).Encode(metaFile{
			ID:           txn.ID,
			BaseRev:      txn.BaseRev,
			BaseRoot:     txn.BaseRoot.String(),
			Root:         txn.Root.String(),
			Kind:         int(txn.Kind),
			CommittedRev: txn.CommittedRev,
		})
	})
}

func readMeta(path string) (*Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf metaFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("txnstore: %w", fserrors.ErrCorruptRevision)
	}
	baseRoot, err := noderev.ParseID(mf.BaseRoot)
	if err != nil {
		return nil, fmt.Errorf("txnstore: %w", fserrors.ErrCorruptRevision)
	}
	root, err := noderev.ParseID(mf.Root)
	if err != nil {
		return nil, fmt.Errorf("txnstore: %w", fserrors.ErrCorruptRevision)
	}
	return &Transaction{
		ID:           mf.ID,
		BaseRev:      mf.BaseRev,
		BaseRoot:     baseRoot,
		Root:         root,
		Kind:         Kind(mf.Kind),
		CommittedRev: mf.CommittedRev,
	}, nil
}

type changeRecord struct {
	Sequence     uint64    `json:"seq"`
	Path         string    `json:"path"`
	Kind         string    `json:"kind"`
	NodeID       string    `json:"node_id"`
	CopyfromRev  int64     `json:"copyfrom_rev,omitempty"`
	CopyfromPath string    `json:"copyfrom_path,omitempty"`
	Timestamp    time.Time `json:"ts"`
	Checksum     uint32    `json:"checksum"`
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
