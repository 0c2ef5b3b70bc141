// Package wc implements the working-copy reporter driver: the client-side
// state machine that compares a local working copy against a repository
// HEAD by crawling local metadata, driving a remote-access reporter, and
// consuming the editor callback stream the remote drives in response.
//
// State machine: Locked -> SessionOpen -> {HeadAbsent | ReportDriven} ->
// Drained -> Unlocked. Every exit path, including errors, releases the
// locks acquired in the first state.
package wc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/lock"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/ra"
)

// Entry is one versioned item recorded in a working copy's administrative
// metadata.
type Entry struct {
	Path        string
	Kind        noderev.Kind
	URL         string
	BaseRev     int64
	Deleted     bool // scheduled for deletion
	Switched    bool
	SwitchedURL string
}

// AdminArea is the working copy's metadata store: the recorded checkout
// URL, the revision the copy was last brought up to date with, and the
// set of versioned entries beneath it.
type AdminArea struct {
	Root    string
	URL     string
	BaseRev int64
	Entries map[string]*Entry // keyed by path relative to Root ("" is the root itself)

	lockDir string
}

// NewAdminArea constructs an in-memory administrative area rooted at root.
// Its lock files live in filepath.Join(root, ".arbor").
func NewAdminArea(root, url string, baseRev int64, entries map[string]*Entry) *AdminArea {
	if entries == nil {
		entries = map[string]*Entry{}
	}
	if _, ok := entries[""]; !ok {
		entries[""] = &Entry{Path: "", Kind: noderev.KindDirectory, URL: url, BaseRev: baseRev}
	}
	return &AdminArea{Root: root, URL: url, BaseRev: baseRev, Entries: entries, lockDir: filepath.Join(root, ".arbor")}
}

func (a *AdminArea) lockPath(relPath string) string {
	name := strings.ReplaceAll(relPath, "/", "__")
	if name == "" {
		name = "_root"
	}
	return filepath.Join(a.lockDir, name+".lock")
}

// StatusRecord is one reported entry: its local (working-copy) status and,
// when a status --update was requested, its repository status.
type StatusRecord struct {
	Path       string
	WCStatus   string
	RepoStatus string // empty unless Options.Update was set
}

// Options controls a Status invocation.
type Options struct {
	Recurse  bool
	GetAll   bool
	Update   bool
	NoIgnore bool
	Cancel   func() bool
}

// Sink receives one StatusRecord per reported path.
type Sink func(path string, rec StatusRecord)

// Driver runs status/update reports against a single AdminArea.
type Driver struct {
	area  *AdminArea
	Debug bool // when true, enforce the "each path reported at most once" invariant
}

// NewDriver binds a Driver to area.
func NewDriver(area *AdminArea) *Driver {
	return &Driver{area: area}
}

// splitAnchorTarget implements the anchor/target split: for a directory
// operand anchor==path and target==""; for a file operand anchor is the
// parent directory and target is the basename.
func (d *Driver) splitAnchorTarget(path string) (anchor, target string, err error) {
	e, ok := d.area.Entries[path]
	if !ok {
		return "", "", fmt.Errorf("wc: %q: %w", path, fserrors.ErrEntryNotFound)
	}
	if e.Kind == noderev.KindDirectory {
		return path, "", nil
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path, nil
	}
	return path[:idx], path[idx+1:], nil
}

// Status runs a status (or status --update) report against path, invoking
// sink once per reported entry, and returns the repository's youngest
// revision as observed during the run (0 if no remote contact was made).
func (d *Driver) Status(ctx context.Context, path string, sink Sink, opts Options, session ra.Session) (int64, error) {
	anchor, target, err := d.splitAnchorTarget(path)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(d.area.lockDir, 0o755); err != nil {
		return 0, fmt.Errorf("wc: creating administrative area: %w", err)
	}

	// State: Locked. Anchor+target split locking: status on a file locks
	// its parent directory's admin area; a directory operand locks itself.
	anchorHandle, err := lock.Acquire(d.area.lockPath(anchor))
	if err != nil {
		return 0, fmt.Errorf("wc: locking anchor: %w", err)
	}
	defer anchorHandle.Release()

	var targetHandle *lock.Handle
	if target != "" {
		targetHandle, err = lock.Acquire(d.area.lockPath(path))
		if err != nil {
			return 0, fmt.Errorf("wc: locking target: %w", err)
		}
		defer targetHandle.Release()
	}

	anchorEntry := d.area.Entries[anchor]
	if anchorEntry.URL == "" {
		return 0, fmt.Errorf("wc: %q: %w", anchor, fserrors.ErrEntryMissingURL)
	}

	if !opts.Update || session == nil {
		// State: SessionOpen skipped — a plain local status never contacts
		// the remote, so every record carries only a working-copy status.
		if err := d.crawlLocalOnly(path, opts, sink); err != nil {
			return 0, err
		}
		return 0, nil
	}

	// State: SessionOpen.
	youngest, err := session.Youngest()
	if err != nil {
		return 0, fmt.Errorf("wc: querying youngest: %w", err)
	}

	exists, err := session.CheckPath(anchor, youngest)
	if err != nil {
		return 0, fmt.Errorf("wc: check-path: %w", err)
	}

	if !exists {
		// State: HeadAbsent.
		if err := d.emitDeletedInRepository(path, opts, sink); err != nil {
			return 0, err
		}
		// State: Drained -> Unlocked (via deferred releases).
		return youngest, nil
	}

	// State: ReportDriven.
	editor := &statusEditor{
		driver: d,
		sink:   sink,
		seen:   map[string]bool{},
	}
	reporter, err := session.Status(youngest, editor)
	if err != nil {
		return 0, fmt.Errorf("wc: opening status report: %w", err)
	}

	if err := d.reportLocalState(ctx, path, opts, reporter); err != nil {
		return 0, err
	}

	if err := reporter.FinishReport(ctx, opts.Cancel); err != nil {
		return 0, err
	}

	// State: Drained -> Unlocked.
	return youngest, nil
}

// reportLocalState crawls the local entries beneath path depth-first and
// asserts each against reporter, per spec step 5.
func (d *Driver) reportLocalState(ctx context.Context, path string, opts Options, reporter ra.Reporter) error {
	for _, p := range d.sortedDescendants(path, opts.Recurse) {
		if opts.Cancel != nil && opts.Cancel() {
			return fserrors.ErrCanceled
		}
		e := d.area.Entries[p]
		if e.Deleted {
			if err := reporter.DeletePath(p); err != nil {
				return err
			}
			continue
		}
		if e.Switched {
			if err := reporter.LinkPath(p, e.SwitchedURL, e.BaseRev); err != nil {
				return err
			}
			continue
		}
		if e.BaseRev != d.area.BaseRev {
			if err := reporter.SetPath(p, e.BaseRev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) sortedDescendants(path string, recurse bool) []string {
	var out []string
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	for p := range d.area.Entries {
		if p == path {
			out = append(out, p)
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if !recurse && strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// crawlLocalOnly emits WCStatus-only records for a plain (non-update)
// status call.
func (d *Driver) crawlLocalOnly(path string, opts Options, sink Sink) error {
	for _, p := range d.sortedDescendants(path, opts.Recurse) {
		e := d.area.Entries[p]
		if !opts.GetAll && !e.Deleted {
			continue
		}
		sink(p, StatusRecord{Path: p, WCStatus: wcStatus(e)})
	}
	return nil
}

// emitDeletedInRepository synthesizes a repository-status=deleted record
// for every local entry beneath path, the HeadAbsent branch of the state
// machine.
func (d *Driver) emitDeletedInRepository(path string, opts Options, sink Sink) error {
	for _, p := range d.sortedDescendants(path, true) {
		e := d.area.Entries[p]
		sink(p, StatusRecord{Path: p, WCStatus: wcStatus(e), RepoStatus: "deleted"})
	}
	return nil
}

func wcStatus(e *Entry) string {
	if e.Deleted {
		return "deleted"
	}
	return "normal"
}

// statusEditor implements ra.Editor, translating the remote's delta
// callbacks into StatusRecords forwarded to the caller's sink. In debug
// mode it enforces that each path is opened or added at most once, per
// the editor contract.
type statusEditor struct {
	driver *Driver
	sink   Sink
	seen   map[string]bool
}

func (e *statusEditor) markSeen(path string) error {
	if e.driver.Debug {
		if e.seen[path] {
			return fmt.Errorf("wc: path %q reported more than once by editor", path)
		}
	}
	e.seen[path] = true
	return nil
}

func (e *statusEditor) OpenDirectory(path string) error {
	if err := e.markSeen(path); err != nil {
		return err
	}
	if _, local := e.driver.area.Entries[path]; !local {
		e.sink(path, StatusRecord{Path: path, WCStatus: "none", RepoStatus: "added"})
	}
	return nil
}

func (e *statusEditor) CloseDirectory(path string) error { return nil }

func (e *statusEditor) AddFile(path string) error {
	if err := e.markSeen(path); err != nil {
		return err
	}
	if _, local := e.driver.area.Entries[path]; !local {
		e.sink(path, StatusRecord{Path: path, WCStatus: "none", RepoStatus: "added"})
	}
	return nil
}

func (e *statusEditor) ApplyTextDelta(path string, content []byte) error {
	if le, local := e.driver.area.Entries[path]; local {
		e.sink(path, StatusRecord{Path: path, WCStatus: wcStatus(le), RepoStatus: "modified"})
	}
	return nil
}

func (e *statusEditor) Delete(path string) error {
	if err := e.markSeen(path); err != nil {
		return err
	}
	e.sink(path, StatusRecord{Path: path, WCStatus: "none", RepoStatus: "deleted"})
	return nil
}
