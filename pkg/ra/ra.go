// Package ra defines the abstract remote-access session the working-copy
// driver (pkg/wc) consumes to compare a working copy against a repository
// HEAD, plus two concrete implementations: a loopback session driving a
// local pkg/fs.FS directly (used by tests and same-host CLI invocations),
// and a minimal HTTP-based session for talking to a remote arbor server.
//
// This mirrors the vtable/editor-reporter design spec.md's design notes
// call for: the driver depends only on the Session/Reporter/Editor
// interfaces here, never on a concrete transport.
package ra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/arborvc/arbor/pkg/fs"
	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/arborvc/arbor/pkg/noderev"
)

// Editor is invoked by a Session to describe the delta between a client's
// reported working-copy state and the target revision.
type Editor interface {
	OpenDirectory(path string) error
	CloseDirectory(path string) error
	AddFile(path string) error
	ApplyTextDelta(path string, content []byte) error
	Delete(path string) error
}

// Reporter accepts assertions from the client about its current
// working-copy state, then on FinishReport drives the Editor supplied to
// Session.Status with the computed delta.
type Reporter interface {
	SetPath(path string, rev int64) error
	DeletePath(path string) error
	LinkPath(path, url string, rev int64) error
	FinishReport(ctx context.Context, cancel func() bool) error
}

// Session is the abstract remote-access connection bound to a single
// repository URL.
type Session interface {
	// CheckPath reports whether path exists at rev. Used for the cheap
	// liveness probe the driver performs before requesting a full report.
	CheckPath(path string, rev int64) (bool, error)
	// Youngest returns the remote's current HEAD revision.
	Youngest() (int64, error)
	// Status begins a status/update report against targetRev, returning a
	// Reporter the caller drives and whose FinishReport invokes editor.
	Status(targetRev int64, editor Editor) (Reporter, error)
}

// LoopbackSession implements Session directly against a local pkg/fs.FS,
// with no network transport — used by tests and by the CLI when operating
// on a local repository.
type LoopbackSession struct {
	fs *fs.FS
}

// NewLoopbackSession binds a loopback session to an open filesystem.
func NewLoopbackSession(f *fs.FS) *LoopbackSession {
	return &LoopbackSession{fs: f}
}

func (s *LoopbackSession) CheckPath(path string, rev int64) (bool, error) {
	root, err := s.fs.Revision(rev)
	if err != nil {
		return false, err
	}
	_, err = root.OpenNode(path)
	if err == nil {
		return true, nil
	}
	if err == fserrors.ErrPathNotFound {
		return false, nil
	}
	return false, err
}

func (s *LoopbackSession) Youngest() (int64, error) { return s.fs.Youngest() }

func (s *LoopbackSession) Status(targetRev int64, editor Editor) (Reporter, error) {
	root, err := s.fs.Revision(targetRev)
	if err != nil {
		return nil, err
	}
	return &loopbackReporter{root: root, editor: editor, reported: map[string]int64{}}, nil
}

type revisionRoot interface {
	OpenNode(path string) (*noderev.NodeRevision, error)
	DirEntries(path string) ([]noderev.DirEntry, error)
}

type loopbackReporter struct {
	root     revisionRoot
	editor   Editor
	reported map[string]int64
	deleted  map[string]bool
}

func (r *loopbackReporter) SetPath(path string, rev int64) error {
	r.reported[path] = rev
	return nil
}

func (r *loopbackReporter) DeletePath(path string) error {
	if r.deleted == nil {
		r.deleted = make(map[string]bool)
	}
	r.deleted[path] = true
	return nil
}

func (r *loopbackReporter) LinkPath(path, url string, rev int64) error {
	r.reported[path] = rev
	return nil
}

// FinishReport walks the target revision's tree depth-first and drives
// the editor. AddFile is sent for every file whose path the client did not
// report (at any revision); ApplyTextDelta is sent for every file, reported
// or not, even when its content is unchanged. This is a simplification of
// SVN's finer-grained "unchanged since reported base" comparison, noted in
// DESIGN.md.
func (r *loopbackReporter) FinishReport(ctx context.Context, cancel func() bool) error {
	return r.walk(ctx, cancel, "")
}

func (r *loopbackReporter) walk(ctx context.Context, cancel func() bool, path string) error {
	if cancel != nil && cancel() {
		return fserrors.ErrCanceled
	}

	node, err := r.root.OpenNode(path)
	if err != nil {
		return err
	}

	if node.Kind == noderev.KindDirectory {
		if path != "" {
			if err := r.editor.OpenDirectory(path); err != nil {
				return err
			}
		}
		entries, err := r.root.DirEntries(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			childPath := e.Name
			if path != "" {
				childPath = path + "/" + e.Name
			}
			if err := r.walk(ctx, cancel, childPath); err != nil {
				return err
			}
		}
		if path != "" {
			return r.editor.CloseDirectory(path)
		}
		return nil
	}

	if _, reported := r.reported[path]; !reported {
		if err := r.editor.AddFile(path); err != nil {
			return err
		}
	}
	return r.editor.ApplyTextDelta(path, node.Content)
}

// HTTPSession implements Session against a remote arbor server's status
// endpoint over plain HTTP, for CLI invocations that pass --url.
type HTTPSession struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSession binds a session to baseURL, using http.DefaultClient if
// client is nil.
func NewHTTPSession(baseURL string, client *http.Client) *HTTPSession {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSession{BaseURL: baseURL, Client: client}
}

func (s *HTTPSession) CheckPath(path string, rev int64) (bool, error) {
	resp, err := s.Client.Get(fmt.Sprintf("%s/check?path=%s&rev=%d", s.BaseURL, path, rev))
	if err != nil {
		return false, fmt.Errorf("ra: check-path: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *HTTPSession) Youngest() (int64, error) {
	resp, err := s.Client.Get(s.BaseURL + "/youngest")
	if err != nil {
		return 0, fmt.Errorf("ra: youngest: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Youngest int64 `json:"youngest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ra: decoding youngest response: %w", err)
	}
	return out.Youngest, nil
}

// httpEntry is one entry of the server's flat status-report JSON payload.
type httpEntry struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content []byte `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type httpReporter struct {
	session   *HTTPSession
	targetRev int64
	editor    Editor
	reported  map[string]int64
}

func (s *HTTPSession) Status(targetRev int64, editor Editor) (Reporter, error) {
	return &httpReporter{session: s, targetRev: targetRev, editor: editor, reported: map[string]int64{}}, nil
}

func (r *httpReporter) SetPath(path string, rev int64) error {
	r.reported[path] = rev
	return nil
}
func (r *httpReporter) DeletePath(path string) error { return nil }
func (r *httpReporter) LinkPath(path, url string, rev int64) error {
	r.reported[path] = rev
	return nil
}

func (r *httpReporter) FinishReport(ctx context.Context, cancel func() bool) error {
	body, err := json.Marshal(struct {
		TargetRev int64            `json:"target_rev"`
		Reported  map[string]int64 `json:"reported"`
	}{TargetRev: r.targetRev, Reported: r.reported})
	if err != nil {
		return fmt.Errorf("ra: encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.session.BaseURL+"/status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ra: building request: %w", err)
	}
	resp, err := r.session.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ra: status request: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		if cancel != nil && cancel() {
			return fserrors.ErrCanceled
		}
		var e httpEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("ra: decoding status entry: %w", err)
		}
		switch {
		case e.Deleted:
			if err := r.editor.Delete(e.Path); err != nil {
				return err
			}
		case e.Kind == "dir":
			if err := r.editor.OpenDirectory(e.Path); err != nil {
				return err
			}
			if err := r.editor.CloseDirectory(e.Path); err != nil {
				return err
			}
		default:
			if err := r.editor.AddFile(e.Path); err != nil {
				return err
			}
			if err := r.editor.ApplyTextDelta(e.Path, e.Content); err != nil {
				return err
			}
		}
	}
}
