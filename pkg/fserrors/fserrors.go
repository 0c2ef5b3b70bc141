// Package fserrors defines the stable error identifiers shared across the
// filesystem backend's layers (revision store, transaction store, DAG, tree,
// and the working-copy driver).
//
// Callers match these with errors.Is; internal code wraps them with
// fmt.Errorf("...: %w", ...) to preserve the chain while adding context.
package fserrors

import "errors"

var (
	// Lookup failures.
	ErrNoSuchRevision    = errors.New("fserrors: no such revision")
	ErrNoSuchTransaction = errors.New("fserrors: no such transaction")

	// Lifecycle violations.
	ErrTransactionNotMutable = errors.New("fserrors: transaction not mutable")
	ErrTransactionNotDead    = errors.New("fserrors: transaction not dead")
	ErrTxnOutOfDate          = errors.New("fserrors: transaction out of date")

	// Tree violations.
	ErrPathNotFound  = errors.New("fserrors: path not found")
	ErrAlreadyExists = errors.New("fserrors: already exists")
	ErrNotDirectory  = errors.New("fserrors: not a directory")
	ErrNotFile       = errors.New("fserrors: not a file")
	ErrNotMutable    = errors.New("fserrors: root is not mutable")

	// Working-copy metadata defects.
	ErrEntryNotFound   = errors.New("fserrors: entry not found")
	ErrEntryMissingURL = errors.New("fserrors: entry missing URL")

	// Persistence corruption.
	ErrCorruptRevision = errors.New("fserrors: corrupt revision")
	ErrCorruptHashFile = errors.New("fserrors: corrupt hash file")

	// Cancellation.
	ErrCanceled = errors.New("fserrors: operation canceled")

	// Cleanup.
	ErrTransactionCleanupFailed = errors.New("fserrors: transaction cleanup failed")

	// No-op commits (policy decision, see DESIGN.md).
	ErrNoChanges = errors.New("fserrors: no changes to commit")
)

// IOError wraps a platform error encountered during filesystem access.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return "fserrors: io error during " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// Wrap produces an *IOError for a failed operation on path.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
