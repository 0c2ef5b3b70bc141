// Package bufpool provides scoped allocation reuse: pools of byte buffers
// and directory-entry name slices. The DAG layer borrows name slices when
// listing a directory (dag.Graph.DirEntries); the byte-buffer pool has no
// caller in this module outside its own tests.
//
// This is the Go-idiomatic stand-in for the pool-parameter-threaded-through-
// every-call allocation style of the source system: callers borrow a
// buffer, use it, and return it via defer — the pool never appears in a
// public function signature.
package bufpool

import "sync"

var bytesPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

// GetBytes borrows a zero-length byte slice with spare capacity.
func GetBytes() *[]byte {
	return bytesPool.Get().(*[]byte)
}

// PutBytes returns a slice borrowed from GetBytes.
func PutBytes(b *[]byte) {
	*b = (*b)[:0]
	bytesPool.Put(b)
}

var entryNamesPool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 16)
		return &s
	},
}

// GetNames borrows a zero-length string slice, used when collecting
// directory-entry names for a listing.
func GetNames() *[]string {
	return entryNamesPool.Get().(*[]string)
}

// PutNames returns a slice borrowed from GetNames.
func PutNames(s *[]string) {
	*s = (*s)[:0]
	entryNamesPool.Put(s)
}
