package noderev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func storeImpls(t *testing.T) map[string]Store {
	badger, err := NewBadgerStoreInMemory()
	assert.NoError(t, err)
	t.Cleanup(func() { badger.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badger,
	}
}

func TestStorePutGet(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			rev := &NodeRevision{
				ID:      ID{NodeID: "1", CopyID: "0", Origin: "r1/0"},
				Kind:    KindFile,
				Content: []byte("hello"),
			}
			assert.NoError(t, s.Put(rev))

			got, err := s.Get(rev.ID)
			assert.NoError(t, err)
			assert.Equal(t, rev.Content, got.Content)
			assert.Equal(t, rev.Kind, got.Kind)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ID{NodeID: "nope", CopyID: "0", Origin: "r1/0"})
			assert.Error(t, err)
		})
	}
}

func TestStorePutRejectsDuplicateID(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			rev := &NodeRevision{ID: ID{NodeID: "1", CopyID: "0", Origin: "r1/0"}, Kind: KindFile}
			assert.NoError(t, s.Put(rev))
			assert.Error(t, s.Put(rev))
		})
	}
}

func TestStorePutAllowsTransactionalOverwrite(t *testing.T) {
	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			id := ID{NodeID: "1", CopyID: "0", Origin: "t1"}
			assert.NoError(t, s.Put(&NodeRevision{ID: id, Kind: KindFile, Content: []byte("v1")}))
			assert.NoError(t, s.Put(&NodeRevision{ID: id, Kind: KindFile, Content: []byte("v2")}))

			got, err := s.Get(id)
			assert.NoError(t, err)
			assert.Equal(t, []byte("v2"), got.Content)
		})
	}
}
