package noderev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDStringRoundTrip(t *testing.T) {
	id := ID{NodeID: "17", CopyID: "0", Origin: "r4/128"}
	parsed, err := ParseID(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestSameHistoryLine(t *testing.T) {
	a := ID{NodeID: "17", CopyID: "0", Origin: "r4/128"}
	b := ID{NodeID: "17", CopyID: "1", Origin: "t1"}
	c := ID{NodeID: "18", CopyID: "0", Origin: "r4/200"}

	assert.True(t, a.SameHistoryLine(b))
	assert.False(t, a.SameHistoryLine(c))
}

func TestCloneSetsPredecessor(t *testing.T) {
	orig := &NodeRevision{
		ID:         ID{NodeID: "1", CopyID: "0", Origin: "r1/0"},
		Kind:       KindFile,
		Content:    []byte("hello"),
		Properties: map[string][]byte{"svn:mime-type": []byte("text/plain")},
	}
	clone := orig.Clone(ID{NodeID: "1", CopyID: "0", Origin: "t1"})

	assert.Equal(t, orig.ID, clone.Predecessor)
	assert.True(t, clone.HasPredecessor())
	assert.Equal(t, orig.Content, clone.Content)
	assert.Equal(t, orig.Properties, clone.Properties)

	// Mutating the clone must not affect the original (deep copy).
	clone.Content[0] = 'H'
	assert.Equal(t, byte('h'), orig.Content[0])
}

func TestCloneDirectory(t *testing.T) {
	orig := &NodeRevision{
		ID:   ID{NodeID: "2", CopyID: "0", Origin: "r1/0"},
		Kind: KindDirectory,
		Entries: map[string]DirEntry{
			"a.txt": {Name: "a.txt", ID: ID{NodeID: "3", CopyID: "0", Origin: "r1/1"}, Kind: KindFile},
		},
	}
	clone := orig.Clone(ID{NodeID: "2", CopyID: "0", Origin: "t1"})
	clone.Entries["b.txt"] = DirEntry{Name: "b.txt", Kind: KindFile}

	assert.Len(t, orig.Entries, 1)
	assert.Len(t, clone.Entries, 2)
}
