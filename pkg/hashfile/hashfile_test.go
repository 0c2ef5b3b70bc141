package hashfile

import (
	"bytes"
	"testing"

	"github.com/arborvc/arbor/pkg/fserrors"
	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	in := Map{
		"svn:log":    []byte("first commit"),
		"svn:author": []byte("alice"),
		"empty":      []byte(""),
	}

	var buf bytes.Buffer
	assert.NoError(t, Encode(&buf, in))

	out, err := Decode(&buf)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNilValueOmitted(t *testing.T) {
	in := Map{
		"keep":   []byte("v"),
		"remove": nil,
	}

	var buf bytes.Buffer
	assert.NoError(t, Encode(&buf, in))

	out, err := Decode(&buf)
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, []byte("v"), out["keep"])
	_, present := out["remove"]
	assert.False(t, present)
}

func TestDecodeTruncatedIsCorrupt(t *testing.T) {
	buf := bytes.NewBufferString("K 3\nabc\nV 2\nhi\n")
	_, err := Decode(buf)
	assert.ErrorIs(t, err, fserrors.ErrCorruptHashFile)
}

func TestDecodeEmptyMap(t *testing.T) {
	buf := bytes.NewBufferString("END\n")
	out, err := Decode(buf)
	assert.NoError(t, err)
	assert.Empty(t, out)
}
