// Package hashfile implements the property-file format used by the
// revision and transaction stores:
//
//	K <keylen>\n<key>\nV <vallen>\n<value>\n ... END\n
//
// A property with a nil value is simply omitted from the file — removing a
// property and never having set it look identical on disk.
package hashfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/arborvc/arbor/pkg/fserrors"
)

// Map is a snapshot of a property map: string keys to opaque byte values.
type Map map[string][]byte

// Encode writes m in hash-file format.
func Encode(w io.Writer, m Map) error {
	bw := bufio.NewWriter(w)
	for k, v := range m {
		if v == nil {
			continue
		}
		if _, err := fmt.Fprintf(bw, "K %d\n%s\n", len(k), k); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, "V %d\n", len(v)); err != nil {
			return err
		}
		if _, err := bw.Write(v); err != nil {
			return err
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("END\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a hash-file, returning the reconstructed property map.
// A truncated or malformed stream yields fserrors.ErrCorruptHashFile.
func Decode(r io.Reader) (Map, error) {
	br := bufio.NewReader(r)
	m := make(Map)

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "END" {
			return m, nil
		}

		var keyLen int
		if _, err := fmt.Sscanf(line, "K %d", &keyLen); err != nil {
			return nil, fserrors.ErrCorruptHashFile
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, fserrors.ErrCorruptHashFile
		}
		if err := expectByte(br, '\n'); err != nil {
			return nil, err
		}

		vline, err := readLine(br)
		if err != nil {
			return nil, err
		}
		var valLen int
		if _, err := fmt.Sscanf(vline, "V %d", &valLen); err != nil {
			return nil, fserrors.ErrCorruptHashFile
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(br, val); err != nil {
			return nil, fserrors.ErrCorruptHashFile
		}
		if err := expectByte(br, '\n'); err != nil {
			return nil, err
		}

		m[string(key)] = val
	}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", fserrors.ErrCorruptHashFile
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func expectByte(br *bufio.Reader, want byte) error {
	b, err := br.ReadByte()
	if err != nil || b != want {
		return fserrors.ErrCorruptHashFile
	}
	return nil
}
