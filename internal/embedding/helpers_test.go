package embedding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeNPY writes a version 1.0 .npy file holding data with the given dtype
// ("<f4" or "<f8") and shape.
func writeNPY(t *testing.T, dir, name, dtype string, shape []int, data []float64) string {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeText := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeText += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", dtype, shapeText)
	// magic(6) + version(2) + header length(2) + header, padded to 64 bytes.
	total := 10 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)

	for _, v := range data {
		switch dtype {
		case "<f4":
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, float32(v)))
		case "<f8":
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
		default:
			t.Fatalf("unsupported dtype %s", dtype)
		}
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func writeIDs(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}
