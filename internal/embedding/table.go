// Package embedding loads pre-trained entity and relation embeddings and
// answers nearest-neighbour queries over them.
package embedding

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"

	"github.com/scrypster/filmqa/pkg/types"
)

var (
	// ErrDimensionMismatch is returned when vectors of different length meet.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

	// ErrInvalidTable is returned for embedding files that cannot be used.
	ErrInvalidTable = errors.New("embedding: invalid table")
)

// Table is a dense row-major matrix of float32 vectors plus the mapping that
// names its rows. It is immutable once loaded.
type Table struct {
	data    []float32
	rows    int
	dim     int
	mapping *Mapping
}

// LoadTable reads a 2-D little-endian float32 or float64 .npy array and its
// identifier mapping. Every mapped row must exist in the array.
func LoadTable(npyPath, idsPath string) (*Table, error) {
	mapping, err := LoadMapping(idsPath)
	if err != nil {
		return nil, err
	}

	data, rows, dim, err := readMatrix(npyPath)
	if err != nil {
		return nil, err
	}
	return NewTable(data, rows, dim, mapping)
}

// NewTable wraps an in-memory matrix.
func NewTable(data []float32, rows, dim int, mapping *Mapping) (*Table, error) {
	if rows < 0 || dim <= 0 || len(data) != rows*dim {
		return nil, fmt.Errorf("%w: %d values do not form %d rows of %d", ErrInvalidTable, len(data), rows, dim)
	}
	if mapping.MaxRow() >= rows {
		return nil, fmt.Errorf("%w: mapping references row %d but the table has %d rows",
			ErrInvalidTable, mapping.MaxRow(), rows)
	}
	return &Table{data: data, rows: rows, dim: dim, mapping: mapping}, nil
}

func readMatrix(path string) ([]float32, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("embedding: failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: %v", ErrInvalidTable, path, err)
	}

	descr := r.Header.Descr
	if descr.Fortran {
		return nil, 0, 0, fmt.Errorf("%w: %s: fortran order is not supported", ErrInvalidTable, path)
	}
	if len(descr.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("%w: %s: expected a 2-D array, got shape %v", ErrInvalidTable, path, descr.Shape)
	}
	rows, dim := descr.Shape[0], descr.Shape[1]

	switch descr.Type {
	case "<f4":
		data := make([]float32, rows*dim)
		if err := r.Read(&data); err != nil {
			return nil, 0, 0, fmt.Errorf("%w: %s: %v", ErrInvalidTable, path, err)
		}
		return data, rows, dim, nil
	case "<f8":
		wide := make([]float64, rows*dim)
		if err := r.Read(&wide); err != nil {
			return nil, 0, 0, fmt.Errorf("%w: %s: %v", ErrInvalidTable, path, err)
		}
		data := make([]float32, len(wide))
		for i, v := range wide {
			data[i] = float32(v)
		}
		return data, rows, dim, nil
	default:
		return nil, 0, 0, fmt.Errorf("%w: %s: unsupported dtype %q", ErrInvalidTable, path, descr.Type)
	}
}

// Row returns row i. The slice aliases the table and must not be modified.
func (t *Table) Row(i int) []float32 {
	if i < 0 || i >= t.rows {
		return nil
	}
	return t.data[i*t.dim : (i+1)*t.dim : (i+1)*t.dim]
}

// Vector returns the vector of id.
func (t *Table) Vector(id types.EntityID) ([]float32, bool) {
	row, ok := t.mapping.Row(id)
	if !ok {
		return nil, false
	}
	return t.Row(row), true
}

// ID returns the identifier of row i.
func (t *Table) ID(i int) (types.EntityID, bool) {
	return t.mapping.ID(i)
}

// IDs returns the mapped identifiers in row order.
func (t *Table) IDs() []types.EntityID {
	out := make([]types.EntityID, 0, t.mapping.Len())
	for i := 0; i < t.rows; i++ {
		if id, ok := t.mapping.ID(i); ok {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Dim returns the vector dimension.
func (t *Table) Dim() int { return t.dim }
