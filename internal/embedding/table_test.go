package embedding

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/scrypster/filmqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMapping(t *testing.T) {
	dir := t.TempDir()
	path := writeIDs(t, dir, "ids.del",
		"0\thttp://www.wikidata.org/entity/Q1",
		"1\thttp://www.wikidata.org/entity/Q2",
		"not-a-number\thttp://www.wikidata.org/entity/Q3",
		"2",
		"3\thttp://www.wikidata.org/entity/Q1", // identifier already mapped
		"1\thttp://www.wikidata.org/entity/Q4", // row already mapped
		"",
		"4\thttp://www.wikidata.org/entity/Q5",
	)

	m, err := LoadMapping(path)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 4, m.Skipped)
	assert.Equal(t, 4, m.MaxRow())

	row, ok := m.Row("http://www.wikidata.org/entity/Q1")
	require.True(t, ok)
	assert.Equal(t, 0, row, "the first row wins")

	id, ok := m.ID(1)
	require.True(t, ok)
	assert.Equal(t, types.EntityID("http://www.wikidata.org/entity/Q2"), id)

	_, ok = m.ID(3)
	assert.False(t, ok)
	_, ok = m.ID(-1)
	assert.False(t, ok)
}

func TestLoadMapping_Missing(t *testing.T) {
	_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.del"))
	assert.Error(t, err)
}

func TestLoadTable(t *testing.T) {
	for _, dtype := range []string{"<f4", "<f8"} {
		t.Run(dtype, func(t *testing.T) {
			dir := t.TempDir()
			npy := writeNPY(t, dir, "e.npy", dtype, []int{3, 2}, []float64{1, 0, 0, 1, 0.5, 0.5})
			ids := writeIDs(t, dir, "e.del", "0\te:a", "2\te:c")

			table, err := LoadTable(npy, ids)
			require.NoError(t, err)

			assert.Equal(t, 3, table.Len())
			assert.Equal(t, 2, table.Dim())
			assert.Equal(t, []float32{0, 1}, table.Row(1))
			assert.Nil(t, table.Row(3))

			v, ok := table.Vector("e:c")
			require.True(t, ok)
			assert.Equal(t, []float32{0.5, 0.5}, v)

			_, ok = table.Vector("e:b")
			assert.False(t, ok)

			assert.Equal(t, []types.EntityID{"e:a", "e:c"}, table.IDs())
		})
	}
}

func TestLoadTable_Invalid(t *testing.T) {
	dir := t.TempDir()
	ids := writeIDs(t, dir, "e.del", "0\te:a", "5\te:f")

	npy := writeNPY(t, dir, "e.npy", "<f4", []int{3, 2}, []float64{1, 0, 0, 1, 0.5, 0.5})
	_, err := LoadTable(npy, ids)
	assert.True(t, errors.Is(err, ErrInvalidTable), "mapping beyond the table: %v", err)

	okIDs := writeIDs(t, dir, "ok.del", "0\te:a")
	flat := writeNPY(t, dir, "flat.npy", "<f4", []int{4}, []float64{1, 2, 3, 4})
	_, err = LoadTable(flat, okIDs)
	assert.True(t, errors.Is(err, ErrInvalidTable), "1-D array: %v", err)

	garbage := filepath.Join(dir, "garbage.npy")
	require.NoError(t, os.WriteFile(garbage, []byte("not numpy"), 0o600))
	_, err = LoadTable(garbage, okIDs)
	assert.Error(t, err)

	_, err = LoadTable(filepath.Join(dir, "missing.npy"), okIDs)
	assert.Error(t, err)
}

func TestVectorHelpers(t *testing.T) {
	assert.InDelta(t, 1.0, Dot(Normalize([]float32{1, 2}), Normalize([]float32{2, 4})), 1e-6)
	assert.InDelta(t, -1.0, Dot(Normalize([]float32{1, 0}), Normalize([]float32{-3, 0})), 1e-6)

	n := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))

	assert.InDelta(t, 11.0, Dot([]float32{1, 2}, []float32{3, 4}), 1e-9)

	sum, err := Add([]float32{1, 2}, []float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 6}, sum)
	_, err = Add([]float32{1}, []float32{1, 2})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	assert.True(t, Equal([]float32{1, 2}, []float32{1, 2}))
	assert.False(t, Equal([]float32{1, 2}, []float32{1, 3}))
	assert.False(t, Equal([]float32{1}, []float32{1, 0}))
}

func TestMemoryIndex_Nearest(t *testing.T) {
	data := []float32{
		1, 0, // a
		0, 1, // b
		1, 1, // c
		2, 0, // d: same direction as a
		0, 0, // unmapped row
	}
	table, err := NewTable(data, 5, 2, NewMapping([]types.EntityID{"e:a", "e:b", "e:c", "e:d"}))
	require.NoError(t, err)

	idx := NewMemoryIndex(table)
	assert.Equal(t, 4, idx.Len())

	got, err := idx.Nearest(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, types.EntityID("e:a"), got[0].ID, "ties keep table order")
	assert.Equal(t, types.EntityID("e:d"), got[1].ID)
	assert.Equal(t, types.EntityID("e:c"), got[2].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, got[2].Score, 1e-6)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}

	all, err := idx.Nearest(context.Background(), []float32{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = idx.Nearest(context.Background(), []float32{1, 0, 0}, 3)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	none, err := idx.Nearest(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNewTable_ShapeMismatch(t *testing.T) {
	_, err := NewTable([]float32{1, 2, 3}, 2, 2, NewMapping(nil))
	assert.True(t, errors.Is(err, ErrInvalidTable))
}
