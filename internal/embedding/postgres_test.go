package embedding

import (
	"context"
	"os"
	"testing"

	"github.com/scrypster/filmqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postgresTestDSN returns the DSN for the test database.
// If FILMQA_POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("FILMQA_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("FILMQA_POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresIndex_Nearest(t *testing.T) {
	dsn := postgresTestDSN(t)
	ctx := context.Background()

	table, err := NewTable([]float32{1, 0, 0, 1, 1, 1}, 3, 2,
		NewMapping([]types.EntityID{"e:a", "e:b", "e:c"}))
	require.NoError(t, err)

	idx, err := NewPostgresIndex(ctx, dsn, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = idx.db.ExecContext(ctx, "DROP TABLE IF EXISTS entity_vectors")
		idx.Close()
	})

	got, err := idx.Nearest(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.EntityID("e:a"), got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, types.EntityID("e:c"), got[1].ID)
}
