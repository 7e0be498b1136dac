package embedding

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/filmqa/pkg/types"
)

const syncBatchSize = 1000

// PostgresIndex answers nearest-neighbour queries with pgvector's cosine
// distance operator. Rows are copied from a Table into
// entity_vectors(row_index, entity_id, embedding vector(dim)).
type PostgresIndex struct {
	db    *sql.DB
	table string
}

// NewPostgresIndex connects to dsn, enables pgvector and syncs t. The sync is
// skipped when the stored row count and dimension already match.
func NewPostgresIndex(ctx context.Context, dsn string, t *Table) (*PostgresIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("embedding: failed to ping postgres: %w", err)
	}

	p := &PostgresIndex{db: db, table: "entity_vectors"}
	if err := p.migrate(ctx, t.Dim()); err != nil {
		db.Close()
		return nil, err
	}
	if err := p.sync(ctx, t); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresIndex) migrate(ctx context.Context, dim int) error {
	if _, err := p.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("embedding: pgvector extension not available: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			row_index INTEGER PRIMARY KEY,
			entity_id TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, p.table, dim)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("embedding: failed to create %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresIndex) sync(ctx context.Context, t *Table) error {
	var count int
	var dim sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), MAX(vector_dims(embedding)) FROM %s", p.table)).Scan(&count, &dim)
	if err != nil {
		return fmt.Errorf("embedding: failed to inspect %s: %w", p.table, err)
	}

	want := len(t.IDs())
	if count == want && (want == 0 || int(dim.Int64) == t.Dim()) {
		log.Printf("embedding: %s already holds %d vectors, skipping sync", p.table, count)
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("embedding: begin sync: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s", p.table)); err != nil {
		return fmt.Errorf("embedding: truncate %s: %w", p.table, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (row_index, entity_id, embedding) VALUES ($1, $2, $3)", p.table))
	if err != nil {
		return fmt.Errorf("embedding: prepare sync: %w", err)
	}
	defer stmt.Close()

	n := 0
	for i := 0; i < t.Len(); i++ {
		id, ok := t.ID(i)
		if !ok {
			continue
		}
		if _, err := stmt.ExecContext(ctx, i, string(id), pgvector.NewVector(t.Row(i))); err != nil {
			return fmt.Errorf("embedding: insert row %d: %w", i, err)
		}
		n++
		if n%syncBatchSize == 0 {
			log.Printf("embedding: synced %d/%d vectors", n, want)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("embedding: commit sync: %w", err)
	}
	log.Printf("embedding: synced %d vectors into %s", n, p.table)
	return nil
}

// Nearest implements Index.
func (p *PostgresIndex) Nearest(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(query)
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT row_index, entity_id, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector, row_index
		LIMIT $2`, p.table), vec, k)
	if err != nil {
		return nil, fmt.Errorf("embedding: nearest query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var id string
		if err := rows.Scan(&n.Row, &id, &n.Score); err != nil {
			return nil, fmt.Errorf("embedding: scan neighbour: %w", err)
		}
		n.ID = types.EntityID(id)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedding: nearest rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (p *PostgresIndex) Close() error {
	return p.db.Close()
}
