// Package graph stores the film knowledge graph as RDF triples in SQLite and
// answers structured queries over it.
//
// The graph is bulk-loaded once from a Turtle file. Each triple keeps its
// object kind (iri, blank, literal) together with the literal language tag and
// datatype so that queries can filter on language the way graph-pattern
// dialects do.
package graph

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/knakk/rdf"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrInvalidQuery is returned for queries the store refuses to run, such as
// write statements or references to an undefined prefix.
var ErrInvalidQuery = errors.New("graph: invalid query")

// Object kinds stored in the kind column.
const (
	KindIRI     = "iri"
	KindBlank   = "blank"
	KindLiteral = "literal"
)

// Schema creates the triple table and the metadata table.
const Schema = `
CREATE TABLE IF NOT EXISTS triples (
	subject   TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object    TEXT NOT NULL,
	kind      TEXT NOT NULL,
	lang      TEXT NOT NULL DEFAULT '',
	datatype  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_triples_pred_obj ON triples(predicate, object);
CREATE INDEX IF NOT EXISTS idx_triples_subj_pred ON triples(subject, predicate);
CREATE TABLE IF NOT EXISTS graph_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	metaSourceSHA = "source_sha256"
	metaTriples   = "triple_count"

	insertBatchSize = 5000
)

// Store is a SQLite-backed triple store.
type Store struct {
	db       *sql.DB
	prefixes map[string]string
}

// Open opens (or creates) the triple store at dsn. Use ":memory:" for an
// ephemeral store. If the first open fails because a crashed process left
// WAL files behind, the stale files are removed and the open is retried once.
func Open(dsn string) (*Store, error) {
	store, err := openStore(dsn)
	if err == nil {
		return store, nil
	}

	path := dbPathFromDSN(dsn)
	if path == "" || !isRecoverableWALError(err) {
		return nil, err
	}

	removeStaleWAL(path)
	store, retryErr := openStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("graph: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("graph: recovered from stale WAL files for %s", path)
	return store, nil
}

func openStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to open database: %w", err)
	}

	// One connection serialises the loader's writes with the agent's reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: failed to create schema: %w", err)
	}

	prefixes := make(map[string]string, len(DefaultPrefixes))
	for k, v := range DefaultPrefixes {
		prefixes[k] = v
	}
	return &Store{db: db, prefixes: prefixes}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that share the database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LoadTurtle parses the Turtle file at path into the store. When the store
// already holds the triples of a file with the same SHA-256 the parse is
// skipped. It returns the number of triples in the store.
func (s *Store) LoadTurtle(ctx context.Context, path string) (int, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return 0, fmt.Errorf("graph: failed to fingerprint %s: %w", path, err)
	}

	if cached, ok := s.meta(ctx, metaSourceSHA); ok && cached == sum {
		n, err := s.Count(ctx)
		if err == nil && n > 0 {
			log.Printf("graph: %s unchanged, reusing %d cached triples", path, n)
			return n, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("graph: failed to open %s: %w", path, err)
	}
	defer f.Close()

	n, err := s.load(ctx, rdf.NewTripleDecoder(f, rdf.Turtle))
	if err != nil {
		return 0, fmt.Errorf("graph: failed to load %s: %w", path, err)
	}

	if err := s.setMeta(ctx, metaSourceSHA, sum); err != nil {
		return n, err
	}
	if err := s.setMeta(ctx, metaTriples, fmt.Sprint(n)); err != nil {
		return n, err
	}
	return n, nil
}

// LoadTurtleReader parses Turtle from r without fingerprinting.
func (s *Store) LoadTurtleReader(ctx context.Context, r io.Reader) (int, error) {
	return s.load(ctx, rdf.NewTripleDecoder(r, rdf.Turtle))
}

func (s *Store) load(ctx context.Context, dec rdf.TripleDecoder) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM triples"); err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_meta WHERE key = ?", metaSourceSHA); err != nil {
		return 0, fmt.Errorf("clear fingerprint: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO triples (subject, predicate, object, kind, lang, datatype) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	n := 0
	for {
		tr, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("decode after %d triples: %w", n, err)
		}

		object, kind, lang, datatype := objectColumns(tr.Obj)
		if _, err := stmt.ExecContext(ctx, tr.Subj.String(), tr.Pred.String(), object, kind, lang, datatype); err != nil {
			return n, fmt.Errorf("insert: %w", err)
		}
		n++

		if n%insertBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func objectColumns(obj rdf.Object) (value, kind, lang, datatype string) {
	switch obj.Type() {
	case rdf.TermIRI:
		return obj.String(), KindIRI, "", ""
	case rdf.TermBlank:
		return obj.String(), KindBlank, "", ""
	default:
		lit, ok := obj.(rdf.Literal)
		if !ok {
			return obj.String(), KindLiteral, "", ""
		}
		return lit.String(), KindLiteral, lit.Lang(), lit.DataType.String()
	}
}

// Count returns the number of stored triples.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM triples").Scan(&n); err != nil {
		return 0, fmt.Errorf("graph: count: %w", err)
	}
	return n, nil
}

func (s *Store) meta(ctx context.Context, key string) (string, bool) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM graph_meta WHERE key = ?", key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO graph_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("graph: set meta %s: %w", key, err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dbPathFromDSN extracts the file path from a SQLite DSN. It returns "" for
// in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError reports errors caused by WAL files left behind after
// a crash.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("graph: failed to remove stale %s: %v", path, err)
		}
	}
}
