package graph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const filmsTTL = `@prefix wd: <http://www.wikidata.org/entity/> .
@prefix wdt: <http://www.wikidata.org/prop/direct/> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix schema: <http://schema.org/> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .

wd:Q25188 rdfs:label "Inception"@en ;
    wdt:P57 wd:Q25191 ;
    wdt:P58 wd:Q25191 ;
    wdt:P577 "2010-07-08"^^xsd:date ;
    schema:description "2010 film directed by Christopher Nolan"@en .
wd:Q25191 rdfs:label "Christopher Nolan"@en .
wd:Q13417189 rdfs:label "Interstellar"@en ;
    wdt:P57 wd:Q25191 .
wd:Q83495 rdfs:label "The Matrix"@en ;
    schema:description "1999 film by the Wachowskis"@en .
wd:Q99 rdfs:label "Der Film"@de .
`

const filmsTriples = 11

// newTestStore returns an in-memory store loaded with filmsTTL.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	n, err := s.LoadTurtleReader(context.Background(), strings.NewReader(filmsTTL))
	require.NoError(t, err)
	require.Equal(t, filmsTriples, n)
	return s
}

func writeTurtle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.ttl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
