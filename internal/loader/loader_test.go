package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/metrics"
	"github.com/scrypster/filmqa/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphTTL = `@prefix wd: <http://www.wikidata.org/entity/> .
@prefix wdt: <http://www.wikidata.org/prop/direct/> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .

wd:Q25188 rdfs:label "Inception"@en ;
    wdt:P57 wd:Q25191 .
wd:Q25191 rdfs:label "Christopher Nolan"@en .
wd:Q13417189 rdfs:label "Interstellar"@en .
`

var quiet = log.New(io.Discard, "", 0)

// writeNPY writes a version 1.0 little-endian float32 .npy matrix.
func writeNPY(t *testing.T, path string, rows, dim int, data []float32) {
	t.Helper()
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", rows, dim)
	if pad := (10 + len(header) + 1) % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, data))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Data.GraphFile = filepath.Join(dir, "graph.ttl")
	cfg.Data.DatabasePath = filepath.Join(dir, "graph.db")
	cfg.Data.EntityEmbeddings = filepath.Join(dir, "entity_embeds.npy")
	cfg.Data.EntityIDs = filepath.Join(dir, "entity_ids.del")
	cfg.Data.RelationEmbeddings = filepath.Join(dir, "relation_embeds.npy")
	cfg.Data.RelationIDs = filepath.Join(dir, "relation_ids.del")

	require.NoError(t, os.WriteFile(cfg.Data.GraphFile, []byte(graphTTL), 0o600))
	writeNPY(t, cfg.Data.EntityEmbeddings, 3, 2, []float32{1, 0, 0.6, 0.8, 0.9, 0.1})
	require.NoError(t, os.WriteFile(cfg.Data.EntityIDs, []byte(
		"0\thttp://www.wikidata.org/entity/Q25188\n"+
			"1\thttp://www.wikidata.org/entity/Q25191\n"+
			"2\thttp://www.wikidata.org/entity/Q13417189\n"), 0o600))
	writeNPY(t, cfg.Data.RelationEmbeddings, 1, 2, []float32{-0.4, 0.8})
	require.NoError(t, os.WriteFile(cfg.Data.RelationIDs, []byte(
		"0\thttp://www.wikidata.org/prop/direct/P57\n"), 0o600))
	return cfg
}

func TestLoader_Run(t *testing.T) {
	cfg := testConfig(t)
	readiness := session.NewReadiness()
	l := New(cfg, nil, readiness, metrics.New(), quiet)
	t.Cleanup(func() { l.Close() })

	assert.Nil(t, l.Pipeline())
	assert.Nil(t, l.Resources())
	_, err := l.ReadyPipeline()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, session.State{GraphLoaded: true, EmbeddingsReady: true}, readiness.Snapshot())

	res := l.Resources()
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Labels.Len())
	assert.Equal(t, 3, res.Entities.Len())
	assert.Equal(t, 1, res.Relations.Len())

	p, err := l.ReadyPipeline()
	require.NoError(t, err)
	answer, _ := p.Handle(context.Background(), `Who is the director of "Inception"?`)
	assert.Equal(t, "Factual Answer: The director of 'Inception' is Christopher Nolan.\n\n"+
		"Similar to 'Inception':\n1. Interstellar (Similarity: 0.99)\n2. Christopher Nolan (Similarity: 0.60)", answer)
}

func TestLoader_EmbeddingFailureKeepsGraph(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Remove(cfg.Data.EntityEmbeddings))

	readiness := session.NewReadiness()
	l := New(cfg, nil, readiness, nil, quiet)
	t.Cleanup(func() { l.Close() })

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity embeddings")
	assert.Equal(t, session.State{GraphLoaded: true}, readiness.Snapshot())

	require.NotNil(t, l.Pipeline(), "graph queries work without embeddings")
	out, _ := l.Pipeline().Handle(context.Background(),
		"SELECT l.object FROM triples l WHERE l.predicate = 'http://www.w3.org/2000/01/rdf-schema#label' ORDER BY l.object")
	assert.Equal(t, "Christopher Nolan\nInception\nInterstellar", out)

	_, err = l.ReadyPipeline()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestLoader_GraphFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.GraphFile = filepath.Join(cfg.Data.Dir, "missing.ttl")

	readiness := session.NewReadiness()
	l := New(cfg, nil, readiness, nil, quiet)
	t.Cleanup(func() { l.Close() })

	require.Error(t, l.Run(context.Background()))
	assert.Equal(t, session.State{}, readiness.Snapshot())
	assert.Nil(t, l.Pipeline())
}

func TestLoader_EmbeddingsNeedGraph(t *testing.T) {
	l := New(testConfig(t), nil, session.NewReadiness(), nil, quiet)
	assert.ErrorIs(t, l.LoadEmbeddings(context.Background()), ErrNotReady)
}

func TestLoader_WithoutLinkPrediction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.LinkPrediction = false
	require.NoError(t, os.Remove(cfg.Data.RelationEmbeddings))

	l := New(cfg, nil, session.NewReadiness(), nil, quiet)
	t.Cleanup(func() { l.Close() })

	require.NoError(t, l.Run(context.Background()))
	assert.Nil(t, l.Resources().Relations)
}

func TestLoader_StartFailFast(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.FailFast = true
	cfg.Data.GraphFile = filepath.Join(cfg.Data.Dir, "missing.ttl")

	l := New(cfg, nil, session.NewReadiness(), nil, quiet)
	t.Cleanup(func() { l.Close() })

	fatal := make(chan error, 1)
	l.Start(context.Background(), func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		assert.Contains(t, err.Error(), "load graph")
	case <-time.After(5 * time.Second):
		t.Fatal("fail_fast loader did not report its error")
	}
}

func TestLoader_StartSignalsReadiness(t *testing.T) {
	readiness := session.NewReadiness()
	l := New(testConfig(t), nil, readiness, nil, quiet)
	t.Cleanup(func() { l.Close() })

	l.Start(context.Background(), func(err error) { t.Errorf("unexpected fatal error: %v", err) })

	deadline := time.After(5 * time.Second)
	for {
		changed := readiness.Changed()
		if readiness.Snapshot().Ready() {
			break
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatal("loader did not become ready")
		}
	}
}

func TestVocabulary(t *testing.T) {
	v := Vocabulary(config.Default().Graph)
	assert.Equal(t, "http://www.w3.org/2000/01/rdf-schema#label", v.Label)
	assert.Equal(t, "http://www.wikidata.org/prop/direct/P57", v.Director)
	assert.Equal(t, "http://schema.org/description", v.Description)
}
