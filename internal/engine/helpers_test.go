package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/scrypster/filmqa/internal/config"
	"github.com/scrypster/filmqa/internal/embedding"
	"github.com/scrypster/filmqa/internal/graph"
	"github.com/scrypster/filmqa/internal/nlp"
	"github.com/scrypster/filmqa/pkg/types"
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
    wdt:P57 wd:Q25191 ;
    wdt:P57 wd:Q25191 .
wd:Q83495 rdfs:label "The Matrix"@en ;
    schema:description "1999 film by the Wachowskis"@en .
wd:Q9545711 rdfs:label "Lana Wachowski"@en .
wd:Q99 rdfs:label "Der Film"@de .
`

const (
	inception    = types.EntityID("http://www.wikidata.org/entity/Q25188")
	nolan        = types.EntityID("http://www.wikidata.org/entity/Q25191")
	interstellar = types.EntityID("http://www.wikidata.org/entity/Q13417189")
	matrix       = types.EntityID("http://www.wikidata.org/entity/Q83495")
	lana         = types.EntityID("http://www.wikidata.org/entity/Q9545711")
	inceptionDup = types.EntityID("http://www.wikidata.org/entity/Q999")

	directedBy = types.EntityID("http://www.wikidata.org/prop/direct/P57")
)

// Entity rows. inceptionDup repeats Inception's vector and has no label.
var entityRows = []struct {
	id  types.EntityID
	vec []float32
}{
	{inception, []float32{1, 0, 0}},
	{interstellar, []float32{0.9, 0.1, 0}},
	{matrix, []float32{0, 1, 0}},
	{nolan, []float32{0.6, 0, 0.8}},
	{lana, []float32{0, 1, 1}},
	{inceptionDup, []float32{1, 0, 0}},
}

// fakeAnalyzer returns canned spans and tokens.
type fakeAnalyzer struct {
	spans  []nlp.EntitySpan
	tokens []nlp.Token
	calls  int
}

func (f *fakeAnalyzer) ExtractEntities(ctx context.Context, text string) ([]nlp.EntitySpan, error) {
	f.calls++
	return f.spans, nil
}

func (f *fakeAnalyzer) Tag(ctx context.Context, text string) ([]nlp.Token, error) {
	return f.tokens, nil
}

type fixture struct {
	store     *graph.Store
	labels    *graph.LabelIndex
	entities  *embedding.Table
	relations *embedding.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := graph.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.LoadTurtleReader(ctx, strings.NewReader(filmsTTL))
	require.NoError(t, err)

	vocab := graph.DefaultVocabulary()
	labels, err := graph.BuildLabelIndex(ctx, store, vocab.Label, vocab.LabelLanguage)
	require.NoError(t, err)

	ids := make([]types.EntityID, len(entityRows))
	var data []float32
	for i, r := range entityRows {
		ids[i] = r.id
		data = append(data, r.vec...)
	}
	entities, err := embedding.NewTable(data, len(ids), 3, embedding.NewMapping(ids))
	require.NoError(t, err)

	relations, err := embedding.NewTable([]float32{0, 0, 1}, 1, 3,
		embedding.NewMapping([]types.EntityID{directedBy}))
	require.NoError(t, err)

	return &fixture{store: store, labels: labels, entities: entities, relations: relations}
}

func (f *fixture) pipeline(analyzer nlp.Analyzer, linkPrediction bool) *Pipeline {
	cfg := config.Default()
	return NewPipeline(Components{
		Store:          f.store,
		Labels:         f.labels,
		Vocabulary:     graph.DefaultVocabulary(),
		Analyzer:       analyzer,
		Entities:       f.entities,
		Relations:      f.relations,
		Index:          embedding.NewMemoryIndex(f.entities),
		Resolver:       cfg.Resolver,
		Intent:         cfg.Intent,
		TopK:           3,
		LinkPrediction: linkPrediction,
	})
}
