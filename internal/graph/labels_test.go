package graph

import (
	"context"
	"testing"

	"github.com/scrypster/filmqa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLabelIndex(t *testing.T) {
	s := newTestStore(t)
	vocab := DefaultVocabulary()

	idx, err := BuildLabelIndex(context.Background(), s, vocab.Label, vocab.LabelLanguage)
	require.NoError(t, err)

	assert.Equal(t, 4, idx.Len(), "the German-only label is skipped")
	assert.Equal(t, []string{"Inception", "Christopher Nolan", "Interstellar", "The Matrix"}, idx.Labels())

	label, ok := idx.Label("http://www.wikidata.org/entity/Q25188")
	require.True(t, ok)
	assert.Equal(t, "Inception", label)

	_, ok = idx.Lookup("Der Film")
	assert.False(t, ok)

	id, ok := idx.LookupFold("the matrix")
	require.True(t, ok)
	assert.Equal(t, types.EntityID("http://www.wikidata.org/entity/Q83495"), id)

	_, ok = idx.Lookup("the matrix")
	assert.False(t, ok, "Lookup is case-sensitive")
}

func TestBuildLabelIndex_AllLanguages(t *testing.T) {
	s := newTestStore(t)

	idx, err := BuildLabelIndex(context.Background(), s, DefaultVocabulary().Label, "")
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Len())

	id, ok := idx.Lookup("Der Film")
	require.True(t, ok)
	assert.Equal(t, types.EntityID("http://www.wikidata.org/entity/Q99"), id)
}

func TestLabelIndex_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	idx, err := BuildLabelIndex(context.Background(), s, DefaultVocabulary().Label, "en")
	require.NoError(t, err)

	for _, label := range idx.Labels() {
		id, ok := idx.Lookup(label)
		require.True(t, ok, label)
		got, ok := idx.Label(id)
		require.True(t, ok)
		assert.Equal(t, label, got)
	}
}

func TestLabelIndex_Duplicates(t *testing.T) {
	idx := NewLabelIndex([]types.Entity{
		{ID: "e:1", Label: "Solaris"},
		{ID: "e:2", Label: "solaris"},
		{ID: "e:3", Label: "Solaris"},
		{ID: "e:1", Label: "Solaris (1972)"},
	})

	id, _ := idx.Lookup("Solaris")
	assert.Equal(t, types.EntityID("e:3"), id, "exact lookup is last-write-wins")

	id, _ = idx.LookupFold("SOLARIS")
	assert.Equal(t, types.EntityID("e:1"), id, "folded lookup keeps the first identifier")

	id, _ = idx.IDFor("Solaris")
	assert.Equal(t, types.EntityID("e:1"), id, "IDFor keeps the first identifier")

	label, _ := idx.Label("e:1")
	assert.Equal(t, "Solaris (1972)", label, "the most recently parsed label wins")

	assert.Equal(t, []string{"Solaris", "solaris", "Solaris (1972)"}, idx.Labels())
	assert.Equal(t, 3, idx.Len())
}

func TestVocabulary_AttributePredicate(t *testing.T) {
	v := DefaultVocabulary()

	p, ok := v.AttributePredicate(types.IntentDirector)
	require.True(t, ok)
	assert.Equal(t, "http://www.wikidata.org/prop/direct/P57", p)

	p, ok = v.AttributePredicate(types.IntentReleaseDate)
	require.True(t, ok)
	assert.Equal(t, "http://www.wikidata.org/prop/direct/P577", p)
	assert.False(t, v.TargetIsEntity(types.IntentReleaseDate))

	_, ok = v.AttributePredicate(types.IntentNone)
	assert.False(t, ok)
}

func TestLabelIndex_IDForPrefersExactCase(t *testing.T) {
	idx := NewLabelIndex([]types.Entity{
		{ID: "urn:it-2017", Label: "It"},
		{ID: "urn:it-crowd", Label: "IT"},
	})

	id, ok := idx.IDFor("IT")
	require.True(t, ok)
	assert.Equal(t, types.EntityID("urn:it-crowd"), id)

	id, ok = idx.IDFor("It")
	require.True(t, ok)
	assert.Equal(t, types.EntityID("urn:it-2017"), id)

	id, ok = idx.IDFor("iT")
	require.True(t, ok)
	assert.Equal(t, types.EntityID("urn:it-2017"), id, "without an exact match the first folded label wins")

	_, ok = idx.IDFor("Them")
	assert.False(t, ok)
}
