package ranker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tutor/internal/fakes"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/pkg/ranker"
)

func TestCosine(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 4}

	assert.InDelta(t, 1.0, ranker.Cosine(a, a), 1e-9)
	assert.InDelta(t, ranker.Cosine(a, b), ranker.Cosine(b, a), 1e-12)
	assert.Equal(t, 0.0, ranker.Cosine([]float32{0, 0, 0}, a))
	assert.Equal(t, 0.0, ranker.Cosine(a, []float32{0, 0, 0}))
	assert.Equal(t, 0.0, ranker.Cosine(a, []float32{1, 2}))
	assert.InDelta(t, -1.0, ranker.Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
}

func calculusCorpus() []models.CorpusItem {
	return []models.CorpusItem{
		{ID: "1", Title: "Intro to Limits", Summary: "Limits formalize the idea of approaching a value."},
		{ID: "2", Title: "Derivatives", Summary: "The derivative measures rate of change of a function."},
	}
}

func TestFindMostSimilar_Derivatives(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit", "deriv", "rate", "integr")
	r := ranker.New(emb, nil)

	best, err := r.FindMostSimilar(context.Background(), "how do I compute a derivative", calculusCorpus())
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "Derivatives", best.Item.Title)
	assert.Greater(t, best.Score, 0.0)
}

func TestFindMostSimilar_EmptyCorpus(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit")
	r := ranker.New(emb, nil)

	best, err := r.FindMostSimilar(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Equal(t, 0, emb.CallCount())
}

func TestFindMostSimilar_TieKeepsFirst(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit", "deriv")
	r := ranker.New(emb, nil)
	corpus := []models.CorpusItem{
		{ID: "a", Title: "Limits one"},
		{ID: "b", Title: "Limits two"},
	}

	best, err := r.FindMostSimilar(context.Background(), "limits", corpus)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "a", best.Item.ID)

	best, err = r.FindMostSimilar(context.Background(), "limits", []models.CorpusItem{corpus[1], corpus[0]})
	require.NoError(t, err)
	assert.Equal(t, "b", best.Item.ID)
}

func TestFindMostSimilar_CachesItemEmbeddings(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit", "deriv", "rate")
	cache := ranker.NewMemoryCache()
	r := ranker.New(emb, cache)
	corpus := calculusCorpus()

	_, err := r.FindMostSimilar(context.Background(), "derivative", corpus)
	require.NoError(t, err)
	assert.Equal(t, 3, emb.CallCount())

	_, err = r.FindMostSimilar(context.Background(), "limits", corpus)
	require.NoError(t, err)
	assert.Equal(t, 4, emb.CallCount())

	_, ok := cache.Get("keyword", "2")
	assert.True(t, ok)
	assert.Nil(t, corpus[1].Embedding)
}

func TestFindMostSimilar_UsesItemEmbedding(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit", "deriv")
	r := ranker.New(emb, nil)
	corpus := []models.CorpusItem{
		{ID: "1", Title: "Limits", Embedding: &models.Vector{Model: "keyword", Values: []float32{0, 1}}},
		{ID: "2", Title: "Derivatives", Embedding: &models.Vector{Model: "keyword", Values: []float32{1, 0}}},
	}

	best, err := r.FindMostSimilar(context.Background(), "derivatives", corpus)
	require.NoError(t, err)
	assert.Equal(t, "1", best.Item.ID)
	assert.Equal(t, 1, emb.CallCount())
}

func TestFindMostSimilar_EmbedError(t *testing.T) {
	emb := fakes.NewKeywordEmbedder("limit")
	emb.Err = fakes.ErrUnavailable
	r := ranker.New(emb, nil)

	_, err := r.FindMostSimilar(context.Background(), "limits", calculusCorpus())
	assert.ErrorIs(t, err, fakes.ErrUnavailable)
}
