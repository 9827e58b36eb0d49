package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	url := os.Getenv("TUTOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TUTOR_TEST_DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: url,
		TableName:  "test_course_chunks",
		VectorDim:  3,
		IVFLists:   1,
	}
}

func TestNewWithConfig_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := store.NewWithConfig(ctx, store.VectorStoreConfig{ConnString: "postgres://x", TableName: "chunks; DROP TABLE x"})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = store.NewWithConfig(ctx, store.VectorStoreConfig{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestPGVector(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewWithConfig(ctx, getTestConfig(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.DeleteNamespace(ctx, "test-calculus"))
	defer s.DeleteNamespace(ctx, "test-calculus")

	entries := []models.Entry{
		{ID: "0", Vector: models.Vector{Model: "m", Values: []float32{1, 0, 0}}, Metadata: map[string]interface{}{"text": "limits", "chunk": 0}},
		{ID: "1", Vector: models.Vector{Model: "m", Values: []float32{0, 1, 0}}, Metadata: map[string]interface{}{"text": "derivatives", "chunk": 1}},
	}
	require.NoError(t, s.Upsert(ctx, "test-calculus", entries))
	require.NoError(t, s.Upsert(ctx, "test-calculus", entries))

	results, err := s.Query(ctx, "test-calculus", models.Vector{Model: "m", Values: []float32{0, 1, 0}}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "derivatives", results[0].Text())
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	names, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "test-calculus")

	err = s.Upsert(ctx, "test-calculus", []models.Entry{{ID: "x", Vector: models.Vector{Model: "m", Values: []float32{1}}}})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
