package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/store"
)

func vec(values ...float32) models.Vector {
	return models.Vector{Model: "test-embed", Values: values}
}

func entry(id, text string, v models.Vector) models.Entry {
	return models.Entry{ID: id, Vector: v, Metadata: map[string]interface{}{"text": text}}
}

func TestMemory_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	once := store.NewMemory()
	twice := store.NewMemory()

	entries := []models.Entry{
		entry("0", "limits", vec(1, 0)),
		entry("1", "derivatives", vec(0, 1)),
	}
	require.NoError(t, once.Upsert(ctx, "calculus", entries))
	require.NoError(t, twice.Upsert(ctx, "calculus", entries))
	require.NoError(t, twice.Upsert(ctx, "calculus", entries))

	q := vec(1, 1)
	a, err := once.Query(ctx, "calculus", q, 10)
	require.NoError(t, err)
	b, err := twice.Query(ctx, "calculus", q, 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, b, 2)
}

func TestMemory_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.Upsert(ctx, "ns", []models.Entry{entry("0", "old", vec(1, 0))}))
	require.NoError(t, m.Upsert(ctx, "ns", []models.Entry{entry("0", "new", vec(0, 1))}))

	got, err := m.Query(ctx, "ns", vec(0, 1), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Text())
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, "ns", got[0].Namespace)
}

func TestMemory_QueryOrderingAndTies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Upsert(ctx, "ns", []models.Entry{
		entry("b", "tie b", vec(1, 0)),
		entry("a", "tie a", vec(2, 0)),
		entry("c", "far", vec(0, 1)),
		entry("d", "mid", vec(1, 1)),
	}))

	got, err := m.Query(ctx, "ns", vec(1, 0), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "d", got[2].ID)
}

func TestMemory_SkipsOtherModels(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Upsert(ctx, "ns", []models.Entry{
		entry("0", "x", models.Vector{Model: "other", Values: []float32{1, 0}}),
	}))

	got, err := m.Query(ctx, "ns", vec(1, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_Namespaces(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Upsert(ctx, "physics", []models.Entry{entry("0", "x", vec(1))}))
	require.NoError(t, m.Upsert(ctx, "calculus", []models.Entry{entry("0", "y", vec(1))}))

	names, err := m.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"calculus", "physics"}, names)

	require.NoError(t, m.DeleteNamespace(ctx, "physics"))
	names, err = m.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"calculus"}, names)
}

func TestMemory_Validation(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	assert.ErrorIs(t, m.Upsert(ctx, "", nil), types.ErrConfiguration)
	assert.ErrorIs(t, m.Upsert(ctx, "ns", []models.Entry{{}}), types.ErrConfiguration)
}
