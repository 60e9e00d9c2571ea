package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AIFlash/internal/ports"
)

func newMemoryIndex(t *testing.T, dim int) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemConfig{Collection: "items", Dimension: dim}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(context.Background()))
	return idx
}

func entry(key string, published time.Time, vec ...float32) ports.IndexEntry {
	return ports.IndexEntry{
		Key:         key,
		ItemID:      "id-" + key,
		Title:       "Title " + key,
		TLDR:        "tl;dr " + key,
		Source:      "feed",
		Type:        "paper",
		PublishedAt: published,
		Tags:        []string{"llm", "agents"},
		Vector:      vec,
	}
}

func TestChromemUpsertIsIdempotent(t *testing.T) {
	idx := newMemoryIndex(t, 3)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", now, 1, 0, 0), entry("b", now, 0, 1, 0)}))
	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", now, 0, 0, 1)}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := idx.Search(ctx, []float32{0, 0, 1}, 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "id-a", hits[0].ItemID)
}

func TestChromemSearchAppliesDateWindow(t *testing.T) {
	idx := newMemoryIndex(t, 2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{
		entry("old", now.Add(-30*24*time.Hour), 1, 0),
		entry("new", now.Add(-time.Hour), 0.9, 0.1),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 5, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Key)

	all, err := idx.Search(ctx, []float32{1, 0}, 5, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "old", all[0].Key)
}

func TestChromemZeroVectorIsIndexable(t *testing.T) {
	idx := newMemoryIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("z", time.Now(), 0, 0, 0, 0)}))

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, keys)
}

func TestChromemKeysAndDelete(t *testing.T) {
	idx := newMemoryIndex(t, 2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{
		entry("a", now, 1, 0), entry("b", now, 0, 1), entry("c", now, 1, 1),
	}))

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, idx.Delete(ctx, []string{"b"}))
	keys, err = idx.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, keys)

	require.NoError(t, idx.Clear(ctx))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, idx.EnsureSchema(ctx), "clear keeps the schema record")
}

func TestChromemEmptyIndex(t *testing.T) {
	idx := newMemoryIndex(t, 2)
	ctx := context.Background()

	hits, err := idx.Search(ctx, []float32{1, 0}, 3, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	keys, err := idx.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, idx.Delete(ctx, nil))
}

func TestChromemDetectsOutdatedSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("dimension change", func(t *testing.T) {
		idx := newMemoryIndex(t, 2)
		idx.dimension = 3

		err := idx.EnsureSchema(ctx)
		assert.True(t, errors.Is(err, ports.ErrSchemaOutdated), "got %v", err)

		require.NoError(t, idx.Recreate(ctx))
		require.NoError(t, idx.EnsureSchema(ctx))
	})

	t.Run("collection without schema record", func(t *testing.T) {
		idx, err := NewChromemIndex(ChromemConfig{Collection: "legacy", Dimension: 2}, nil)
		require.NoError(t, err)

		legacy, err := idx.db.CreateCollection("legacy", nil, vectorsOnly)
		require.NoError(t, err)
		require.NoError(t, legacy.AddDocument(ctx, chromem.Document{
			ID: "x", Content: "old entry", Embedding: []float32{1, 0},
			Metadata: map[string]string{"title": "old"},
		}))

		err = idx.EnsureSchema(ctx)
		assert.True(t, errors.Is(err, ports.ErrSchemaOutdated), "got %v", err)
	})

	t.Run("missing fields", func(t *testing.T) {
		idx := newMemoryIndex(t, 2)
		meta := idx.db.GetCollection(idx.schemaName, vectorsOnly)
		require.NotNil(t, meta)
		require.NoError(t, meta.AddDocument(ctx, chromem.Document{
			ID: schemaDocID, Content: "schema", Embedding: []float32{1},
			Metadata: map[string]string{"version": "2", "dimension": "2", "fields": "key,title"},
		}))

		err := idx.EnsureSchema(ctx)
		assert.True(t, errors.Is(err, ports.ErrSchemaOutdated), "got %v", err)
	})
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewChromemIndex(ChromemConfig{Path: dir, Collection: "items", Dimension: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(ctx))
	require.NoError(t, idx.Upsert(ctx, []ports.IndexEntry{entry("a", time.Now(), 1, 0)}))

	reopened, err := NewChromemIndex(ChromemConfig{Path: dir, Collection: "items", Dimension: 2}, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.EnsureSchema(ctx))

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestPrepareVector(t *testing.T) {
	unit := prepareVector([]float32{3, 4}, 2)
	assert.InDelta(t, 0.6, unit[0], 1e-6)
	assert.InDelta(t, 0.8, unit[1], 1e-6)

	uniform := prepareVector([]float32{0, 0, 0, 0}, 4)
	for _, x := range uniform {
		assert.InDelta(t, 0.5, x, 1e-6)
	}

	assert.Len(t, prepareVector(nil, 8), 8)
}
