//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunk(slug, generation string, ordinal int, embedding []float32) domain.Chunk {
	return domain.Chunk{
		ID:            uuid.NewString(),
		DocumentSlug:  slug,
		Generation:    generation,
		Ordinal:       ordinal,
		Content:       "chunk content",
		Embedding:     embedding,
		EmbeddingType: domain.EmbeddingTypeSmall,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestChunkRepository_InsertAndList(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	doc := createTestDocument(ctx, t, docRepo, "chunked-doc")

	chunks := []domain.Chunk{
		makeChunk(doc.Slug, "gen-1", 0, testVector(1536, 0.1)),
		makeChunk(doc.Slug, "gen-1", 1, testVector(1536, 0.2)),
	}
	require.NoError(t, chunkRepo.InsertGeneration(ctx, chunks))

	count, err := chunkRepo.CountBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := chunkRepo.ListBySlug(ctx, doc.Slug, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0, listed[0].Ordinal)
	assert.Equal(t, 1, listed[1].Ordinal)
	assert.Empty(t, listed[0].Embedding)
}

func TestChunkRepository_DeleteOtherGenerations(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	doc := createTestDocument(ctx, t, docRepo, "regen-doc")

	require.NoError(t, chunkRepo.InsertGeneration(ctx, []domain.Chunk{
		makeChunk(doc.Slug, "gen-1", 0, testVector(1536, 0.1)),
		makeChunk(doc.Slug, "gen-2", 0, testVector(1536, 0.2)),
		makeChunk(doc.Slug, "gen-2", 1, testVector(1536, 0.3)),
	}))

	require.NoError(t, chunkRepo.DeleteOtherGenerations(ctx, doc.Slug, "gen-2"))

	listed, err := chunkRepo.ListBySlug(ctx, doc.Slug, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, c := range listed {
		assert.Equal(t, "gen-2", c.Generation)
	}
}

func TestChunkRepository_SimilaritySearch(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	doc := createTestDocument(ctx, t, docRepo, "search-doc")

	// Orthogonal axes give exact cosine similarities: the query along the
	// first axis scores 1.0 against close, 0.0 against far.
	near := make([]float32, 1536)
	near[0] = 1
	far := make([]float32, 1536)
	far[1] = 1

	require.NoError(t, chunkRepo.InsertGeneration(ctx, []domain.Chunk{
		makeChunk(doc.Slug, "gen-1", 0, far),
		makeChunk(doc.Slug, "gen-1", 1, near),
	}))

	query := make([]float32, 1536)
	query[0] = 1

	results, err := chunkRepo.SimilaritySearch(ctx, doc.Slug, query, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Chunk.Ordinal)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
	assert.Equal(t, doc.Slug, results[0].DocumentSlug)
}

func TestChunkRepository_SimilaritySearch_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	doc := createTestDocument(ctx, t, docRepo, "limit-doc")

	var chunks []domain.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, makeChunk(doc.Slug, "gen-1", i, testVector(1536, 0.5)))
	}
	require.NoError(t, chunkRepo.InsertGeneration(ctx, chunks))

	results, err := chunkRepo.SimilaritySearch(ctx, doc.Slug, testVector(1536, 0.5), 3, 0.0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	// Equal scores fall back to ordinal order.
	assert.Equal(t, 0, results[0].Chunk.Ordinal)
	assert.Equal(t, 1, results[1].Chunk.Ordinal)
	assert.Equal(t, 2, results[2].Chunk.Ordinal)
}
