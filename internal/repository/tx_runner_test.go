//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRunner_CommitsGenerationSwap(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)
	runner := NewTxRunner(pool)

	doc := createTestDocument(ctx, t, docRepo, "swap-doc")
	require.NoError(t, chunkRepo.InsertGeneration(ctx, []domain.Chunk{
		makeChunk(doc.Slug, "gen-1", 0, testVector(1536, 0.1)),
	}))

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Chunks().InsertGeneration(ctx, []domain.Chunk{
			makeChunk(doc.Slug, "gen-2", 0, testVector(1536, 0.2)),
			makeChunk(doc.Slug, "gen-2", 1, testVector(1536, 0.3)),
		}); err != nil {
			return err
		}
		doc.ActiveGeneration = "gen-2"
		if err := repos.Documents().Update(ctx, doc); err != nil {
			return err
		}
		return repos.Chunks().DeleteOtherGenerations(ctx, doc.Slug, "gen-2")
	})
	require.NoError(t, err)

	retrieved, err := docRepo.GetBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, "gen-2", retrieved.ActiveGeneration)

	chunks, err := chunkRepo.ListBySlug(ctx, doc.Slug, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)
	runner := NewTxRunner(pool)

	doc := createTestDocument(ctx, t, docRepo, "rollback-doc")

	boom := errors.New("boom")
	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Chunks().InsertGeneration(ctx, []domain.Chunk{
			makeChunk(doc.Slug, "gen-1", 0, testVector(1536, 0.1)),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := chunkRepo.CountBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
