//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func newTestPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func createTestDocument(ctx context.Context, t *testing.T, docRepo *DocumentRepository, slug string) *domain.Document {
	doc := &domain.Document{
		Slug:          slug,
		Title:         "Test Document",
		Active:        true,
		EmbeddingType: domain.EmbeddingTypeSmall,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, docRepo.Create(ctx, doc))
	return doc
}

func testVector(dims int, fill float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = fill
	}
	return v
}
