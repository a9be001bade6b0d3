//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	doc := &domain.Document{
		Slug:          "intro-to-databases",
		Title:         "Intro to Databases",
		Active:        true,
		EmbeddingType: domain.EmbeddingTypeSmall,
		UploadType:    domain.UploadTypePDF,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	require.NoError(t, repo.Create(ctx, doc))

	retrieved, err := repo.GetBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, doc.Slug, retrieved.Slug)
	assert.Equal(t, doc.Title, retrieved.Title)
	assert.Equal(t, domain.EmbeddingTypeSmall, retrieved.EmbeddingType)
	assert.Equal(t, domain.UploadTypePDF, retrieved.UploadType)
	assert.Empty(t, retrieved.ActiveGeneration)
	assert.True(t, retrieved.Active)
}

func TestDocumentRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	createTestDocument(ctx, t, repo, "duplicate-doc")

	dup := &domain.Document{
		Slug:          "duplicate-doc",
		Title:         "Another Title",
		EmbeddingType: domain.EmbeddingTypeSmall,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrDocumentAlreadyExists)
}

func TestDocumentRepository_GetBySlug_NotFound(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	_, err := repo.GetBySlug(ctx, "no-such-doc")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_Update_FlipsGenerationPointer(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	doc := createTestDocument(ctx, t, repo, "update-doc")
	doc.ActiveGeneration = "gen-2"
	doc.UploadType = domain.UploadTypeText

	require.NoError(t, repo.Update(ctx, doc))

	retrieved, err := repo.GetBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, "gen-2", retrieved.ActiveGeneration)
	assert.Equal(t, domain.UploadTypeText, retrieved.UploadType)
}

func TestDocumentRepository_Update_NotFound(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	doc := &domain.Document{Slug: "ghost", Title: "Ghost"}
	err := repo.Update(ctx, doc)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_SetAbstract(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	doc := createTestDocument(ctx, t, repo, "abstract-doc")
	require.NoError(t, repo.SetAbstract(ctx, doc.Slug, "A short summary."))

	retrieved, err := repo.GetBySlug(ctx, doc.Slug)
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", retrieved.Abstract)
}

func TestDocumentRepository_List(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewDocumentRepository(pool)

	createTestDocument(ctx, t, repo, "doc-one")
	createTestDocument(ctx, t, repo, "doc-two")

	docs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
