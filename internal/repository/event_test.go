//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/pagination"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingEventRepository_AppendAndFinalize(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewTrainingEventRepository(pool)

	event := domain.NewTrainingEvent(uuid.NewString(), "some-doc", domain.TrainingActionInitial, domain.UploadTypeText, 1024, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.Append(ctx, event))

	err := repo.Finalize(ctx, event.ID, domain.TrainingStatusCompleted, service.FinalizeDetails{
		ChunkCount:     12,
		DurationMillis: 450,
	})
	require.NoError(t, err)

	retrieved, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TrainingStatusCompleted, retrieved.Status)
	assert.Equal(t, 12, retrieved.ChunkCount)
	assert.Equal(t, int64(450), retrieved.DurationMillis)
	assert.NotNil(t, retrieved.FinalizedAt)
}

func TestTrainingEventRepository_Finalize_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewTrainingEventRepository(pool)

	event := domain.NewTrainingEvent(uuid.NewString(), "some-doc", domain.TrainingActionInitial, domain.UploadTypeText, 0, time.Now().UTC())
	require.NoError(t, repo.Append(ctx, event))

	require.NoError(t, repo.Finalize(ctx, event.ID, domain.TrainingStatusCompleted, service.FinalizeDetails{ChunkCount: 5}))

	// A second finalization must not overwrite the first.
	err := repo.Finalize(ctx, event.ID, domain.TrainingStatusFailed, service.FinalizeDetails{Error: "late failure"})
	assert.ErrorIs(t, err, domain.ErrEventAlreadyFinalized)

	retrieved, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TrainingStatusCompleted, retrieved.Status)
	assert.Equal(t, 5, retrieved.ChunkCount)
	assert.Empty(t, retrieved.Error)
}

func TestTrainingEventRepository_Finalize_NotFound(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewTrainingEventRepository(pool)

	err := repo.Finalize(ctx, uuid.NewString(), domain.TrainingStatusCompleted, service.FinalizeDetails{})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestTrainingEventRepository_ListBySlugWithCursor(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewTrainingEventRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)
	for i := 0; i < 3; i++ {
		event := domain.NewTrainingEvent(uuid.NewString(), "history-doc", domain.TrainingActionReplace, domain.UploadTypeText, 0, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Append(ctx, event))
	}

	page, err := repo.ListBySlugWithCursor(ctx, "history-doc", nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
	// Newest first.
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	cursor, err := pagination.DecodeCursor(page.NextCursor)
	require.NoError(t, err)

	rest, err := repo.ListBySlugWithCursor(ctx, "history-doc", cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.False(t, rest.HasMore)
	assert.Empty(t, rest.NextCursor)
}
