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

func makeAPIKey(name string, elevated bool) *domain.APIKey {
	return &domain.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   uuid.NewString(),
		Elevated:  elevated,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestAPIKeyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewAPIKeyRepository(pool)

	key := makeAPIKey("Test Key", false)
	require.NoError(t, repo.Create(ctx, key))

	retrieved, err := repo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.Name, retrieved.Name)
	assert.False(t, retrieved.Elevated)
	assert.Nil(t, retrieved.RevokedAt)

	byHash, err := repo.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, byHash.ID)
}

func TestAPIKeyRepository_GetByHash_NotFound(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewAPIKeyRepository(pool)

	_, err := repo.GetByHash(ctx, "no-such-hash")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_Revoke(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewAPIKeyRepository(pool)

	key := makeAPIKey("Revocable", false)
	require.NoError(t, repo.Create(ctx, key))

	require.NoError(t, repo.Revoke(ctx, key.ID))

	retrieved, err := repo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.IsRevoked())

	// Revoking twice reports not found: the key is no longer revocable.
	err = repo.Revoke(ctx, key.ID)
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_Grants(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)
	repo := NewAPIKeyRepository(pool)

	key := makeAPIKey("Grantee", false)
	require.NoError(t, repo.Create(ctx, key))

	has, err := repo.HasGrant(ctx, key.ID, "private-doc")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.Grant(ctx, key.ID, "private-doc"))
	// Granting twice is a no-op.
	require.NoError(t, repo.Grant(ctx, key.ID, "private-doc"))

	has, err = repo.HasGrant(ctx, key.ID, "private-doc")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasGrant(ctx, key.ID, "other-doc")
	require.NoError(t, err)
	assert.False(t, has)
}
