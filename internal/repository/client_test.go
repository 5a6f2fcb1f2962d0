//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/testutil"
)

func newTestClient(code, name string) *domain.Client {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Client{Code: code, Name: name, CreatedAt: now, UpdatedAt: now}
}

func TestClientRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewClientRepository(pool)

	c := newTestClient("SWM", "Stadtwerke München")
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByCode(ctx, "SWM")
	require.NoError(t, err)
	assert.Equal(t, "Stadtwerke München", got.Name)
	assert.Equal(t, c.CreatedAt, got.CreatedAt)

	_, err = repo.GetByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}

func TestClientRepository_Create_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewClientRepository(pool)

	require.NoError(t, repo.Create(ctx, newTestClient("SWK", "Stadtwerke Köln")))
	err := repo.Create(ctx, newTestClient("SWK", "Someone Else"))
	assert.ErrorIs(t, err, domain.ErrClientAlreadyExists)
}

func TestClientRepository_ExistsAndList(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewClientRepository(pool)

	require.NoError(t, repo.Create(ctx, newTestClient("SWB", "Stadtwerke Bonn")))
	require.NoError(t, repo.Create(ctx, newTestClient("SWA", "Stadtwerke Augsburg")))

	exists, err := repo.Exists(ctx, "SWB")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "SWX")
	require.NoError(t, err)
	assert.False(t, exists)

	clients, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "SWA", clients[0].Code)
	assert.Equal(t, "SWB", clients[1].Code)
}
