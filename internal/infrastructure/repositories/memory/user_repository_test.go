package memory

import (
	"context"
	"testing"

	"streamgate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepository_CreateAndLookup(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	user := &domain.UserProfile{
		ID:     "u1",
		Email:  "alice@example.com",
		Role:   domain.RoleSubscriber,
		Active: true,
	}
	require.NoError(t, repo.Create(ctx, user))

	byID, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), byEmail.ID)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	dupe := &domain.UserProfile{ID: "u2", Email: "alice@example.com"}
	assert.ErrorIs(t, repo.Create(ctx, dupe), domain.ErrEmailTaken)
}

func TestMemoryUserRepository_UpdateRemapsEmail(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u1", Email: "old@example.com"}))
	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u2", Email: "taken@example.com"}))

	u, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)

	u.Email = "taken@example.com"
	assert.ErrorIs(t, repo.Update(ctx, u), domain.ErrEmailTaken)

	u.Email = "new@example.com"
	require.NoError(t, repo.Update(ctx, u))

	byNew, err := repo.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), byNew.ID)

	_, err = repo.GetByEmail(ctx, "old@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMemoryUserRepository_GetMany(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u1", Email: "a@example.com"}))
	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u2", Email: "b@example.com"}))

	users, err := repo.GetMany(ctx, []domain.UserID{"u1", "missing", "u2"})
	require.NoError(t, err)
	assert.Len(t, users, 2, "unknown ids are silently absent")
}

func TestMemoryUserRepository_ListByRole(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u1", Email: "a@example.com", Role: domain.RolePublisher}))
	require.NoError(t, repo.Create(ctx, &domain.UserProfile{ID: "u2", Email: "b@example.com", Role: domain.RoleSubscriber}))

	pubs, err := repo.ListByRole(ctx, domain.RolePublisher)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, domain.UserID("u1"), pubs[0].ID)

	all, err := repo.ListByRole(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
