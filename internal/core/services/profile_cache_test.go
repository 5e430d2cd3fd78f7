package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"streamgate/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingUserRepo records GetMany traffic so tests can assert cache hits.
type countingUserRepo struct {
	mu       sync.Mutex
	users    map[domain.UserID]*domain.UserProfile
	getMany  int
	fetchIDs [][]domain.UserID
}

func newCountingUserRepo(users ...*domain.UserProfile) *countingUserRepo {
	r := &countingUserRepo{users: make(map[domain.UserID]*domain.UserProfile)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *countingUserRepo) Create(ctx context.Context, user *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *countingUserRepo) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *countingUserRepo) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	return nil, domain.ErrUserNotFound
}

func (r *countingUserRepo) GetMany(ctx context.Context, ids []domain.UserID) ([]*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getMany++
	r.fetchIDs = append(r.fetchIDs, ids)

	var out []*domain.UserProfile
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *countingUserRepo) Update(ctx context.Context, user *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *countingUserRepo) ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error) {
	return nil, nil
}

func (r *countingUserRepo) getManyCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getMany
}

func TestProfileCache_GetManyFetchesOnlyMissing(t *testing.T) {
	repo := newCountingUserRepo(
		&domain.UserProfile{ID: "u1", Email: "u1@example.com", DisplayName: "One"},
		&domain.UserProfile{ID: "u2", Email: "u2@example.com", DisplayName: "Two"},
	)
	cache := NewProfileCache(repo, time.Minute)
	defer cache.Stop()

	ctx := context.Background()

	got, err := cache.GetMany(ctx, []domain.UserID{"u1", "u2", "u1"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "duplicate ids are collapsed")
	assert.Equal(t, 1, repo.getManyCalls())

	// A second lookup is fully served from cache.
	got, err = cache.GetMany(ctx, []domain.UserID{"u1", "u2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, repo.getManyCalls())

	// Only the new id goes to the repository.
	repo.Create(ctx, &domain.UserProfile{ID: "u3", Email: "u3@example.com"})
	_, err = cache.GetMany(ctx, []domain.UserID{"u1", "u3"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.getManyCalls())
	assert.Equal(t, []domain.UserID{"u3"}, repo.fetchIDs[1])
}

func TestProfileCache_UnknownIDsAbsent(t *testing.T) {
	repo := newCountingUserRepo(&domain.UserProfile{ID: "u1", Email: "u1@example.com"})
	cache := NewProfileCache(repo, time.Minute)
	defer cache.Stop()

	got, err := cache.GetMany(context.Background(), []domain.UserID{"u1", "ghost"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, ok := got["ghost"]
	assert.False(t, ok)
}

func TestProfileCache_Invalidate(t *testing.T) {
	repo := newCountingUserRepo(&domain.UserProfile{ID: "u1", Email: "u1@example.com", DisplayName: "Old"})
	cache := NewProfileCache(repo, time.Minute)
	defer cache.Stop()

	ctx := context.Background()

	first, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Old", first.DisplayName)

	repo.Update(ctx, &domain.UserProfile{ID: "u1", Email: "u1@example.com", DisplayName: "New"})

	stale, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Old", stale.DisplayName, "cached until invalidated")

	cache.Invalidate("u1")
	fresh, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "New", fresh.DisplayName)
}
