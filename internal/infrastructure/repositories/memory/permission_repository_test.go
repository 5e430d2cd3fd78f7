package memory

import (
	"context"
	"testing"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/pkg/watch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPermissionRepository_CRUD(t *testing.T) {
	repo := NewMemoryPermissionRepository()
	ctx := context.Background()

	perm := &domain.StreamPermission{
		ID:           "perm-1",
		SubscriberID: "sub-1",
		PublisherID:  "pub-1",
		AllowAudio:   true,
		Active:       true,
	}
	require.NoError(t, repo.Create(ctx, perm))

	got, err := repo.GetByID(ctx, "perm-1")
	require.NoError(t, err)
	assert.True(t, got.AllowAudio)

	got.AllowVideo = true
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.GetByID(ctx, "perm-1")
	require.NoError(t, err)
	assert.True(t, updated.AllowVideo)

	require.NoError(t, repo.Delete(ctx, "perm-1"))
	_, err = repo.GetByID(ctx, "perm-1")
	assert.ErrorIs(t, err, domain.ErrPermissionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "perm-1"), domain.ErrPermissionNotFound)
}

func TestMemoryPermissionRepository_ListBySubscriber(t *testing.T) {
	repo := NewMemoryPermissionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.StreamPermission{ID: "p1", SubscriberID: "sub-1", PublisherID: "pub-1", Active: true}))
	require.NoError(t, repo.Create(ctx, &domain.StreamPermission{ID: "p2", SubscriberID: "sub-1", PublisherID: "pub-2", Active: false}))
	require.NoError(t, repo.Create(ctx, &domain.StreamPermission{ID: "p3", SubscriberID: "sub-2", PublisherID: "pub-1", Active: true}))

	all, err := repo.ListBySubscriber(ctx, "sub-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repo.ListBySubscriber(ctx, "sub-1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.PermissionID("p1"), active[0].ID)

	byPub, err := repo.ListByPublisher(ctx, "pub-1")
	require.NoError(t, err)
	assert.Len(t, byPub, 2)
}

func TestMemoryPermissionRepository_WatchIsSubscriberScoped(t *testing.T) {
	repo := NewMemoryPermissionRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := repo.WatchActiveBySubscriber(ctx, "sub-1")
	require.NoError(t, err)
	defer feed.Stop()

	drain(t, feed) // initial empty set

	// A grant for another subscriber must not reach this feed.
	require.NoError(t, repo.Create(ctx, &domain.StreamPermission{ID: "p-other", SubscriberID: "sub-2", PublisherID: "pub-1", Active: true}))
	select {
	case perms := <-feed.Updates():
		t.Fatalf("unexpected update for foreign subscriber: %v", perms)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, repo.Create(ctx, &domain.StreamPermission{ID: "p-mine", SubscriberID: "sub-1", PublisherID: "pub-1", Active: true}))
	select {
	case perms := <-feed.Updates():
		require.Len(t, perms, 1)
		assert.Equal(t, domain.PermissionID("p-mine"), perms[0].ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for own grant notification")
	}

	// Deactivating the grant pushes a fresh, now empty, active set.
	perm, err := repo.GetByID(ctx, "p-mine")
	require.NoError(t, err)
	perm.Active = false
	require.NoError(t, repo.Update(ctx, perm))

	select {
	case perms := <-feed.Updates():
		assert.Empty(t, perms)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deactivation notification")
	}
}

func drain(t *testing.T, feed *watch.Feed[[]*domain.StreamPermission]) {
	t.Helper()
	select {
	case <-feed.Updates():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial result set")
	}
}
