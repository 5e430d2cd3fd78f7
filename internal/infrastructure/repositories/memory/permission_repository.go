package memory

import (
	"context"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/watch"
)

type permissionWatcher struct {
	subscriberID domain.UserID
	feed         *watch.Feed[[]*domain.StreamPermission]
}

type MemoryPermissionRepository struct {
	mu          sync.RWMutex
	permissions map[domain.PermissionID]*domain.StreamPermission
	watchers    map[*permissionWatcher]struct{}
}

func NewMemoryPermissionRepository() ports.PermissionRepository {
	return &MemoryPermissionRepository{
		permissions: make(map[domain.PermissionID]*domain.StreamPermission),
		watchers:    make(map[*permissionWatcher]struct{}),
	}
}

func (r *MemoryPermissionRepository) Create(ctx context.Context, perm *domain.StreamPermission) error {
	r.mu.Lock()
	cp := *perm
	r.permissions[perm.ID] = &cp
	r.mu.Unlock()

	r.notify(perm.SubscriberID)
	return nil
}

func (r *MemoryPermissionRepository) GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perm, exists := r.permissions[id]
	if !exists {
		return nil, domain.ErrPermissionNotFound
	}
	cp := *perm
	return &cp, nil
}

func (r *MemoryPermissionRepository) Update(ctx context.Context, perm *domain.StreamPermission) error {
	r.mu.Lock()
	if _, exists := r.permissions[perm.ID]; !exists {
		r.mu.Unlock()
		return domain.ErrPermissionNotFound
	}
	cp := *perm
	r.permissions[perm.ID] = &cp
	r.mu.Unlock()

	r.notify(perm.SubscriberID)
	return nil
}

func (r *MemoryPermissionRepository) Delete(ctx context.Context, id domain.PermissionID) error {
	r.mu.Lock()
	perm, exists := r.permissions[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrPermissionNotFound
	}
	subscriberID := perm.SubscriberID
	delete(r.permissions, id)
	r.mu.Unlock()

	r.notify(subscriberID)
	return nil
}

func (r *MemoryPermissionRepository) ListBySubscriber(ctx context.Context, subscriberID domain.UserID, activeOnly bool) ([]*domain.StreamPermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listBySubscriberLocked(subscriberID, activeOnly), nil
}

func (r *MemoryPermissionRepository) ListByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamPermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var perms []*domain.StreamPermission
	for _, perm := range r.permissions {
		if perm.PublisherID == publisherID {
			cp := *perm
			perms = append(perms, &cp)
		}
	}
	return perms, nil
}

func (r *MemoryPermissionRepository) WatchActiveBySubscriber(ctx context.Context, subscriberID domain.UserID) (*watch.Feed[[]*domain.StreamPermission], error) {
	w := &permissionWatcher{
		subscriberID: subscriberID,
		feed:         watch.NewFeed[[]*domain.StreamPermission](),
	}

	r.mu.Lock()
	r.watchers[w] = struct{}{}
	initial := r.listBySubscriberLocked(subscriberID, true)
	r.mu.Unlock()

	w.feed.Publish(initial)

	go func() {
		select {
		case <-ctx.Done():
		case <-w.feed.Done():
		}
		r.mu.Lock()
		delete(r.watchers, w)
		r.mu.Unlock()
		w.feed.Stop()
	}()

	return w.feed, nil
}

func (r *MemoryPermissionRepository) listBySubscriberLocked(subscriberID domain.UserID, activeOnly bool) []*domain.StreamPermission {
	var perms []*domain.StreamPermission
	for _, perm := range r.permissions {
		if perm.SubscriberID != subscriberID {
			continue
		}
		if activeOnly && !perm.Active {
			continue
		}
		cp := *perm
		perms = append(perms, &cp)
	}
	return perms
}

// notify pushes a fresh full result set to every watcher of the changed
// subscriber, mirroring the live-query semantics of the hosted store.
func (r *MemoryPermissionRepository) notify(subscriberID domain.UserID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for w := range r.watchers {
		if w.subscriberID != subscriberID {
			continue
		}
		w.feed.Publish(r.listBySubscriberLocked(subscriberID, true))
	}
}
