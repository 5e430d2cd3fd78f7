package ports

import (
	"context"

	"streamgate/internal/core/domain"
	"streamgate/pkg/watch"
)

// UserRepository persists user profiles. Emails are stored lowercased and
// unique; GetMany is the batch primitive the profile cache uses to fetch
// only the ids it is missing.
type UserRepository interface {
	Create(ctx context.Context, user *domain.UserProfile) error
	GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
	GetMany(ctx context.Context, ids []domain.UserID) ([]*domain.UserProfile, error)
	Update(ctx context.Context, user *domain.UserProfile) error
	ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error)
}

// PermissionRepository persists grant edges. The store does not enforce
// edge uniqueness; duplicates are possible and readers must tolerate them.
type PermissionRepository interface {
	Create(ctx context.Context, perm *domain.StreamPermission) error
	GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error)
	Update(ctx context.Context, perm *domain.StreamPermission) error
	Delete(ctx context.Context, id domain.PermissionID) error
	ListBySubscriber(ctx context.Context, subscriberID domain.UserID, activeOnly bool) ([]*domain.StreamPermission, error)
	ListByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamPermission, error)

	// WatchActiveBySubscriber opens a live query on the subscriber's active
	// permissions. The full fresh result set is pushed on every change.
	// The feed stops when ctx is cancelled.
	WatchActiveBySubscriber(ctx context.Context, subscriberID domain.UserID) (*watch.Feed[[]*domain.StreamPermission], error)
}

// SessionRepository persists stream sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.StreamSession) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error)
	Update(ctx context.Context, session *domain.StreamSession) error
	ListActive(ctx context.Context) ([]*domain.StreamSession, error)
	ListActiveByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamSession, error)

	// WatchActive opens a live query on all active sessions, global and not
	// subscriber-scoped: the set of streams that exist changes independently
	// of any one subscriber's permissions.
	WatchActive(ctx context.Context) (*watch.Feed[[]*domain.StreamSession], error)
}
