package ports

import (
	"context"

	"streamgate/internal/core/domain"
	"streamgate/pkg/watch"
)

// AvailabilityService derives and continuously maintains the set of streams
// a subscriber may currently watch.
type AvailabilityService interface {
	// Snapshot computes the availability set once, without subscribing.
	Snapshot(ctx context.Context, subscriberID domain.UserID) (*domain.AvailabilitySnapshot, error)

	// Watch opens a continuously updated availability feed for the
	// subscriber. A fresh snapshot is pushed within one propagation cycle of
	// any permission or session change; source failures surface on the
	// feed's error channel while emission degrades to last-known-good.
	Watch(ctx context.Context, subscriberID domain.UserID) (*watch.Feed[*domain.AvailabilitySnapshot], error)
}

// SessionService owns the stream session write paths, including the
// per-publisher exclusivity enforcement and the reconciliation sweep.
type SessionService interface {
	StartSession(ctx context.Context, publisherID domain.UserID, title, description string) (*domain.StreamSession, error)
	EndSession(ctx context.Context, id domain.SessionID, endedBy domain.UserID) error
	GetSession(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error)
	ListActive(ctx context.Context) ([]*domain.StreamSession, error)

	// ReconcileOnce deactivates duplicate active sessions per publisher,
	// keeping only the most recent. Returns the number of rows repaired.
	ReconcileOnce(ctx context.Context) (int, error)
}

// UserService owns admin-facing user management.
type UserService interface {
	CreateUser(ctx context.Context, email, password, displayName string, role domain.Role) (*domain.UserProfile, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
	ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error)
	SetActive(ctx context.Context, id domain.UserID, active bool, actor domain.UserID) error
}

// PermissionService owns the grant edge write paths.
type PermissionService interface {
	Grant(ctx context.Context, subscriberID, publisherID domain.UserID, allowVideo, allowAudio bool) (*domain.StreamPermission, error)
	// GrantBulk creates the cartesian product of grants across the given
	// subscriber and publisher sets. Existing edges are not deduplicated.
	GrantBulk(ctx context.Context, subscriberIDs, publisherIDs []domain.UserID, allowVideo, allowAudio bool) ([]*domain.StreamPermission, error)
	SetFlags(ctx context.Context, id domain.PermissionID, allowVideo, allowAudio *bool, active *bool) (*domain.StreamPermission, error)
	Revoke(ctx context.Context, id domain.PermissionID) error
	ListBySubscriber(ctx context.Context, subscriberID domain.UserID) ([]*domain.StreamPermission, error)
	ListByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamPermission, error)
}

// RTCToken is a short-lived credential for joining a media channel.
type RTCToken struct {
	Token string `json:"token"`
	UID   uint32 `json:"uid"`
	AppID string `json:"app_id"`
}

// TokenMinter mints credentials for the external media and conferencing
// collaborators. Stateless request/response; no storage.
type TokenMinter interface {
	MintRTCToken(userID domain.UserID, room domain.RoomID, publisher bool) (*RTCToken, error)
	MintConferenceToken(userID domain.UserID, displayName, roomName string) (string, error)
}
