package domain

import "time"

type PermissionID string

// StreamPermission is an admin-managed grant edge linking one subscriber to
// one publisher. The (SubscriberID, PublisherID) pair identifies the edge but
// the store does not enforce uniqueness, so duplicates must be tolerated.
// A permission only grants visibility while Active is true.
type StreamPermission struct {
	ID           PermissionID `json:"id"`
	SubscriberID UserID       `json:"subscriber_id"`
	PublisherID  UserID       `json:"publisher_id"`
	AllowVideo   bool         `json:"allow_video"`
	AllowAudio   bool         `json:"allow_audio"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
}
