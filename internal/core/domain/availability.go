package domain

import "time"

// WatchableStream is one derived availability entry: a stream the subscriber
// may currently watch. It exists only while the underlying permission is
// active AND a matching active session exists for the publisher.
// Consumers should key entries by PermissionID, not by position.
type WatchableStream struct {
	PermissionID  PermissionID `json:"permission_id"`
	PublisherID   UserID       `json:"publisher_id"`
	PublisherName string       `json:"publisher_name"`
	RoomID        RoomID       `json:"room_id"`
	Title         string       `json:"title,omitempty"`
	Description   string       `json:"description,omitempty"`
	AllowVideo    bool         `json:"allow_video"`
	AllowAudio    bool         `json:"allow_audio"`
	StartedAt     time.Time    `json:"started_at"`
}

// AvailabilitySnapshot is the derived, non-persisted view the aggregator
// emits on every underlying change. Degraded is set while either source feed
// is unhealthy: the snapshot is then last-known-good, not confident.
type AvailabilitySnapshot struct {
	SubscriberID UserID            `json:"subscriber_id"`
	Streams      []WatchableStream `json:"streams"`
	Degraded     bool              `json:"degraded,omitempty"`
	ComputedAt   time.Time         `json:"computed_at"`
}

// Find resolves an entry by permission id. Callers holding a selection must
// re-resolve it through Find after every snapshot and drop it when the entry
// is gone, never keep a stale reference.
func (s *AvailabilitySnapshot) Find(id PermissionID) (WatchableStream, bool) {
	for _, ws := range s.Streams {
		if ws.PermissionID == id {
			return ws, true
		}
	}
	return WatchableStream{}, false
}
