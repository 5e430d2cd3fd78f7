package domain

import "time"

type SessionID string

// RoomID is the opaque, globally unique channel identifier a stream session
// is carried on. Generated once at session start, never reused.
type RoomID string

// StreamSession is one live broadcast instance by a publisher.
//
// Invariant: at most one session with Active=true per PublisherID. The
// invariant is enforced at creation time on a best-effort basis (deactivate
// prior rows, then insert) and repaired by the reconciliation sweep; it is
// not linearizable across concurrent creators.
type StreamSession struct {
	ID            SessionID  `json:"id"`
	PublisherID   UserID     `json:"publisher_id"`
	PublisherName string     `json:"publisher_name"`
	RoomID        RoomID     `json:"room_id"`
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// LatestActivePerPublisher reduces a session list to one active session per
// publisher, keeping the most recently created when duplicates exist.
// Duplicates should not happen, but transient violations of the exclusivity
// invariant must be tolerated by readers.
func LatestActivePerPublisher(sessions []*StreamSession) map[UserID]*StreamSession {
	latest := make(map[UserID]*StreamSession, len(sessions))
	for _, s := range sessions {
		if !s.Active {
			continue
		}
		if cur, ok := latest[s.PublisherID]; !ok || s.CreatedAt.After(cur.CreatedAt) {
			latest[s.PublisherID] = s
		}
	}
	return latest
}
