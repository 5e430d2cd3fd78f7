package ports

import (
	"context"

	"streamgate/internal/core/domain"
)

// MediaKind identifies the media carried by a track.
type MediaKind string

const (
	MediaAudio  MediaKind = "audio"
	MediaVideo  MediaKind = "video"
	MediaScreen MediaKind = "screen"
)

// RemoteUser identifies another participant on the transport.
type RemoteUser struct {
	UID uint32
}

// LocalTrack is a track this process captures and publishes.
type LocalTrack interface {
	Kind() MediaKind
	SetEnabled(enabled bool)
	Stop() error
	Close() error
}

// RemoteTrack is a subscribed track from another participant.
type RemoteTrack interface {
	Kind() MediaKind
	// Play starts consuming the track into the given sink. Passing a nil
	// sink discards the media but keeps the subscription alive.
	Play(sink TrackSink) error
	SetVolume(volume float64)
	Stop() error
}

// TrackSink consumes media from a playing remote track.
type TrackSink interface {
	Write(kind MediaKind, payload []byte) error
}

// Transport abstracts the third-party real-time media network. The network
// itself is externally owned; implementations adapt a hosted SDK or the
// embedded RTC backend.
type Transport interface {
	// CreateClient creates an unjoined session handle. At most one live
	// client per process is the caller's responsibility (the media session
	// manager enforces it).
	CreateClient(ctx context.Context) (TransportClient, error)
}

// TransportClient is one connection to the media network. Event handlers
// registered via the On* methods fire on the transport's own goroutines and
// must not block.
type TransportClient interface {
	Join(ctx context.Context, room domain.RoomID, token string, uid uint32) error
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Unpublish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, user RemoteUser, kind MediaKind) (RemoteTrack, error)
	Leave(ctx context.Context) error

	OnUserPublished(fn func(user RemoteUser, kind MediaKind))
	OnUserUnpublished(fn func(user RemoteUser, kind MediaKind))
	// ClearHandlers removes every registered event handler. Called during
	// teardown so a prior channel's events never reach a new session.
	ClearHandlers()
}

// CaptureDevice produces local tracks for a publisher join. Screen capture
// may be unavailable or denied; callers fall back to microphone-only before
// failing the join.
type CaptureDevice interface {
	CaptureScreen(ctx context.Context) (video LocalTrack, audio LocalTrack, err error)
	CaptureMicrophone(ctx context.Context) (LocalTrack, error)
}
