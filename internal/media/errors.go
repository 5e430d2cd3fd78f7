package media

import (
	"errors"
	"fmt"

	"streamgate/internal/core/domain"
)

var (
	// ErrNotJoined is returned by track controls when no media session is
	// established.
	ErrNotJoined = errors.New("no active media session")

	// ErrJoinTimeout is returned when the transport does not confirm the
	// join within the configured deadline.
	ErrJoinTimeout = errors.New("media join timed out")

	// ErrNoMicrophone is returned by mic controls when the current session
	// has no microphone track.
	ErrNoMicrophone = errors.New("no microphone track in current session")
)

// JoinError wraps a failed join attempt with the room it targeted.
type JoinError struct {
	Room domain.RoomID
	Err  error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("failed to join room %s: %v", e.Room, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}
