package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewUserID generates a unique user id.
func NewUserID() string {
	return uuid.NewString()
}

// NewPermissionID generates a unique permission id.
func NewPermissionID() string {
	return uuid.NewString()
}

// NewSessionID generates a unique stream session id.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRoomID generates the opaque channel identifier for one broadcast:
// "stream-<publisher>-<unix>-<rand>". The publisher component keeps room
// names debuggable; the suffix guarantees uniqueness across restarts.
func NewRoomID(publisherID string) string {
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("stream-%s-%d-%s", publisherID, time.Now().Unix(), hex.EncodeToString(b))
}

// NewDeviceSessionID generates the opaque token the single-device guard
// stamps on a subscriber profile at login.
func NewDeviceSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewRequestID generates a per-request identifier for logging.
func NewRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
