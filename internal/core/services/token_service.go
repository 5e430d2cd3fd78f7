package services

import (
	"fmt"
	"hash/fnv"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

// MediaTokenConfig configures the RTC channel token minter.
type MediaTokenConfig struct {
	AppID  string
	Secret string
	TTL    time.Duration
}

// ConferenceTokenConfig configures the video conference token minter.
type ConferenceTokenConfig struct {
	Domain string
	AppID  string
	Secret string
	TTL    time.Duration
}

type tokenService struct {
	media      MediaTokenConfig
	conference ConferenceTokenConfig
}

func NewTokenService(media MediaTokenConfig, conference ConferenceTokenConfig) ports.TokenMinter {
	return &tokenService{
		media:      media,
		conference: conference,
	}
}

// MintRTCToken mints the short-lived HMAC credential for joining a media
// channel. The uid is derived from the user id, so the same user always
// maps to the same numeric channel identity.
func (s *tokenService) MintRTCToken(userID domain.UserID, room domain.RoomID, publisher bool) (*ports.RTCToken, error) {
	if s.media.Secret == "" {
		return nil, fmt.Errorf("media token secret not configured")
	}

	role := "subscriber"
	if publisher {
		role = "publisher"
	}
	uid := ChannelUID(userID)

	now := time.Now()
	claims := jwt.MapClaims{
		"app_id": s.media.AppID,
		"room":   string(room),
		"uid":    uid,
		"role":   role,
		"iat":    now.Unix(),
		"exp":    now.Add(s.media.TTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.media.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign media token: %w", err)
	}

	return &ports.RTCToken{
		Token: signed,
		UID:   uid,
		AppID: s.media.AppID,
	}, nil
}

// MintConferenceToken mints a conference room JWT in the shape the hosted
// conferencing deployment expects: issuer is the app id, subject the tenant
// domain, and the user identity rides in the context claim.
func (s *tokenService) MintConferenceToken(userID domain.UserID, displayName, roomName string) (string, error) {
	if s.conference.Secret == "" {
		return "", fmt.Errorf("conference secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  s.conference.AppID,
		"aud":  "jitsi",
		"sub":  s.conference.Domain,
		"room": roomName,
		"iat":  now.Unix(),
		"exp":  now.Add(s.conference.TTL).Unix(),
		"context": map[string]interface{}{
			"user": map[string]interface{}{
				"id":   string(userID),
				"name": displayName,
			},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.conference.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign conference token: %w", err)
	}
	return signed, nil
}

// ChannelUID maps a user id onto the nonzero 32-bit uid space the media
// channel protocol requires. Zero means "let the server assign", which
// would break rejoin identity, so it is avoided.
func ChannelUID(userID domain.UserID) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	uid := h.Sum32()
	if uid == 0 {
		uid = 1
	}
	return uid
}
