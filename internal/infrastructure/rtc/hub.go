// Package rtc is the embedded media backend: an in-process RTP relay that
// implements the transport port without an external media cloud. Intended
// for single-node deployments and development; production deployments swap
// in an adapter for a hosted media network.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/rtcp"
	"go.uber.org/zap"
)

// Config configures the embedded hub.
type Config struct {
	// TokenSecret verifies the HMAC channel tokens minted by the token
	// service. Joins with an unverifiable token are rejected.
	TokenSecret string
}

// Hub is the in-process media broker. One Hub serves all rooms.
type Hub struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

type room struct {
	id           domain.RoomID
	participants map[uint32]*participant
}

type participant struct {
	uid       uint32
	client    *client
	published map[ports.MediaKind]*LocalRTPTrack
	pliCount  int
}

func NewHub(cfg Config, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		rooms:  make(map[domain.RoomID]*room),
	}
}

// CreateClient returns an unjoined session handle.
func (h *Hub) CreateClient(ctx context.Context) (ports.TransportClient, error) {
	return &client{hub: h}, nil
}

func (h *Hub) verifyToken(token string, roomID domain.RoomID, uid uint32) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(h.cfg.TokenSecret), nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("channel token rejected: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("channel token has no claims")
	}
	if claimedRoom, _ := claims["room"].(string); claimedRoom != string(roomID) {
		return fmt.Errorf("channel token is for room %q, not %q", claimedRoom, roomID)
	}
	if claimedUID, ok := claims["uid"].(float64); ok && uint32(claimedUID) != uid {
		return fmt.Errorf("channel token uid mismatch")
	}
	return nil
}

func (h *Hub) join(c *client, roomID domain.RoomID, token string, uid uint32) error {
	if err := h.verifyToken(token, roomID, uid); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		r = &room{
			id:           roomID,
			participants: make(map[uint32]*participant),
		}
		h.rooms[roomID] = r
	}

	if prior := r.participants[uid]; prior != nil {
		// A rejoin with the same uid supersedes the earlier connection.
		h.evictLocked(r, prior)
	}

	r.participants[uid] = &participant{
		uid:       uid,
		client:    c,
		published: make(map[ports.MediaKind]*LocalRTPTrack),
	}

	h.logger.Infow("participant joined room",
		"room_id", roomID,
		"uid", uid,
		"participants", len(r.participants),
	)
	return nil
}

func (h *Hub) leave(roomID domain.RoomID, uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		return
	}
	p := r.participants[uid]
	if p == nil {
		return
	}
	h.evictLocked(r, p)

	if len(r.participants) == 0 {
		delete(h.rooms, roomID)
	}
	h.logger.Infow("participant left room", "room_id", roomID, "uid", uid)
}

func (h *Hub) evictLocked(r *room, p *participant) {
	for kind, track := range p.published {
		_ = track.Close()
		h.announceUnpublishedLocked(r, p.uid, kind)
	}
	delete(r.participants, p.uid)
}

func (h *Hub) publish(roomID domain.RoomID, uid uint32, tracks []ports.LocalTrack) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil || r.participants[uid] == nil {
		return fmt.Errorf("not joined to room %s", roomID)
	}
	p := r.participants[uid]

	for _, t := range tracks {
		local, ok := t.(*LocalRTPTrack)
		if !ok {
			return fmt.Errorf("track %s was not produced by this backend", t.Kind())
		}
		p.published[local.Kind()] = local
		h.announcePublishedLocked(r, uid, local.Kind())
	}
	return nil
}

func (h *Hub) unpublish(roomID domain.RoomID, uid uint32, tracks []ports.LocalTrack) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil || r.participants[uid] == nil {
		return
	}
	p := r.participants[uid]

	for _, t := range tracks {
		if _, ok := p.published[t.Kind()]; ok {
			delete(p.published, t.Kind())
			h.announceUnpublishedLocked(r, uid, t.Kind())
		}
	}
}

func (h *Hub) subscribe(roomID domain.RoomID, subscriberUID uint32, user ports.RemoteUser, kind ports.MediaKind) (ports.RemoteTrack, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := h.rooms[roomID]
	if r == nil {
		return nil, fmt.Errorf("room %s not found", roomID)
	}
	if r.participants[subscriberUID] == nil {
		return nil, fmt.Errorf("not joined to room %s", roomID)
	}
	publisher := r.participants[user.UID]
	if publisher == nil {
		return nil, fmt.Errorf("participant %d not in room %s", user.UID, roomID)
	}
	track := publisher.published[kind]
	if track == nil {
		return nil, fmt.Errorf("participant %d has no %s track", user.UID, kind)
	}

	pli := func() { h.requestKeyframe(roomID, user.UID) }
	return newRemoteTrack(track, pli), nil
}

// requestKeyframe carries a picture loss indication to the publisher.
// The embedded relay cannot re-encode, so the PLI is accounted and logged;
// a capture device watching these counts can force a keyframe.
func (h *Hub) requestKeyframe(roomID domain.RoomID, publisherUID uint32) {
	pkt := &rtcp.PictureLossIndication{MediaSSRC: publisherUID}

	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r == nil {
		return
	}
	p := r.participants[publisherUID]
	if p == nil {
		return
	}
	p.pliCount++
	if p.pliCount%10 == 1 {
		h.logger.Debugw("picture loss indication",
			"room_id", roomID,
			"uid", publisherUID,
			"ssrc", pkt.MediaSSRC,
			"total", p.pliCount,
		)
	}
}

// announcePublishedLocked fires OnUserPublished on every other participant.
// Handlers run on their own goroutine; they must not block regardless.
func (h *Hub) announcePublishedLocked(r *room, uid uint32, kind ports.MediaKind) {
	for _, other := range r.participants {
		if other.uid == uid {
			continue
		}
		if fn := other.client.publishedHandler(); fn != nil {
			go fn(ports.RemoteUser{UID: uid}, kind)
		}
	}
}

func (h *Hub) announceUnpublishedLocked(r *room, uid uint32, kind ports.MediaKind) {
	for _, other := range r.participants {
		if other.uid == uid {
			continue
		}
		if fn := other.client.unpublishedHandler(); fn != nil {
			go fn(ports.RemoteUser{UID: uid}, kind)
		}
	}
}

// replayPublications re-announces current publications to one late-arriving
// participant, so a handler registered after Join still learns about tracks
// that were already up.
func (h *Hub) replayPublications(roomID domain.RoomID, toUID uint32) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := h.rooms[roomID]
	if r == nil {
		return
	}
	target := r.participants[toUID]
	if target == nil {
		return
	}
	fn := target.client.publishedHandler()
	if fn == nil {
		return
	}
	for _, p := range r.participants {
		if p.uid == toUID {
			continue
		}
		for kind := range p.published {
			go fn(ports.RemoteUser{UID: p.uid}, kind)
		}
	}
}
