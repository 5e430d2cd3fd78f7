package rtc

import (
	"context"
	"fmt"
	"sync"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// client is one connection to the hub. Implements the transport client port.
type client struct {
	hub *Hub

	mu            sync.Mutex
	joined        bool
	room          domain.RoomID
	uid           uint32
	onPublished   func(user ports.RemoteUser, kind ports.MediaKind)
	onUnpublished func(user ports.RemoteUser, kind ports.MediaKind)
}

func (c *client) Join(ctx context.Context, room domain.RoomID, token string, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return fmt.Errorf("client already joined room %s", c.room)
	}
	c.mu.Unlock()

	if err := c.hub.join(c, room, token, uid); err != nil {
		return err
	}

	c.mu.Lock()
	c.joined = true
	c.room = room
	c.uid = uid
	c.mu.Unlock()
	return nil
}

func (c *client) Publish(ctx context.Context, tracks ...ports.LocalTrack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	room, uid, joined := c.session()
	if !joined {
		return fmt.Errorf("client not joined")
	}
	return c.hub.publish(room, uid, tracks)
}

func (c *client) Unpublish(ctx context.Context, tracks ...ports.LocalTrack) error {
	room, uid, joined := c.session()
	if !joined {
		return nil
	}
	c.hub.unpublish(room, uid, tracks)
	return nil
}

func (c *client) Subscribe(ctx context.Context, user ports.RemoteUser, kind ports.MediaKind) (ports.RemoteTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	room, uid, joined := c.session()
	if !joined {
		return nil, fmt.Errorf("client not joined")
	}
	return c.hub.subscribe(room, uid, user, kind)
}

func (c *client) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	room, uid := c.room, c.uid
	c.joined = false
	c.room = ""
	c.uid = 0
	c.mu.Unlock()

	c.hub.leave(room, uid)
	return nil
}

func (c *client) OnUserPublished(fn func(user ports.RemoteUser, kind ports.MediaKind)) {
	c.mu.Lock()
	c.onPublished = fn
	room, uid, joined := c.room, c.uid, c.joined
	c.mu.Unlock()

	// Tracks published before the handler existed are replayed so the
	// subscriber does not miss an already-live stream.
	if fn != nil && joined {
		c.hub.replayPublications(room, uid)
	}
}

func (c *client) OnUserUnpublished(fn func(user ports.RemoteUser, kind ports.MediaKind)) {
	c.mu.Lock()
	c.onUnpublished = fn
	c.mu.Unlock()
}

func (c *client) ClearHandlers() {
	c.mu.Lock()
	c.onPublished = nil
	c.onUnpublished = nil
	c.mu.Unlock()
}

func (c *client) publishedHandler() func(user ports.RemoteUser, kind ports.MediaKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onPublished
}

func (c *client) unpublishedHandler() func(user ports.RemoteUser, kind ports.MediaKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onUnpublished
}

func (c *client) session() (domain.RoomID, uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.uid, c.joined
}
