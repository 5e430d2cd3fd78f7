package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestActivePerPublisher(t *testing.T) {
	base := time.Now()

	sessions := []*StreamSession{
		{ID: "s1", PublisherID: "pub-a", Active: true, CreatedAt: base},
		{ID: "s2", PublisherID: "pub-a", Active: true, CreatedAt: base.Add(time.Minute)},
		{ID: "s3", PublisherID: "pub-a", Active: false, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "s4", PublisherID: "pub-b", Active: true, CreatedAt: base},
	}

	latest := LatestActivePerPublisher(sessions)

	assert.Len(t, latest, 2)
	assert.Equal(t, SessionID("s2"), latest["pub-a"].ID, "the newest active session wins; ended ones are ignored")
	assert.Equal(t, SessionID("s4"), latest["pub-b"].ID)
}

func TestLatestActivePerPublisher_Empty(t *testing.T) {
	assert.Empty(t, LatestActivePerPublisher(nil))
	assert.Empty(t, LatestActivePerPublisher([]*StreamSession{
		{ID: "s1", PublisherID: "pub-a", Active: false},
	}))
}

func TestAvailabilitySnapshot_Find(t *testing.T) {
	snap := &AvailabilitySnapshot{
		SubscriberID: "sub-1",
		Streams: []WatchableStream{
			{PermissionID: "perm-1", RoomID: "room-1"},
			{PermissionID: "perm-2", RoomID: "room-2"},
		},
	}

	ws, ok := snap.Find("perm-2")
	assert.True(t, ok)
	assert.Equal(t, RoomID("room-2"), ws.RoomID)

	_, ok = snap.Find("perm-gone")
	assert.False(t, ok)
}

func TestUserProfile_Name(t *testing.T) {
	u := &UserProfile{Email: "a@b.com", DisplayName: "Alice"}
	assert.Equal(t, "Alice", u.Name())

	u.DisplayName = ""
	assert.Equal(t, "a@b.com", u.Name())
}

func TestUserProfile_SingleDeviceEnforced(t *testing.T) {
	assert.True(t, (&UserProfile{Role: RoleSubscriber}).SingleDeviceEnforced())
	assert.False(t, (&UserProfile{Role: RolePublisher}).SingleDeviceEnforced())
	assert.False(t, (&UserProfile{Role: RoleAdmin}).SingleDeviceEnforced())
}
