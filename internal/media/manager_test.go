package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTrack struct {
	mu      sync.Mutex
	kind    ports.MediaKind
	enabled bool
	stopped bool
	closed  bool
}

func (t *fakeTrack) Kind() ports.MediaKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeRemoteTrack struct {
	mu      sync.Mutex
	kind    ports.MediaKind
	playing bool
	stopped bool
}

func (t *fakeRemoteTrack) Kind() ports.MediaKind { return t.kind }

func (t *fakeRemoteTrack) Play(sink ports.TrackSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = true
	return nil
}

func (t *fakeRemoteTrack) SetVolume(volume float64) {}

func (t *fakeRemoteTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

type fakeClient struct {
	mu sync.Mutex

	joinBlocks    bool
	joinGate      chan struct{} // when set, Join waits for it to close
	joinHook      func()        // runs inside Join, before it returns
	joinedRoom    domain.RoomID
	published     []ports.LocalTrack
	unpublished   []ports.LocalTrack
	subscribed    []ports.MediaKind
	leaveCalls    int
	cleared       bool
	onPublished   func(user ports.RemoteUser, kind ports.MediaKind)
	onUnpublished func(user ports.RemoteUser, kind ports.MediaKind)
}

func (c *fakeClient) Join(ctx context.Context, room domain.RoomID, token string, uid uint32) error {
	if c.joinBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.joinGate != nil {
		select {
		case <-c.joinGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.joinHook != nil {
		c.joinHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinedRoom = room
	return nil
}

func (c *fakeClient) Publish(ctx context.Context, tracks ...ports.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, tracks...)
	return nil
}

func (c *fakeClient) Unpublish(ctx context.Context, tracks ...ports.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpublished = append(c.unpublished, tracks...)
	return nil
}

func (c *fakeClient) Subscribe(ctx context.Context, user ports.RemoteUser, kind ports.MediaKind) (ports.RemoteTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, kind)
	return &fakeRemoteTrack{kind: kind}, nil
}

func (c *fakeClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveCalls++
	return nil
}

func (c *fakeClient) OnUserPublished(fn func(user ports.RemoteUser, kind ports.MediaKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPublished = fn
}

func (c *fakeClient) OnUserUnpublished(fn func(user ports.RemoteUser, kind ports.MediaKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnpublished = fn
}

func (c *fakeClient) ClearHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPublished = nil
	c.onUnpublished = nil
	c.cleared = true
}

func (c *fakeClient) firePublished(uid uint32, kind ports.MediaKind) {
	c.mu.Lock()
	fn := c.onPublished
	c.mu.Unlock()
	if fn != nil {
		fn(ports.RemoteUser{UID: uid}, kind)
	}
}

func (c *fakeClient) subscribedKinds() []ports.MediaKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.MediaKind, len(c.subscribed))
	copy(out, c.subscribed)
	return out
}

func (c *fakeClient) leaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaveCalls
}

type fakeTransport struct {
	mu      sync.Mutex
	clients []*fakeClient
	nextErr error
}

func (tr *fakeTransport) CreateClient(ctx context.Context) (ports.TransportClient, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.nextErr != nil {
		return nil, tr.nextErr
	}
	c := &fakeClient{}
	tr.clients = append(tr.clients, c)
	return c, nil
}

func (tr *fakeTransport) client(i int) *fakeClient {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.clients[i]
}

type fakeCapture struct {
	mu          sync.Mutex
	screenErr   error
	micErr      error
	screenCalls int
	micCalls    int
}

func (c *fakeCapture) CaptureScreen(ctx context.Context) (ports.LocalTrack, ports.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenCalls++
	if c.screenErr != nil {
		return nil, nil, c.screenErr
	}
	return &fakeTrack{kind: ports.MediaScreen, enabled: true}, &fakeTrack{kind: ports.MediaAudio, enabled: true}, nil
}

func (c *fakeCapture) CaptureMicrophone(ctx context.Context) (ports.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micCalls++
	if c.micErr != nil {
		return nil, c.micErr
	}
	return &fakeTrack{kind: ports.MediaAudio, enabled: true}, nil
}

type fakeMinter struct{ err error }

func (m *fakeMinter) MintRTCToken(userID domain.UserID, room domain.RoomID, publisher bool) (*ports.RTCToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &ports.RTCToken{Token: "channel-token", UID: 42, AppID: "test"}, nil
}

func (m *fakeMinter) MintConferenceToken(userID domain.UserID, displayName, roomName string) (string, error) {
	return "conference-token", nil
}

type fixture struct {
	transport *fakeTransport
	capture   *fakeCapture
	metrics   *services.MetricsService
	manager   *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = time.Second
	}
	f := &fixture{
		transport: &fakeTransport{},
		capture:   &fakeCapture{},
		metrics:   services.NewMetricsService(),
	}
	f.manager = NewManager(f.transport, f.capture, &fakeMinter{}, f.metrics, cfg, zaptest.NewLogger(t).Sugar())
	return f
}

func publisherSession(room domain.RoomID) *domain.StreamSession {
	return &domain.StreamSession{ID: "s1", PublisherID: "pub-1", RoomID: room, Active: true, CreatedAt: time.Now()}
}

func audienceStream(room domain.RoomID, video, audio bool) domain.WatchableStream {
	return domain.WatchableStream{PermissionID: "p1", PublisherID: "pub-1", RoomID: room, AllowVideo: video, AllowAudio: audio}
}

func TestManager_JoinPublisherWithScreen(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	ctx := context.Background()

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))

	assert.Equal(t, StateJoinedPublisher, f.manager.State())
	assert.Equal(t, domain.RoomID("room-1"), f.manager.Room())
	assert.True(t, f.manager.HasVideoTrack())

	client := f.transport.client(0)
	assert.Equal(t, domain.RoomID("room-1"), client.joinedRoom)
	assert.Len(t, client.published, 2, "screen video plus screen audio")
	assert.Equal(t, int64(1), f.metrics.Snapshot().MediaJoins)

	// Screen-only sessions have no microphone to toggle.
	assert.ErrorIs(t, f.manager.EnableMic(ctx), ErrNoMicrophone)
}

func TestManager_ScreenCaptureFallsBackToMicrophone(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	f.capture.screenErr = errors.New("no display")
	ctx := context.Background()

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))

	assert.Equal(t, StateJoinedPublisher, f.manager.State())
	assert.False(t, f.manager.HasVideoTrack())

	client := f.transport.client(0)
	require.Len(t, client.published, 1)
	assert.Equal(t, ports.MediaAudio, client.published[0].Kind())

	// The fallback microphone is a proper mic track: mute works.
	require.NoError(t, f.manager.DisableMic(ctx))
	assert.False(t, client.published[0].(*fakeTrack).isEnabled())
	require.NoError(t, f.manager.EnableMic(ctx))
	assert.True(t, client.published[0].(*fakeTrack).isEnabled())
}

func TestManager_AudioOnlyVariantNeverCapturesScreen(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: false})
	ctx := context.Background()

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))

	assert.Zero(t, f.capture.screenCalls)
	assert.Equal(t, 1, f.capture.micCalls)
	assert.False(t, f.manager.HasVideoTrack())

	assert.Error(t, f.manager.StartScreenShare(ctx), "screen share is unavailable in the audio-only variant")
}

func TestManager_NoCapturableMediaFailsJoin(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: false})
	f.capture.micErr = errors.New("no input device")
	ctx := context.Background()

	err := f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1"))
	require.Error(t, err)

	var joinErr *JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, domain.RoomID("room-1"), joinErr.Room)

	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, int64(1), f.metrics.Snapshot().MediaJoinFailures)
	assert.Equal(t, 1, f.transport.client(0).leaves(), "failed joins are torn down")
}

func TestManager_SecondJoinTearsDownFirst(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: false})
	ctx := context.Background()

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))
	first := f.transport.client(0)
	mic := first.published[0].(*fakeTrack)

	require.NoError(t, f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-2", false, true), nil))

	assert.Equal(t, StateJoinedAudience, f.manager.State())
	assert.Equal(t, domain.RoomID("room-2"), f.manager.Room())

	assert.Equal(t, 1, first.leaves(), "the previous channel is left before the new join")
	assert.True(t, first.cleared, "stale handlers are cleared")
	assert.True(t, mic.isClosed(), "local tracks are released")
	assert.Equal(t, domain.RoomID("room-2"), f.transport.client(1).joinedRoom)
}

// handoffTransport gates its first client's join and records, at the moment
// the second client joins, how often the first had already been left.
type handoffTransport struct {
	mu      sync.Mutex
	gate    chan struct{}
	clients []*fakeClient

	firstLeavesAtSecondJoin int
}

func (tr *handoffTransport) CreateClient(ctx context.Context) (ports.TransportClient, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var c *fakeClient
	if len(tr.clients) == 0 {
		c = &fakeClient{joinGate: tr.gate}
	} else {
		first := tr.clients[0]
		c = &fakeClient{joinHook: func() {
			tr.mu.Lock()
			tr.firstLeavesAtSecondJoin = first.leaves()
			tr.mu.Unlock()
		}}
	}
	tr.clients = append(tr.clients, c)
	return c, nil
}

func (tr *handoffTransport) client(i int) *fakeClient {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.clients[i]
}

func (tr *handoffTransport) created() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.clients)
}

func TestManager_OverlappingJoinsEndInOneSession(t *testing.T) {
	f := newFixture(t, Config{})
	tr := &handoffTransport{gate: make(chan struct{})}
	f.manager = NewManager(tr, f.capture, &fakeMinter{}, f.metrics, Config{VideoEnabled: false, JoinTimeout: time.Second}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1"))
	}()

	// Wait until the first join is in flight inside the transport.
	require.Eventually(t, func() bool {
		return tr.created() == 1
	}, time.Second, 5*time.Millisecond)

	// Fire the second join without awaiting the first.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-2", false, true), nil)
	}()

	// The second join queues on the slot rather than running concurrently:
	// no second transport client may appear while the first is still joining.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.created(), "the second join waits for the slot")

	close(tr.gate)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	// Exactly one final joined state, belonging to the second caller.
	assert.Equal(t, StateJoinedAudience, f.manager.State())
	assert.Equal(t, domain.RoomID("room-2"), f.manager.Room())

	first := tr.client(0)
	assert.Equal(t, 1, first.leaves(), "the superseded session is torn down exactly once")
	assert.True(t, first.cleared)

	tr.mu.Lock()
	leaves := tr.firstLeavesAtSecondJoin
	tr.mu.Unlock()
	assert.Equal(t, 1, leaves, "the first channel was left before the second connected")
}

func TestManager_JoinTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// The transport never completes the join.
	tr := &blockingTransport{}
	f.manager = NewManager(tr, f.capture, &fakeMinter{}, f.metrics, Config{VideoEnabled: false, JoinTimeout: 30 * time.Millisecond}, zaptest.NewLogger(t).Sugar())

	err := f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, int64(1), f.metrics.Snapshot().MediaJoinFailures)
}

type blockingTransport struct{}

func (tr *blockingTransport) CreateClient(ctx context.Context) (ports.TransportClient, error) {
	return &fakeClient{joinBlocks: true}, nil
}

func TestManager_CallerCancellationBeforeCommit(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: false})
	ctx, cancel := context.WithCancel(context.Background())

	// The caller gives up while the transport join is still in flight. The
	// join itself succeeds, so the manager must unwind rather than commit a
	// session nobody wants.
	tr := &hookedTransport{hook: cancel}
	f.manager = NewManager(tr, f.capture, &fakeMinter{}, f.metrics, Config{VideoEnabled: false, JoinTimeout: time.Second}, zaptest.NewLogger(t).Sugar())

	err := f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-1", false, true), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 1, tr.client.leaves(), "the half-joined channel is released")
}

type hookedTransport struct {
	hook   func()
	client *fakeClient
}

func (tr *hookedTransport) CreateClient(ctx context.Context) (ports.TransportClient, error) {
	tr.client = &fakeClient{joinHook: tr.hook}
	return tr.client, nil
}

func TestManager_AudienceSubscribesByPermission(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	ctx := context.Background()

	// Audio-only grant: video announcements must be ignored.
	require.NoError(t, f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-1", false, true), nil))
	client := f.transport.client(0)

	client.firePublished(7, ports.MediaAudio)
	client.firePublished(7, ports.MediaVideo)
	client.firePublished(7, ports.MediaScreen)

	assert.Eventually(t, func() bool {
		kinds := client.subscribedKinds()
		return len(kinds) == 1 && kinds[0] == ports.MediaAudio
	}, time.Second, 10*time.Millisecond)

	// Give any stray video subscription a chance to land, then re-check.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []ports.MediaKind{ports.MediaAudio}, client.subscribedKinds())
}

func TestManager_AudienceSubscribesVideoWhenGranted(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	ctx := context.Background()

	require.NoError(t, f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-1", true, true), nil))
	client := f.transport.client(0)

	client.firePublished(7, ports.MediaAudio)
	client.firePublished(7, ports.MediaScreen)

	assert.Eventually(t, func() bool {
		return len(client.subscribedKinds()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestManager_LeaveIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: false})
	ctx := context.Background()

	require.NoError(t, f.manager.Leave(ctx), "leaving while idle is a no-op")

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))
	require.NoError(t, f.manager.Leave(ctx))
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Empty(t, f.manager.Room())

	require.NoError(t, f.manager.Leave(ctx))
	assert.Equal(t, 1, f.transport.client(0).leaves())
}

func TestManager_TrackOpsRequireJoinedPublisher(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.EnableMic(ctx), ErrNotJoined)
	assert.ErrorIs(t, f.manager.StartScreenShare(ctx), ErrNotJoined)
	assert.ErrorIs(t, f.manager.StopScreenShare(ctx), ErrNotJoined)

	require.NoError(t, f.manager.JoinAudience(ctx, "sub-1", audienceStream("room-1", true, true), nil))
	assert.ErrorIs(t, f.manager.EnableMic(ctx), ErrNotJoined, "audience sessions publish nothing")
}

func TestManager_ScreenShareLifecycle(t *testing.T) {
	f := newFixture(t, Config{VideoEnabled: true})
	f.capture.screenErr = errors.New("denied at join time")
	ctx := context.Background()

	require.NoError(t, f.manager.JoinPublisher(ctx, "pub-1", publisherSession("room-1")))
	assert.False(t, f.manager.HasVideoTrack())

	// Permission arrives later; a mid-session share now succeeds.
	f.capture.mu.Lock()
	f.capture.screenErr = nil
	f.capture.mu.Unlock()

	require.NoError(t, f.manager.StartScreenShare(ctx))
	assert.True(t, f.manager.HasVideoTrack())

	// Starting again is a no-op, not a double publish.
	client := f.transport.client(0)
	published := len(client.published)
	require.NoError(t, f.manager.StartScreenShare(ctx))
	assert.Len(t, client.published, published)

	require.NoError(t, f.manager.StopScreenShare(ctx))
	assert.False(t, f.manager.HasVideoTrack())
	assert.NotEmpty(t, client.unpublished)
}
