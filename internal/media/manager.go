package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/core/services"
	"streamgate/pkg/circuitbreaker"
	"streamgate/pkg/retry"

	"go.uber.org/zap"
)

// State names the lifecycle phase of the media session manager.
type State string

const (
	StateIdle            State = "idle"
	StateJoining         State = "joining"
	StateJoinedPublisher State = "joined_publisher"
	StateJoinedAudience  State = "joined_audience"
	StateLeaving         State = "leaving"
)

// Config tunes the media session lifecycle.
type Config struct {
	// JoinTimeout bounds how long a transport join may take before the
	// attempt is abandoned and torn down.
	JoinTimeout time.Duration

	// SettleDelay is the pause between tearing down a previous channel and
	// joining a new one, giving the transport time to release resources.
	SettleDelay time.Duration

	// VideoEnabled selects the full variant. When false the manager runs
	// audio-only: no screen capture, no video subscriptions.
	VideoEnabled bool
}

// Manager owns the single media session this process may hold. Joins and
// leaves are serialized through a one-slot guard: a second caller awaits the
// slot instead of failing, and any session still up when the slot is won is
// torn down before the new join proceeds.
type Manager struct {
	transport ports.Transport
	capture   ports.CaptureDevice
	tokens    ports.TokenMinter
	metrics   *services.MetricsService
	logger    *zap.SugaredLogger
	cfg       Config

	breaker *circuitbreaker.Breaker

	// slot is the join guard. Held for the full duration of every join,
	// leave, and track mutation.
	slot chan struct{}

	mu            sync.Mutex
	state         State
	client        ports.TransportClient
	room          domain.RoomID
	sessionCancel context.CancelFunc
	micTrack      ports.LocalTrack
	screenTracks  []ports.LocalTrack
	remoteTracks  map[uint32]map[ports.MediaKind]ports.RemoteTrack
}

func NewManager(
	transport ports.Transport,
	capture ports.CaptureDevice,
	tokens ports.TokenMinter,
	metrics *services.MetricsService,
	cfg Config,
	logger *zap.SugaredLogger,
) *Manager {
	return &Manager{
		transport: transport,
		capture:   capture,
		tokens:    tokens,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
		slot:      make(chan struct{}, 1),
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Room returns the room of the current session, empty when idle.
func (m *Manager) Room() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// HasVideoTrack reports whether the current session is publishing video.
// Always false in the audio-only variant.
func (m *Manager) HasVideoTrack() bool {
	if !m.cfg.VideoEnabled {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.screenTracks {
		if t.Kind() == ports.MediaVideo || t.Kind() == ports.MediaScreen {
			return true
		}
	}
	return false
}

// JoinPublisher joins the session's room as the broadcasting side: screen
// capture with microphone fallback, tracks published to the channel.
func (m *Manager) JoinPublisher(ctx context.Context, userID domain.UserID, session *domain.StreamSession) error {
	return m.join(ctx, userID, session.RoomID, true, nil, false, false)
}

// JoinAudience joins the stream's room as the watching side. Remote tracks
// are subscribed as the publisher announces them and played into sink.
// Video subscription honors both the deployment variant and the
// subscriber's permission flags.
func (m *Manager) JoinAudience(ctx context.Context, userID domain.UserID, stream domain.WatchableStream, sink ports.TrackSink) error {
	wantVideo := m.cfg.VideoEnabled && stream.AllowVideo
	return m.join(ctx, userID, stream.RoomID, false, sink, wantVideo, stream.AllowAudio)
}

func (m *Manager) join(ctx context.Context, userID domain.UserID, room domain.RoomID, publisher bool, sink ports.TrackSink, wantVideo, wantAudio bool) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	// The previous session, if any, comes down before the new one goes up.
	if m.currentState() != StateIdle {
		m.teardown(ctx)
		if err := m.settle(ctx); err != nil {
			return err
		}
	}

	m.setState(StateJoining)

	err := m.connect(ctx, userID, room, publisher, sink, wantVideo, wantAudio)
	if err != nil {
		m.teardown(ctx)
		m.metrics.RecordMediaJoinFailure()
		return err
	}

	// The caller may have given up while we were connecting. Committing a
	// joined state nobody wants would leak the channel, so check before
	// commit and unwind if so.
	if ctx.Err() != nil {
		m.teardown(ctx)
		return ctx.Err()
	}

	if publisher {
		m.setState(StateJoinedPublisher)
	} else {
		m.setState(StateJoinedAudience)
	}
	m.metrics.RecordMediaJoin()
	m.logger.Infow("media session established",
		"room_id", room,
		"publisher", publisher,
	)
	return nil
}

func (m *Manager) connect(ctx context.Context, userID domain.UserID, room domain.RoomID, publisher bool, sink ports.TrackSink, wantVideo, wantAudio bool) error {
	token, err := m.tokens.MintRTCToken(userID, room, publisher)
	if err != nil {
		return &JoinError{Room: room, Err: err}
	}

	var client ports.TransportClient
	err = m.breaker.Execute(func() error {
		var cerr error
		client, cerr = m.transport.CreateClient(ctx)
		return cerr
	})
	if err != nil {
		return &JoinError{Room: room, Err: err}
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	joinCtx, cancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	defer cancel()
	if err := client.Join(joinCtx, room, token.Token, token.UID); err != nil {
		sessionCancel()
		_ = client.Leave(context.WithoutCancel(ctx))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &JoinError{Room: room, Err: ErrJoinTimeout}
		}
		return &JoinError{Room: room, Err: err}
	}

	m.mu.Lock()
	m.client = client
	m.room = room
	m.sessionCancel = sessionCancel
	m.remoteTracks = make(map[uint32]map[ports.MediaKind]ports.RemoteTrack)
	m.mu.Unlock()

	if publisher {
		return m.publishLocalTracks(ctx, room)
	}
	m.registerAudienceHandlers(sessionCtx, sink, wantVideo, wantAudio)
	return nil
}

// publishLocalTracks captures and publishes the broadcast media. Screen
// capture failure is survivable: the session degrades to microphone-only
// rather than failing the join.
func (m *Manager) publishLocalTracks(ctx context.Context, room domain.RoomID) error {
	var tracks []ports.LocalTrack

	if m.cfg.VideoEnabled {
		video, audio, err := m.capture.CaptureScreen(ctx)
		if err != nil {
			m.logger.Warnw("screen capture unavailable, falling back to microphone",
				"room_id", room,
				"error", err,
			)
		} else {
			if video != nil {
				tracks = append(tracks, video)
			}
			if audio != nil {
				tracks = append(tracks, audio)
			}
		}
	}

	if len(tracks) == 0 {
		mic, err := m.capture.CaptureMicrophone(ctx)
		if err != nil {
			return &JoinError{Room: room, Err: fmt.Errorf("no capturable media: %w", err)}
		}
		tracks = append(tracks, mic)
		m.mu.Lock()
		m.micTrack = mic
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		m.screenTracks = tracks
		m.mu.Unlock()
	}

	client := m.currentClient()
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Publish(ctx, tracks...)
	})
	if err != nil {
		return &JoinError{Room: room, Err: fmt.Errorf("publish failed: %w", err)}
	}
	return nil
}

// registerAudienceHandlers wires auto-subscription. Transport handlers must
// not block, so the subscribe itself runs on a session-scoped goroutine.
func (m *Manager) registerAudienceHandlers(sessionCtx context.Context, sink ports.TrackSink, wantVideo, wantAudio bool) {
	client := m.currentClient()

	client.OnUserPublished(func(user ports.RemoteUser, kind ports.MediaKind) {
		switch kind {
		case ports.MediaAudio:
			if !wantAudio {
				return
			}
		case ports.MediaVideo, ports.MediaScreen:
			if !wantVideo {
				return
			}
		}

		go func() {
			if sessionCtx.Err() != nil {
				return
			}
			track, err := client.Subscribe(sessionCtx, user, kind)
			if err != nil {
				m.logger.Warnw("failed to subscribe remote track",
					"uid", user.UID,
					"kind", kind,
					"error", err,
				)
				return
			}
			if err := track.Play(sink); err != nil {
				m.logger.Warnw("failed to play remote track",
					"uid", user.UID,
					"kind", kind,
					"error", err,
				)
				_ = track.Stop()
				return
			}
			m.rememberRemote(user.UID, kind, track)
		}()
	})

	client.OnUserUnpublished(func(user ports.RemoteUser, kind ports.MediaKind) {
		m.forgetRemote(user.UID, kind)
	})
}

// Leave tears down the current session. A no-op when idle.
func (m *Manager) Leave(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.currentState() == StateIdle {
		return nil
	}
	m.teardown(ctx)
	return nil
}

// StartScreenShare captures the screen and publishes it mid-session.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.currentState() != StateJoinedPublisher {
		return ErrNotJoined
	}
	if !m.cfg.VideoEnabled {
		return fmt.Errorf("screen share disabled in audio-only deployment")
	}
	if len(m.currentScreenTracks()) > 0 {
		return nil
	}

	video, audio, err := m.capture.CaptureScreen(ctx)
	if err != nil {
		return fmt.Errorf("screen capture failed: %w", err)
	}

	var tracks []ports.LocalTrack
	if video != nil {
		tracks = append(tracks, video)
	}
	if audio != nil {
		tracks = append(tracks, audio)
	}

	client := m.currentClient()
	if err := client.Publish(ctx, tracks...); err != nil {
		for _, t := range tracks {
			_ = t.Close()
		}
		return fmt.Errorf("failed to publish screen tracks: %w", err)
	}

	m.mu.Lock()
	m.screenTracks = tracks
	m.mu.Unlock()
	return nil
}

// StopScreenShare unpublishes and releases the screen tracks.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.currentState() != StateJoinedPublisher {
		return ErrNotJoined
	}

	m.mu.Lock()
	tracks := m.screenTracks
	m.screenTracks = nil
	m.mu.Unlock()
	if len(tracks) == 0 {
		return nil
	}

	client := m.currentClient()
	if err := client.Unpublish(ctx, tracks...); err != nil {
		m.logger.Warnw("failed to unpublish screen tracks", "error", err)
	}
	for _, t := range tracks {
		_ = t.Stop()
		_ = t.Close()
	}
	return nil
}

// EnableMic unmutes the microphone track.
func (m *Manager) EnableMic(ctx context.Context) error {
	return m.setMicEnabled(ctx, true)
}

// DisableMic mutes the microphone track without unpublishing it.
func (m *Manager) DisableMic(ctx context.Context) error {
	return m.setMicEnabled(ctx, false)
}

func (m *Manager) setMicEnabled(ctx context.Context, enabled bool) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.currentState() != StateJoinedPublisher {
		return ErrNotJoined
	}
	m.mu.Lock()
	mic := m.micTrack
	m.mu.Unlock()
	if mic == nil {
		return ErrNoMicrophone
	}
	mic.SetEnabled(enabled)
	return nil
}

// teardown releases everything the current session holds, logging rather
// than failing on best-effort cleanup errors. Caller must hold the slot.
func (m *Manager) teardown(ctx context.Context) {
	m.setState(StateLeaving)

	m.mu.Lock()
	client := m.client
	cancel := m.sessionCancel
	mic := m.micTrack
	screen := m.screenTracks
	remotes := m.remoteTracks
	room := m.room
	m.client = nil
	m.sessionCancel = nil
	m.micTrack = nil
	m.screenTracks = nil
	m.remoteTracks = nil
	m.room = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Teardown must run even when the caller's ctx is already cancelled.
	cleanupCtx := context.WithoutCancel(ctx)

	if client != nil {
		client.ClearHandlers()
	}

	for _, tracksByKind := range remotes {
		for _, track := range tracksByKind {
			if err := track.Stop(); err != nil {
				m.logger.Warnw("failed to stop remote track", "error", err)
			}
		}
	}

	var local []ports.LocalTrack
	local = append(local, screen...)
	if mic != nil {
		local = append(local, mic)
	}
	if client != nil && len(local) > 0 {
		if err := client.Unpublish(cleanupCtx, local...); err != nil {
			m.logger.Warnw("failed to unpublish local tracks", "error", err)
		}
	}
	for _, track := range local {
		if err := track.Stop(); err != nil {
			m.logger.Warnw("failed to stop local track", "error", err)
		}
		if err := track.Close(); err != nil {
			m.logger.Warnw("failed to close local track", "error", err)
		}
	}

	if client != nil {
		if err := client.Leave(cleanupCtx); err != nil {
			m.logger.Warnw("failed to leave media channel", "error", err)
		}
		m.logger.Infow("media session torn down", "room_id", room)
	}

	m.setState(StateIdle)
}

func (m *Manager) settle(ctx context.Context) error {
	if m.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire takes the single join slot, waiting rather than erroring when
// another lifecycle operation is in flight.
func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.slot
}

func (m *Manager) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) currentClient() ports.TransportClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) currentScreenTracks() []ports.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenTracks
}

func (m *Manager) rememberRemote(uid uint32, kind ports.MediaKind, track ports.RemoteTrack) {
	m.mu.Lock()
	if m.remoteTracks == nil {
		// Session already torn down; the track is orphaned.
		m.mu.Unlock()
		_ = track.Stop()
		return
	}
	if m.remoteTracks[uid] == nil {
		m.remoteTracks[uid] = make(map[ports.MediaKind]ports.RemoteTrack)
	}
	m.remoteTracks[uid][kind] = track
	m.mu.Unlock()
}

func (m *Manager) forgetRemote(uid uint32, kind ports.MediaKind) {
	m.mu.Lock()
	track := m.remoteTracks[uid][kind]
	if track != nil {
		delete(m.remoteTracks[uid], kind)
	}
	m.mu.Unlock()

	if track != nil {
		if err := track.Stop(); err != nil {
			m.logger.Warnw("failed to stop unpublished remote track", "error", err)
		}
	}
}
