package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sessionFixture struct {
	sessionRepo ports.SessionRepository
	userRepo    ports.UserRepository
	metrics     *MetricsService
	svc         ports.SessionService
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		sessionRepo: memory.NewMemorySessionRepository(),
		userRepo:    memory.NewMemoryUserRepository(),
		metrics:     NewMetricsService(),
	}
	f.svc = NewSessionService(f.sessionRepo, f.userRepo, nil, f.metrics, zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	require.NoError(t, f.userRepo.Create(ctx, &domain.UserProfile{
		ID: "pub-1", Email: "pub@example.com", Role: domain.RolePublisher, Active: true,
	}))
	require.NoError(t, f.userRepo.Create(ctx, &domain.UserProfile{
		ID: "sub-1", Email: "sub@example.com", Role: domain.RoleSubscriber, Active: true,
	}))
	require.NoError(t, f.userRepo.Create(ctx, &domain.UserProfile{
		ID: "pub-off", Email: "off@example.com", Role: domain.RolePublisher, Active: false,
	}))
	return f
}

func TestSessionService_StartSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, "pub-1", "Morning show", "daily news")
	require.NoError(t, err)

	assert.True(t, session.Active)
	assert.NotEmpty(t, session.ID)
	assert.NotEmpty(t, session.RoomID)
	assert.Equal(t, "pub@example.com", session.PublisherName)
	assert.Equal(t, int64(1), f.metrics.Snapshot().SessionsStarted)
}

func TestSessionService_StartSessionRejections(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, "sub-1", "", "")
	assert.Error(t, err, "subscribers cannot publish")

	_, err = f.svc.StartSession(ctx, "pub-off", "", "")
	assert.ErrorIs(t, err, domain.ErrUserInactive)

	_, err = f.svc.StartSession(ctx, "nobody", "", "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.svc.StartSession(ctx, "pub-1", strings.Repeat("t", 101), "")
	assert.Error(t, err, "overlong titles are rejected")
}

func TestSessionService_StartDeactivatesPriorSessions(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartSession(ctx, "pub-1", "first", "")
	require.NoError(t, err)
	second, err := f.svc.StartSession(ctx, "pub-1", "second", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.RoomID, second.RoomID, "every broadcast gets a fresh room")

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	prior, err := f.svc.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, prior.Active)
	assert.NotNil(t, prior.EndedAt)
}

// failingUpdateSessionRepo rejects every Update, simulating a store whose
// deactivation writes fail while reads and inserts still work.
type failingUpdateSessionRepo struct {
	ports.SessionRepository
	updates int
}

func (r *failingUpdateSessionRepo) Update(ctx context.Context, session *domain.StreamSession) error {
	r.updates++
	return errors.New("transient store failure")
}

func TestSessionService_StartSessionNotBlockedByDeactivationFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	stale, err := f.svc.StartSession(ctx, "pub-1", "stale", "")
	require.NoError(t, err)

	// Re-wire the service over a repo whose deactivation writes fail.
	failing := &failingUpdateSessionRepo{SessionRepository: f.sessionRepo}
	svc := NewSessionService(failing, f.userRepo, nil, f.metrics, zaptest.NewLogger(t).Sugar())

	session, err := svc.StartSession(ctx, "pub-1", "fresh", "")
	require.NoError(t, err, "a failed deactivation write must not block the new session")
	assert.True(t, session.Active)
	assert.Positive(t, failing.updates, "deactivation was attempted")

	// Both sessions are active until the sweep repairs the violation.
	active, err := f.sessionRepo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	repaired, err := f.svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	leftover, err := f.svc.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, leftover.Active, "the sweep deactivates the stale session")
}

func TestSessionService_EndSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartSession(ctx, "pub-1", "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.EndSession(ctx, session.ID, "pub-1"))

	ended, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, ended.Active)
	assert.NotNil(t, ended.EndedAt)

	// Ending twice is a conflict, not a silent no-op.
	assert.ErrorIs(t, f.svc.EndSession(ctx, session.ID, "pub-1"), domain.ErrSessionEnded)
	assert.ErrorIs(t, f.svc.EndSession(ctx, "missing", "pub-1"), domain.ErrSessionNotFound)

	assert.Equal(t, int64(1), f.metrics.Snapshot().SessionsEnded)
}

func TestSessionService_ReconcileOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	// Seed an exclusivity violation directly at the repository, simulating
	// two racing StartSession calls.
	base := time.Now()
	require.NoError(t, f.sessionRepo.Create(ctx, &domain.StreamSession{
		ID: "dup-old", PublisherID: "pub-1", RoomID: "room-old", Active: true, CreatedAt: base.Add(-time.Minute),
	}))
	require.NoError(t, f.sessionRepo.Create(ctx, &domain.StreamSession{
		ID: "dup-new", PublisherID: "pub-1", RoomID: "room-new", Active: true, CreatedAt: base,
	}))
	require.NoError(t, f.sessionRepo.Create(ctx, &domain.StreamSession{
		ID: "other", PublisherID: "pub-2", RoomID: "room-x", Active: true, CreatedAt: base,
	}))

	repaired, err := f.svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	ids := make(map[domain.SessionID]bool, len(active))
	for _, s := range active {
		ids[s.ID] = true
	}
	assert.True(t, ids["dup-new"], "the most recent session survives")
	assert.True(t, ids["other"], "other publishers are untouched")
	assert.False(t, ids["dup-old"])

	assert.Equal(t, int64(1), f.metrics.Snapshot().ExclusivityRepairs)

	// A clean state repairs nothing.
	repaired, err = f.svc.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}
