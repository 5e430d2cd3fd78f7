package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/tracing"
	"streamgate/pkg/watch"

	"go.uber.org/zap"
)

type availabilityService struct {
	permRepo    ports.PermissionRepository
	sessionRepo ports.SessionRepository
	profiles    *ProfileCache
	metrics     *MetricsService
	logger      *zap.SugaredLogger
}

func NewAvailabilityService(
	permRepo ports.PermissionRepository,
	sessionRepo ports.SessionRepository,
	profiles *ProfileCache,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) ports.AvailabilityService {
	return &availabilityService{
		permRepo:    permRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *availabilityService) Snapshot(ctx context.Context, subscriberID domain.UserID) (*domain.AvailabilitySnapshot, error) {
	ctx, span := tracing.TraceAvailability(ctx, "snapshot", string(subscriberID))
	defer span.End()

	perms, err := s.permRepo.ListBySubscriber(ctx, subscriberID, true)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	sessions, err := s.sessionRepo.ListActive(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	return s.compute(ctx, subscriberID, perms, sessions), nil
}

// Watch merges the subscriber's permission feed with the global active
// session feed into one availability feed. No snapshot is emitted until
// both sources have delivered their initial result set, so consumers never
// see a half-joined view. Source failures surface on the error channel;
// the last-known-good snapshot is re-emitted with Degraded set.
func (s *availabilityService) Watch(ctx context.Context, subscriberID domain.UserID) (*watch.Feed[*domain.AvailabilitySnapshot], error) {
	permFeed, err := s.permRepo.WatchActiveBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to watch permissions: %w", err)
	}
	sessFeed, err := s.sessionRepo.WatchActive(ctx)
	if err != nil {
		permFeed.Stop()
		return nil, fmt.Errorf("failed to watch sessions: %w", err)
	}

	out := watch.NewFeed[*domain.AvailabilitySnapshot]()
	s.metrics.WatcherOpened()

	go s.run(ctx, subscriberID, permFeed, sessFeed, out)

	return out, nil
}

func (s *availabilityService) run(
	ctx context.Context,
	subscriberID domain.UserID,
	permFeed *watch.Feed[[]*domain.StreamPermission],
	sessFeed *watch.Feed[[]*domain.StreamSession],
	out *watch.Feed[*domain.AvailabilitySnapshot],
) {
	defer s.metrics.WatcherClosed()
	defer permFeed.Stop()
	defer sessFeed.Stop()

	var (
		perms          []*domain.StreamPermission
		sessions       []*domain.StreamSession
		permsPrimed    bool
		sessionsPrimed bool
		last           *domain.AvailabilitySnapshot
	)

	fail := func(err error) {
		s.metrics.RecordWatchError()
		s.logger.Warnw("availability source feed error",
			"subscriber_id", subscriberID,
			"error", err,
		)
		out.Fail(err)
		if last != nil {
			stale := *last
			stale.Degraded = true
			last = &stale
			out.Publish(last)
		}
	}

	for {
		select {
		case <-ctx.Done():
			out.Stop()
			return
		case <-out.Done():
			return
		case p := <-permFeed.Updates():
			perms = p
			permsPrimed = true
		case sess := <-sessFeed.Updates():
			sessions = sess
			sessionsPrimed = true
		case err := <-permFeed.Errs():
			fail(fmt.Errorf("permission feed: %w", err))
			continue
		case err := <-sessFeed.Errs():
			fail(fmt.Errorf("session feed: %w", err))
			continue
		}

		if !permsPrimed || !sessionsPrimed {
			continue
		}

		snapshot := s.compute(ctx, subscriberID, perms, sessions)
		last = snapshot
		s.metrics.RecordRecompute(subscriberID)
		out.Publish(snapshot)
	}
}

// compute derives the watchable set: one entry per active permission whose
// publisher currently has an active session. Duplicate grant edges yield
// duplicate entries; each carries its own permission id.
func (s *availabilityService) compute(
	ctx context.Context,
	subscriberID domain.UserID,
	perms []*domain.StreamPermission,
	sessions []*domain.StreamSession,
) *domain.AvailabilitySnapshot {
	live := domain.LatestActivePerPublisher(sessions)

	var publisherIDs []domain.UserID
	for _, perm := range perms {
		if perm.Active && live[perm.PublisherID] != nil {
			publisherIDs = append(publisherIDs, perm.PublisherID)
		}
	}

	profiles, err := s.profiles.GetMany(ctx, publisherIDs)
	if err != nil {
		// Names are cosmetic; fall back to the denormalized name on the
		// session row rather than failing the recompute.
		s.logger.Warnw("failed to resolve publisher profiles",
			"subscriber_id", subscriberID,
			"error", err,
		)
		profiles = nil
	}

	streams := make([]domain.WatchableStream, 0, len(publisherIDs))
	for _, perm := range perms {
		if !perm.Active {
			continue
		}
		session := live[perm.PublisherID]
		if session == nil {
			continue
		}

		name := session.PublisherName
		if profile, ok := profiles[perm.PublisherID]; ok {
			name = profile.Name()
		}

		streams = append(streams, domain.WatchableStream{
			PermissionID:  perm.ID,
			PublisherID:   perm.PublisherID,
			PublisherName: name,
			RoomID:        session.RoomID,
			Title:         session.Title,
			Description:   session.Description,
			AllowVideo:    perm.AllowVideo,
			AllowAudio:    perm.AllowAudio,
			StartedAt:     session.CreatedAt,
		})
	}

	// Newest streams first; permission id breaks ties so the order is
	// stable across recomputes.
	sort.Slice(streams, func(i, j int) bool {
		if !streams[i].StartedAt.Equal(streams[j].StartedAt) {
			return streams[i].StartedAt.After(streams[j].StartedAt)
		}
		return streams[i].PermissionID < streams[j].PermissionID
	})

	return &domain.AvailabilitySnapshot{
		SubscriberID: subscriberID,
		Streams:      streams,
		ComputedAt:   time.Now(),
	}
}
