package services

import (
	"context"
	"fmt"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/distributed"
	"streamgate/pkg/tracing"
	"streamgate/pkg/utils"
	"streamgate/pkg/validation"

	"go.uber.org/zap"
)

const startLockTTL = 10 * time.Second

type sessionService struct {
	sessionRepo ports.SessionRepository
	userRepo    ports.UserRepository
	locks       *distributed.Manager // nil when running on memory repositories
	metrics     *MetricsService
	logger      *zap.SugaredLogger
}

func NewSessionService(
	sessionRepo ports.SessionRepository,
	userRepo ports.UserRepository,
	locks *distributed.Manager,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		locks:       locks,
		metrics:     metrics,
		logger:      logger,
	}
}

// StartSession creates a new active session for the publisher. Any prior
// active sessions are deactivated first, so readers converge on the new one.
// The deactivate-then-insert sequence is not atomic; a per-publisher lock
// narrows the race window when Redis is available, and the reconciliation
// sweep repairs whatever slips through.
func (s *sessionService) StartSession(ctx context.Context, publisherID domain.UserID, title, description string) (*domain.StreamSession, error) {
	ctx, span := tracing.TraceMedia(ctx, "start_session", "")
	defer span.End()

	if title != "" {
		if err := validation.ValidateStreamTitle(title); err != nil {
			return nil, err
		}
	}

	publisher, err := s.userRepo.GetByID(ctx, publisherID)
	if err != nil {
		return nil, err
	}
	if !publisher.Active {
		return nil, domain.ErrUserInactive
	}
	if publisher.Role != domain.RolePublisher && publisher.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("user %s cannot publish: role is %s", publisherID, publisher.Role)
	}

	if s.locks != nil {
		lock := s.locks.Acquire("session:start:"+string(publisherID), startLockTTL)
		if err := lock.Lock(ctx, 2*time.Second); err != nil {
			// Best effort: proceed without the lock, the sweep cleans up.
			s.logger.Warnw("could not acquire session start lock",
				"publisher_id", publisherID,
				"error", err,
			)
		} else {
			defer func() {
				if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warnw("failed to release session start lock", "error", err)
				}
			}()
		}
	}

	if deactivated := s.deactivateAll(ctx, publisherID); deactivated > 0 {
		s.logger.Infow("deactivated prior active sessions",
			"publisher_id", publisherID,
			"count", deactivated,
		)
	}

	session := &domain.StreamSession{
		ID:            domain.SessionID(utils.NewSessionID()),
		PublisherID:   publisherID,
		PublisherName: publisher.Name(),
		RoomID:        domain.RoomID(utils.NewRoomID(string(publisherID))),
		Title:         title,
		Description:   description,
		Active:        true,
		CreatedAt:     time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordSessionStarted()
	s.logger.Infow("stream session started",
		"session_id", session.ID,
		"publisher_id", publisherID,
		"room_id", session.RoomID,
	)

	return session, nil
}

func (s *sessionService) EndSession(ctx context.Context, id domain.SessionID, endedBy domain.UserID) error {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !session.Active {
		return domain.ErrSessionEnded
	}

	now := time.Now()
	session.Active = false
	session.EndedAt = &now
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	s.metrics.RecordSessionEnded()
	s.logger.Infow("stream session ended",
		"session_id", id,
		"publisher_id", session.PublisherID,
		"ended_by", endedBy,
	)
	return nil
}

func (s *sessionService) GetSession(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	return s.sessionRepo.GetByID(ctx, id)
}

func (s *sessionService) ListActive(ctx context.Context) ([]*domain.StreamSession, error) {
	return s.sessionRepo.ListActive(ctx)
}

// ReconcileOnce repairs exclusivity violations: when a publisher has more
// than one active session, every one but the most recent is deactivated.
func (s *sessionService) ReconcileOnce(ctx context.Context) (int, error) {
	sessions, err := s.sessionRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	keep := domain.LatestActivePerPublisher(sessions)

	repaired := 0
	now := time.Now()
	for _, session := range sessions {
		if !session.Active {
			continue
		}
		if keeper := keep[session.PublisherID]; keeper != nil && keeper.ID == session.ID {
			continue
		}

		session.Active = false
		session.EndedAt = &now
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			s.logger.Warnw("failed to deactivate duplicate session",
				"session_id", session.ID,
				"publisher_id", session.PublisherID,
				"error", err,
			)
			continue
		}
		repaired++
		s.logger.Infow("deactivated duplicate active session",
			"session_id", session.ID,
			"publisher_id", session.PublisherID,
		)
	}

	s.metrics.RecordExclusivityRepairs(repaired)
	return repaired, nil
}

// deactivateAll ends every active session the publisher still holds. Best
// effort: a failed write is logged and skipped, never propagated, so a stale
// row cannot block a new session. The reconciliation sweep picks up whatever
// is left behind.
func (s *sessionService) deactivateAll(ctx context.Context, publisherID domain.UserID) int {
	active, err := s.sessionRepo.ListActiveByPublisher(ctx, publisherID)
	if err != nil {
		s.logger.Warnw("could not list prior sessions for deactivation",
			"publisher_id", publisherID,
			"error", err,
		)
		return 0
	}

	now := time.Now()
	count := 0
	for _, session := range active {
		session.Active = false
		session.EndedAt = &now
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			s.logger.Warnw("failed to deactivate prior session",
				"session_id", session.ID,
				"publisher_id", publisherID,
				"error", err,
			)
			continue
		}
		count++
	}
	return count
}

// RunReconciler calls ReconcileOnce on a fixed interval until ctx is
// cancelled. Intended to run in its own goroutine from main.
func RunReconciler(ctx context.Context, svc ports.SessionService, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, err := svc.ReconcileOnce(ctx)
			if err != nil {
				logger.Warnw("reconciliation sweep failed", "error", err)
				continue
			}
			if repaired > 0 {
				logger.Infow("reconciliation sweep repaired sessions", "count", repaired)
			}
		}
	}
}
