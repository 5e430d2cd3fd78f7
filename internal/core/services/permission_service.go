package services

import (
	"context"
	"fmt"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/utils"

	"go.uber.org/zap"
)

type permissionService struct {
	permRepo ports.PermissionRepository
	userRepo ports.UserRepository
	logger   *zap.SugaredLogger
}

func NewPermissionService(
	permRepo ports.PermissionRepository,
	userRepo ports.UserRepository,
	logger *zap.SugaredLogger,
) ports.PermissionService {
	return &permissionService{
		permRepo: permRepo,
		userRepo: userRepo,
		logger:   logger,
	}
}

func (s *permissionService) Grant(ctx context.Context, subscriberID, publisherID domain.UserID, allowVideo, allowAudio bool) (*domain.StreamPermission, error) {
	subscriber, err := s.userRepo.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("subscriber lookup failed: %w", err)
	}
	if subscriber.Role != domain.RoleSubscriber {
		return nil, fmt.Errorf("user %s is not a subscriber", subscriberID)
	}

	publisher, err := s.userRepo.GetByID(ctx, publisherID)
	if err != nil {
		return nil, fmt.Errorf("publisher lookup failed: %w", err)
	}
	if publisher.Role != domain.RolePublisher && publisher.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("user %s is not a publisher", publisherID)
	}

	perm := &domain.StreamPermission{
		ID:           domain.PermissionID(utils.NewPermissionID()),
		SubscriberID: subscriberID,
		PublisherID:  publisherID,
		AllowVideo:   allowVideo,
		AllowAudio:   allowAudio,
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := s.permRepo.Create(ctx, perm); err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}

	s.logger.Infow("permission granted",
		"permission_id", perm.ID,
		"subscriber_id", subscriberID,
		"publisher_id", publisherID,
		"allow_video", allowVideo,
		"allow_audio", allowAudio,
	)
	return perm, nil
}

// GrantBulk creates the full cartesian product of grants. It fails fast on
// the first error; grants created before the failure are kept, matching the
// store's lack of multi-row transactions.
func (s *permissionService) GrantBulk(ctx context.Context, subscriberIDs, publisherIDs []domain.UserID, allowVideo, allowAudio bool) ([]*domain.StreamPermission, error) {
	created := make([]*domain.StreamPermission, 0, len(subscriberIDs)*len(publisherIDs))
	for _, subscriberID := range subscriberIDs {
		for _, publisherID := range publisherIDs {
			perm, err := s.Grant(ctx, subscriberID, publisherID, allowVideo, allowAudio)
			if err != nil {
				return created, fmt.Errorf("bulk grant stopped after %d grants: %w", len(created), err)
			}
			created = append(created, perm)
		}
	}
	return created, nil
}

// SetFlags updates the media flags and active flag in place. Nil pointers
// leave the corresponding field untouched.
func (s *permissionService) SetFlags(ctx context.Context, id domain.PermissionID, allowVideo, allowAudio *bool, active *bool) (*domain.StreamPermission, error) {
	perm, err := s.permRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if allowVideo != nil {
		perm.AllowVideo = *allowVideo
	}
	if allowAudio != nil {
		perm.AllowAudio = *allowAudio
	}
	if active != nil {
		perm.Active = *active
	}

	if err := s.permRepo.Update(ctx, perm); err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}

	s.logger.Infow("permission flags updated",
		"permission_id", id,
		"allow_video", perm.AllowVideo,
		"allow_audio", perm.AllowAudio,
		"active", perm.Active,
	)
	return perm, nil
}

func (s *permissionService) Revoke(ctx context.Context, id domain.PermissionID) error {
	if err := s.permRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("permission revoked", "permission_id", id)
	return nil
}

func (s *permissionService) ListBySubscriber(ctx context.Context, subscriberID domain.UserID) ([]*domain.StreamPermission, error) {
	return s.permRepo.ListBySubscriber(ctx, subscriberID, false)
}

func (s *permissionService) ListByPublisher(ctx context.Context, publisherID domain.UserID) ([]*domain.StreamPermission, error) {
	return s.permRepo.ListByPublisher(ctx, publisherID)
}
