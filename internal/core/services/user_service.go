package services

import (
	"context"
	"fmt"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/utils"
	"streamgate/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type userService struct {
	userRepo ports.UserRepository
	profiles *ProfileCache
	logger   *zap.SugaredLogger
}

func NewUserService(userRepo ports.UserRepository, profiles *ProfileCache, logger *zap.SugaredLogger) ports.UserService {
	return &userService{
		userRepo: userRepo,
		profiles: profiles,
		logger:   logger,
	}
}

func (s *userService) CreateUser(ctx context.Context, email, password, displayName string, role domain.Role) (*domain.UserProfile, error) {
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, err
	}
	if displayName != "" {
		if err := validation.ValidateDisplayName(displayName); err != nil {
			return nil, err
		}
	}

	roles := make([]string, len(domain.ValidRoles))
	for i, r := range domain.ValidRoles {
		roles[i] = string(r)
	}
	if err := validation.ValidateRole(string(role), roles); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.UserProfile{
		ID:           domain.UserID(utils.NewUserID()),
		Email:        utils.NormalizeEmail(email),
		Role:         role,
		DisplayName:  utils.SanitizeString(displayName),
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Infow("user created",
		"user_id", user.ID,
		"role", user.Role,
	)
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *userService) ListByRole(ctx context.Context, role domain.Role) ([]*domain.UserProfile, error) {
	return s.userRepo.ListByRole(ctx, role)
}

// SetActive toggles an account. Deactivation records who did it and clears
// any device session, so a deactivated subscriber is logged out on the next
// device check rather than at token expiry.
func (s *userService) SetActive(ctx context.Context, id domain.UserID, active bool, actor domain.UserID) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Active == active {
		return nil
	}

	user.Active = active
	if active {
		user.DeactivatedAt = nil
		user.DeactivatedBy = ""
	} else {
		now := time.Now()
		user.DeactivatedAt = &now
		user.DeactivatedBy = actor
		user.DeviceSessionID = ""
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return err
	}
	s.profiles.Invalidate(id)

	s.logger.Infow("user active flag changed",
		"user_id", id,
		"active", active,
		"actor", actor,
	)
	return nil
}
