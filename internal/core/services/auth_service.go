package services

import (
	"context"
	"errors"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context, userID domain.UserID) error
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	GenerateToken(user *domain.UserProfile) (string, error)
	GenerateRefreshToken(user *domain.UserProfile) (string, error)
	ValidateToken(tokenString string) (*Claims, error)

	// CheckDeviceSession verifies that the device session id baked into a
	// subscriber's token is still the one stamped on the profile. Returns
	// domain.ErrSessionSuperseded when a later login replaced it.
	CheckDeviceSession(ctx context.Context, userID domain.UserID, deviceSessionID string) error
}

type Claims struct {
	UserID          domain.UserID `json:"user_id"`
	Role            domain.Role   `json:"role"`
	DeviceSessionID string        `json:"device_session_id,omitempty"`
	jwt.RegisteredClaims
}

// LoginResult is what a successful login returns to the handler layer.
type LoginResult struct {
	User         *domain.UserProfile `json:"user"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
}

type authService struct {
	userRepo        ports.UserRepository
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	metrics         *MetricsService
	logger          *zap.SugaredLogger
}

func NewAuthService(
	userRepo ports.UserRepository,
	jwtSecret string,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) AuthService {
	return &authService{
		userRepo:        userRepo,
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		metrics:         metrics,
		logger:          logger,
	}
}

// Login authenticates by email and password. For subscribers a fresh device
// session id is stamped on the profile, which invalidates tokens held by any
// previously logged-in device.
func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}

	now := time.Now()
	user.LastLoginAt = &now
	if user.SingleDeviceEnforced() {
		user.DeviceSessionID = utils.NewDeviceSessionID()
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	accessToken, err := s.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.GenerateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("user logged in",
		"user_id", user.ID,
		"role", user.Role,
		"email", utils.MaskSensitive(user.Email, 3),
	)

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Logout clears the device session id so outstanding subscriber tokens fail
// the device check. For other roles it is a no-op beyond the audit log.
func (s *authService) Logout(ctx context.Context, userID domain.UserID) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.SingleDeviceEnforced() && user.DeviceSessionID != "" {
		user.DeviceSessionID = ""
		if err := s.userRepo.Update(ctx, user); err != nil {
			return err
		}
	}

	s.logger.Infow("user logged out", "user_id", userID)
	return nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}
	// A refresh from a superseded device must not resurrect its session.
	if user.SingleDeviceEnforced() && user.DeviceSessionID != claims.DeviceSessionID {
		return nil, domain.ErrSessionSuperseded
	}

	accessToken, err := s.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	newRefreshToken, err := s.GenerateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
	}, nil
}

func (s *authService) GenerateToken(user *domain.UserProfile) (string, error) {
	return s.signToken(user, s.accessTokenTTL)
}

func (s *authService) GenerateRefreshToken(user *domain.UserProfile) (string, error) {
	return s.signToken(user, s.refreshTokenTTL)
}

func (s *authService) signToken(user *domain.UserProfile, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:          user.ID,
		Role:            user.Role,
		DeviceSessionID: user.DeviceSessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) CheckDeviceSession(ctx context.Context, userID domain.UserID, deviceSessionID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return domain.ErrUserInactive
	}
	if !user.SingleDeviceEnforced() {
		return nil
	}
	if user.DeviceSessionID == "" || user.DeviceSessionID != deviceSessionID {
		s.metrics.RecordForcedLogout()
		return domain.ErrSessionSuperseded
	}
	return nil
}
