package http

import (
	"errors"
	"net/http"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/services"
	"streamgate/internal/infrastructure/middleware"
	apperrors "streamgate/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			c.Error(apperrors.NewUnauthorizedError("invalid email or password"))
		case errors.Is(err, domain.ErrUserInactive):
			c.Error(apperrors.NewForbiddenError("account is deactivated"))
		default:
			c.Error(apperrors.NewInternalError("login failed"))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          result.User,
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if err := h.authService.Logout(c.Request.Context(), userID); err != nil {
		c.Error(apperrors.NewInternalError("logout failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionSuperseded):
			c.Error(apperrors.NewSessionSupersededError())
		case errors.Is(err, domain.ErrUserInactive):
			c.Error(apperrors.NewForbiddenError("account is deactivated"))
		default:
			c.Error(apperrors.NewUnauthorizedError("invalid refresh token"))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	})
}

// Session reports whether the caller's token, role, and device session are
// still valid. Clients poll or call this after a push reconnect.
func (h *AuthHandler) Session(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	err := h.authService.CheckDeviceSession(c.Request.Context(), userID, c.GetString("device_session_id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionSuperseded) {
			c.Error(apperrors.NewSessionSupersededError())
			return
		}
		if errors.Is(err, domain.ErrUserInactive) {
			c.Error(apperrors.NewForbiddenError("account is deactivated"))
			return
		}
		c.Error(apperrors.NewInternalError("session check failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"role":    middleware.RoleFromContext(c),
		"valid":   true,
	})
}
