package http

import (
	"errors"
	"net/http"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/infrastructure/middleware"
	apperrors "streamgate/pkg/errors"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService ports.UserService
}

func NewUserHandler(userService ports.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

type CreateUserRequest struct {
	Email       string `json:"email" binding:"required,email,max=254"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	DisplayName string `json:"display_name" binding:"max=100"`
	Role        string `json:"role" binding:"required"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), req.Email, req.Password, req.DisplayName, domain.Role(req.Role))
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			c.Error(apperrors.NewConflictError("email already registered"))
			return
		}
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *UserHandler) GetUser(c *gin.Context) {
	userID := domain.UserID(c.Param("id"))

	user, err := h.userService.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.Error(apperrors.NewNotFoundError("user"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to fetch user"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	role := domain.Role(c.Query("role"))
	if role == "" {
		c.Error(apperrors.NewInvalidInputError("role query parameter is required"))
		return
	}

	users, err := h.userService.ListByRole(c.Request.Context(), role)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list users"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

func (h *UserHandler) SetActive(c *gin.Context) {
	userID := domain.UserID(c.Param("id"))

	var req SetActiveRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	actor := middleware.UserIDFromContext(c)
	if err := h.userService.SetActive(c.Request.Context(), userID, req.Active, actor); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.Error(apperrors.NewNotFoundError("user"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to update user"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"active":  req.Active,
	})
}
