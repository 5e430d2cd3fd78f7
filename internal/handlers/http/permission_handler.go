package http

import (
	"errors"
	"net/http"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	apperrors "streamgate/pkg/errors"

	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	permissionService ports.PermissionService
}

func NewPermissionHandler(permissionService ports.PermissionService) *PermissionHandler {
	return &PermissionHandler{
		permissionService: permissionService,
	}
}

type GrantRequest struct {
	SubscriberID string `json:"subscriber_id" binding:"required"`
	PublisherID  string `json:"publisher_id" binding:"required"`
	AllowVideo   bool   `json:"allow_video"`
	AllowAudio   bool   `json:"allow_audio"`
}

type GrantBulkRequest struct {
	SubscriberIDs []string `json:"subscriber_ids" binding:"required,min=1,max=500"`
	PublisherIDs  []string `json:"publisher_ids" binding:"required,min=1,max=500"`
	AllowVideo    bool     `json:"allow_video"`
	AllowAudio    bool     `json:"allow_audio"`
}

type SetFlagsRequest struct {
	AllowVideo *bool `json:"allow_video"`
	AllowAudio *bool `json:"allow_audio"`
	Active     *bool `json:"active"`
}

func (h *PermissionHandler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	perm, err := h.permissionService.Grant(
		c.Request.Context(),
		domain.UserID(req.SubscriberID),
		domain.UserID(req.PublisherID),
		req.AllowVideo,
		req.AllowAudio,
	)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.Error(apperrors.NewNotFoundError("user"))
			return
		}
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"permission": perm})
}

func (h *PermissionHandler) GrantBulk(c *gin.Context) {
	var req GrantBulkRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	subscriberIDs := make([]domain.UserID, len(req.SubscriberIDs))
	for i, id := range req.SubscriberIDs {
		subscriberIDs[i] = domain.UserID(id)
	}
	publisherIDs := make([]domain.UserID, len(req.PublisherIDs))
	for i, id := range req.PublisherIDs {
		publisherIDs[i] = domain.UserID(id)
	}

	perms, err := h.permissionService.GrantBulk(c.Request.Context(), subscriberIDs, publisherIDs, req.AllowVideo, req.AllowAudio)
	if err != nil {
		// Partial success: report what was created alongside the failure.
		c.JSON(http.StatusMultiStatus, gin.H{
			"permissions": perms,
			"created":     len(perms),
			"error":       err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"permissions": perms,
		"created":     len(perms),
	})
}

func (h *PermissionHandler) SetFlags(c *gin.Context) {
	permID := domain.PermissionID(c.Param("id"))

	var req SetFlagsRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.AllowVideo == nil && req.AllowAudio == nil && req.Active == nil {
		c.Error(apperrors.NewInvalidInputError("no fields to update"))
		return
	}

	perm, err := h.permissionService.SetFlags(c.Request.Context(), permID, req.AllowVideo, req.AllowAudio, req.Active)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionNotFound) {
			c.Error(apperrors.NewNotFoundError("permission"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to update permission"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"permission": perm})
}

func (h *PermissionHandler) Revoke(c *gin.Context) {
	permID := domain.PermissionID(c.Param("id"))

	if err := h.permissionService.Revoke(c.Request.Context(), permID); err != nil {
		if errors.Is(err, domain.ErrPermissionNotFound) {
			c.Error(apperrors.NewNotFoundError("permission"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to revoke permission"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": permID})
}

func (h *PermissionHandler) ListBySubscriber(c *gin.Context) {
	subscriberID := domain.UserID(c.Param("id"))

	perms, err := h.permissionService.ListBySubscriber(c.Request.Context(), subscriberID)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list permissions"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"permissions": perms,
		"count":       len(perms),
	})
}

func (h *PermissionHandler) ListByPublisher(c *gin.Context) {
	publisherID := domain.UserID(c.Param("id"))

	perms, err := h.permissionService.ListByPublisher(c.Request.Context(), publisherID)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list permissions"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"permissions": perms,
		"count":       len(perms),
	})
}
