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

type SessionHandler struct {
	sessionService      ports.SessionService
	availabilityService ports.AvailabilityService
}

func NewSessionHandler(
	sessionService ports.SessionService,
	availabilityService ports.AvailabilityService,
) *SessionHandler {
	return &SessionHandler{
		sessionService:      sessionService,
		availabilityService: availabilityService,
	}
}

type StartSessionRequest struct {
	Title       string `json:"title" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
}

// StartSession starts a broadcast for the calling publisher. Any previous
// active session of theirs is ended as a side effect.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	publisherID := middleware.UserIDFromContext(c)
	session, err := h.sessionService.StartSession(c.Request.Context(), publisherID, req.Title, req.Description)
	if err != nil {
		if errors.Is(err, domain.ErrUserInactive) {
			c.Error(apperrors.NewForbiddenError("account is deactivated"))
			return
		}
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	callerID := middleware.UserIDFromContext(c)
	callerRole := middleware.RoleFromContext(c)

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("session"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to fetch session"))
		return
	}

	// Publishers end their own sessions; admins may force-end anyone's.
	if session.PublisherID != callerID && callerRole != domain.RoleAdmin {
		c.Error(apperrors.NewForbiddenError("not your session"))
		return
	}

	if err := h.sessionService.EndSession(c.Request.Context(), sessionID, callerID); err != nil {
		if errors.Is(err, domain.ErrSessionEnded) {
			c.Error(apperrors.NewConflictError("session already ended"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to end session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"ended": sessionID})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("session"))
			return
		}
		c.Error(apperrors.NewInternalError("failed to fetch session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) ListActive(c *gin.Context) {
	sessions, err := h.sessionService.ListActive(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list sessions"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Reconcile triggers one reconciliation sweep on demand.
func (h *SessionHandler) Reconcile(c *gin.Context) {
	repaired, err := h.sessionService.ReconcileOnce(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewInternalError("reconciliation failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

// Availability returns the calling subscriber's current watchable set,
// the one-shot counterpart of the push feed.
func (h *SessionHandler) Availability(c *gin.Context) {
	subscriberID := middleware.UserIDFromContext(c)

	snapshot, err := h.availabilityService.Snapshot(c.Request.Context(), subscriberID)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to compute availability"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"availability": snapshot})
}
