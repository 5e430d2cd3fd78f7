package http

import (
	"net/http"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
	"streamgate/internal/infrastructure/middleware"
	apperrors "streamgate/pkg/errors"
	"streamgate/pkg/validation"

	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	tokenMinter ports.TokenMinter
}

func NewTokenHandler(tokenMinter ports.TokenMinter) *TokenHandler {
	return &TokenHandler{
		tokenMinter: tokenMinter,
	}
}

type RTCTokenRequest struct {
	RoomID    string `json:"room_id" binding:"required,max=200"`
	Publisher bool   `json:"publisher"`
}

type ConferenceTokenRequest struct {
	RoomName    string `json:"room_name" binding:"required,max=200"`
	DisplayName string `json:"display_name" binding:"max=100"`
}

// MintRTCToken mints a channel credential for the caller. Publisher tokens
// require the publisher or admin role; the subscriber's right to watch the
// room is enforced by the availability layer, not here.
func (h *TokenHandler) MintRTCToken(c *gin.Context) {
	var req RTCTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	role := middleware.RoleFromContext(c)
	if req.Publisher && role != domain.RolePublisher && role != domain.RoleAdmin {
		c.Error(apperrors.NewForbiddenError("publisher token requires publisher role"))
		return
	}

	token, err := h.tokenMinter.MintRTCToken(middleware.UserIDFromContext(c), domain.RoomID(req.RoomID), req.Publisher)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to mint token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"rtc": token})
}

func (h *TokenHandler) MintConferenceToken(c *gin.Context) {
	var req ConferenceTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	token, err := h.tokenMinter.MintConferenceToken(middleware.UserIDFromContext(c), req.DisplayName, req.RoomName)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to mint conference token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
