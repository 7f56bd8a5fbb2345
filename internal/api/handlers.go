package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"membify/internal/domain"
	"membify/internal/feature/verification"
	"membify/internal/logging"
)

const accountIDKey = "accountID"

type codeResponse struct {
	Code string `json:"code"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type communityResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ChatID     int64     `json:"chatId"`
	ChatType   string    `json:"chatType,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	InviteLink string    `json:"inviteLink,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type verifyResponse struct {
	Verified            bool               `json:"verified"`
	State               string             `json:"state"`
	Community           *communityResponse `json:"community,omitempty"`
	DuplicateChatID     string             `json:"duplicateChatId,omitempty"`
	Attempts            int                `json:"attempts"`
	ShowTroubleshooting bool               `json:"showTroubleshooting"`
	RequiresNewCode     bool               `json:"requiresNewCode"`
	Message             string             `json:"message,omitempty"`
}

// requireAccountID rejects requests whose :accountID is not a UUID and stores
// the canonical form for handlers.
func requireAccountID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(strings.TrimSpace(c.Param("accountID")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "accountID must be a UUID"})
			return
		}
		c.Set(accountIDKey, id.String())

		ctx := c.Request.Context()
		entry := logging.FromContext(ctx, nil).WithField("account_id", id.String())
		c.Request = c.Request.WithContext(logging.IntoContext(ctx, entry))

		c.Next()
	}
}

func (h *handlers) getOrCreateCode(c *gin.Context) {
	code, err := h.codes.GetOrCreateCode(c.Request.Context(), c.GetString(accountIDKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, codeResponse{Code: code})
}

func (h *handlers) regenerateCode(c *gin.Context) {
	code, err := h.codes.InvalidateAndRegenerate(c.Request.Context(), c.GetString(accountIDKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, codeResponse{Code: code})
}

func (h *handlers) verify(c *gin.Context) {
	result, err := h.verification.Verify(c.Request.Context(), c.GetString(accountIDKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerifyResponse(result))
}

func (h *handlers) listCommunities(c *gin.Context) {
	list, err := h.verification.ListCommunities(c.Request.Context(), c.GetString(accountIDKey))
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]communityResponse, 0, len(list))
	for _, item := range list {
		out = append(out, toCommunityResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"communities": out})
}

func (h *handlers) communityPhoto(c *gin.Context) {
	photo, err := h.verification.CommunityPhoto(c.Request.Context(), c.GetString(accountIDKey), c.Param("communityID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer photo.Body.Close()

	c.DataFromReader(http.StatusOK, photo.Size, photo.ContentType, photo.Body, map[string]string{
		"Cache-Control": "private, max-age=3600",
	})
}

func (h *handlers) setCustomBot(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "token is required"})
		return
	}

	result, err := h.verification.SetCustomBot(c.Request.Context(), c.GetString(accountIDKey), req.Token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) disableCustomBot(c *gin.Context) {
	if err := h.verification.DisableCustomBot(c.Request.Context(), c.GetString(accountIDKey)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"useCustomBot": false})
}

func (h *handlers) validateToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "token is required"})
		return
	}

	c.JSON(http.StatusOK, h.verification.ValidateToken(c.Request.Context(), req.Token))
}

// respondError maps workflow errors onto HTTP statuses.
func (h *handlers) respondError(c *gin.Context, err error) {
	var (
		persistenceErr *domain.PersistenceError
		telegramErr    *domain.TelegramAPIError
		conflictErr    *domain.ConflictError
	)

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrCommunityNotFound),
		errors.Is(err, domain.ErrNoCommunityPhoto):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrNoOutstandingCode):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &conflictErr), errors.Is(err, domain.ErrDuplicateChat):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &telegramErr):
		status, message = http.StatusBadGateway, telegramErr.Error()
		if telegramErr.Description != "" {
			message = telegramErr.Description
		}
	case errors.As(err, &persistenceErr):
		message = "could not " + persistenceErr.Op
	}

	logging.FromContext(c.Request.Context(), h.logger).WithFields(logging.Fields{
		"event":  "http_request_error",
		"status": status,
	}).WithError(err).Warn("request returned an error")

	c.JSON(status, errorResponse{Error: message})
}

func toVerifyResponse(result verification.Result) verifyResponse {
	resp := verifyResponse{
		Verified:            result.Verified,
		State:               string(result.State),
		Attempts:            result.Attempts,
		ShowTroubleshooting: result.ShowTroubleshooting,
		RequiresNewCode:     result.RequiresNewCode,
		Message:             result.Message,
	}
	if result.Community != nil {
		c := toCommunityResponse(*result.Community)
		resp.Community = &c
	}
	if result.DuplicateChatID != 0 {
		resp.DuplicateChatID = strconv.FormatInt(result.DuplicateChatID, 10)
	}
	return resp
}

// toCommunityResponse points photoUrl at the photo route. Telegram download
// links carry the bot token and are never exposed.
func toCommunityResponse(c domain.Community) communityResponse {
	resp := communityResponse{
		ID:         c.ID,
		Name:       c.Name,
		ChatID:     c.ChatID,
		ChatType:   c.ChatType,
		InviteLink: c.InviteLink,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.PhotoFileID != "" {
		resp.PhotoURL = "/api/accounts/" + c.OwnerID + "/communities/" + c.ID + "/photo"
	}
	return resp
}
