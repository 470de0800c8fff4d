package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/gin-gonic/gin"
)

type profileRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type messageRequestPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleListProfiles(c *gin.Context) {
	query := backend.ProfileQuery{ExcludeID: strings.TrimSpace(c.Query("exclude"))}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	profiles, err := h.store.ListProfiles(c.Request.Context(), query)
	if err != nil {
		h.writeStoreError(c, "list_profiles", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.store.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, "get_profile", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleUpsertProfile only writes the caller's own profile.
func (h *httpHandler) handleUpsertProfile(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok || claims.Subject != c.Param("id") {
		abortWithError(c, http.StatusForbidden, backend.KindUnauthorized, "profiles are writable by their owner only")
		return
	}
	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "invalid profile payload")
		return
	}
	email := strings.TrimSpace(request.Email)
	if email == "" {
		email = claims.Email
	}
	profile, err := h.store.UpsertProfile(c.Request.Context(), backend.Profile{
		ID:          claims.Subject,
		Email:       email,
		DisplayName: request.DisplayName,
		AvatarURL:   request.AvatarURL,
	})
	if err != nil {
		h.writeStoreError(c, "upsert_profile", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleListChannels(c *gin.Context) {
	channels, err := h.store.ListChannels(c.Request.Context(), backend.ParseChannelOrder(c.Query("order")))
	if err != nil {
		h.writeStoreError(c, "list_channels", err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (h *httpHandler) handleListChannelMessages(c *gin.Context) {
	messages, err := h.store.ListChannelMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, "list_channel_messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *httpHandler) handleInsertChannelMessage(c *gin.Context) {
	var request messageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "invalid message payload")
		return
	}
	message, err := h.store.InsertChannelMessage(c.Request.Context(), backend.NewChannelMessage{
		ChannelID: c.Param("id"),
		SenderID:  c.GetString(userIDContextKey),
		Content:   request.Content,
	})
	if err != nil {
		h.writeStoreError(c, "insert_channel_message", err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleProbeDirectMessages(c *gin.Context) {
	if err := h.store.ProbeDirectMessages(c.Request.Context()); err != nil {
		h.writeStoreError(c, "probe_direct_messages", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListDirectMessages(c *gin.Context) {
	messages, err := h.store.ListDirectMessages(c.Request.Context(), c.GetString(userIDContextKey), c.Param("peerID"))
	if err != nil {
		h.writeStoreError(c, "list_direct_messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *httpHandler) handleInsertDirectMessage(c *gin.Context) {
	var request messageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "invalid message payload")
		return
	}
	message, err := h.store.InsertDirectMessage(c.Request.Context(), backend.NewDirectMessage{
		SenderID:    c.GetString(userIDContextKey),
		RecipientID: c.Param("peerID"),
		Content:     request.Content,
	})
	if err != nil {
		h.writeStoreError(c, "insert_direct_message", err)
		return
	}
	c.JSON(http.StatusCreated, message)
}
