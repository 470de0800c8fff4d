package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/auth"
	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OAuthErrorPath is where a failed callback lands.
const OAuthErrorPath = backend.DefaultNextPath + "?auth=oauth_error"

type authorizeResponsePayload struct {
	URL string `json:"url"`
}

type sessionRequestPayload struct {
	Code string `json:"code"`
}

type sessionResponsePayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	User        backend.Identity `json:"user"`
}

type currentSessionPayload struct {
	User backend.Identity `json:"user"`
}

func (h *httpHandler) handleAuthorize(c *gin.Context) {
	provider := strings.TrimSpace(c.Query("provider"))
	if provider == "" {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "provider is required")
		return
	}
	target, err := h.authorizer.AuthorizeURL(provider, c.Query("next"))
	if err != nil {
		if errors.Is(err, auth.ErrProviderNotEnabled) {
			abortWithError(c, http.StatusBadRequest, backend.KindProviderDisabled, err.Error())
			return
		}
		h.logger.Error("failed to build authorize url", zap.String("provider", provider), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, backend.KindGeneric, "internal error")
		return
	}
	c.JSON(http.StatusOK, authorizeResponsePayload{URL: target})
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		abortWithError(c, http.StatusBadRequest, backend.KindInvalidRequest, "code is required")
		return
	}

	identity, err := h.codes.ValidateCode(request.Code)
	if err != nil {
		h.logger.Warn("identity code rejected", zap.Error(err))
		abortWithError(c, http.StatusUnauthorized, backend.KindUnauthorized, "identity code rejected")
		return
	}

	token, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, backend.KindGeneric, "internal error")
		return
	}
	metrics.SessionsIssued.Inc()

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        identity,
	})
}

// handleCallback completes a browser sign-in: the identity code becomes a
// session cookie and the browser is sent on to a same-origin path.
func (h *httpHandler) handleCallback(c *gin.Context) {
	nextPath := backend.SafeNextPath(c.Query("next"))
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.Redirect(http.StatusFound, OAuthErrorPath)
		return
	}
	identity, err := h.codes.ValidateCode(code)
	if err != nil {
		h.logger.Warn("oauth callback rejected", zap.Error(err))
		c.Redirect(http.StatusFound, OAuthErrorPath)
		return
	}
	token, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.Redirect(http.StatusFound, OAuthErrorPath)
		return
	}
	metrics.SessionsIssued.Inc()

	secure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(expiresIn), "/", "", secure, true)

	if forwardedHost := strings.TrimSpace(c.GetHeader("X-Forwarded-Host")); forwardedHost != "" {
		c.Redirect(http.StatusFound, "https://"+forwardedHost+nextPath)
		return
	}
	c.Redirect(http.StatusFound, nextPath)
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, backend.KindUnauthorized, errInvalidAuthorization.Error())
		return
	}
	c.JSON(http.StatusOK, currentSessionPayload{User: claims.Identity()})
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	if claims, ok := requestClaims(c); ok {
		h.tokens.Revoke(claims)
	}
	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}
