package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/auth"
	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAnyOrigin(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := requestToken(c)
	if token == "" {
		abortWithError(c, http.StatusUnauthorized, backend.KindUnauthorized, errInvalidAuthorization.Error())
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrRevokedAccessToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, backend.KindUnauthorized, "access token rejected")
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(claimsContextKey, claims)
	c.Next()
}

// requestToken reads the bearer header first, then the access_token query
// parameter used by websocket clients, then the session cookie.
func requestToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func requestClaims(c *gin.Context) (auth.AccessClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.AccessClaims{}, false
	}
	claims, ok := value.(auth.AccessClaims)
	return claims, ok
}

// ErrorCodeHeader repeats the error code for responses without a body, such as HEAD.
const ErrorCodeHeader = "X-Lobby-Error"

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func abortWithError(c *gin.Context, status int, kind backend.ErrorKind, message string) {
	c.Header(ErrorCodeHeader, kind.Code())
	c.AbortWithStatusJSON(status, errorPayload{Error: kind.Code(), Message: message})
}

// writeStoreError maps a classified store failure onto a response.
func (h *httpHandler) writeStoreError(c *gin.Context, operation string, err error) {
	kind := backend.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		abortWithError(c, status, kind, "internal error")
		return
	}
	abortWithError(c, status, kind, err.Error())
}

func statusForKind(kind backend.ErrorKind) int {
	switch kind {
	case backend.KindNotFound, backend.KindRelationNotFound:
		return http.StatusNotFound
	case backend.KindColumnNotFound, backend.KindInvalidRequest, backend.KindProviderDisabled:
		return http.StatusBadRequest
	case backend.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
