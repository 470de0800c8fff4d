package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/auth"
	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "lobby_user_id"
	claimsContextKey = "lobby_claims"

	// SessionCookieName carries the access token for browser sessions started by the callback.
	SessionCookieName = "lobby_session"

	defaultHeartbeatInterval = 30 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingCodeValidator = errors.New("identity code validator dependency required")
	errMissingAuthorizer    = errors.New("authorizer dependency required")
	errMissingStore         = errors.New("store dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues, validates and revokes access tokens.
type TokenManager interface {
	IssueAccessToken(ctx context.Context, identity backend.Identity) (string, int64, error)
	ValidateToken(token string) (auth.AccessClaims, error)
	Revoke(claims auth.AccessClaims)
}

// IdentityCodeValidator turns an upstream identity code into an identity.
type IdentityCodeValidator interface {
	ValidateCode(code string) (backend.Identity, error)
}

// ProviderAuthorizer builds the upstream authorize URL for a provider.
type ProviderAuthorizer interface {
	AuthorizeURL(provider, nextPath string) (string, error)
}

// InsertStreamer opens per-connection insert streams.
type InsertStreamer interface {
	Stream(ctx context.Context, specs []backend.FeedSpec) (<-chan backend.InsertEvent, func())
}

type Dependencies struct {
	TokenManager      TokenManager
	CodeValidator     IdentityCodeValidator
	Authorizer        ProviderAuthorizer
	Store             backend.Store
	Realtime          InsertStreamer
	Logger            *zap.Logger
	CORSOrigins       []string
	HeartbeatInterval time.Duration
}

var _ InsertStreamer = (*realtime.Dispatcher)(nil)

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.CodeValidator == nil {
		return nil, errMissingCodeValidator
	}
	if deps.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(deps.CORSOrigins))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		codes:      deps.CodeValidator,
		authorizer: deps.Authorizer,
		store:      deps.Store,
		realtime:   deps.Realtime,
		origins:    deps.CORSOrigins,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/auth/authorize", handler.handleAuthorize)
	router.GET("/auth/callback", handler.handleCallback)
	router.POST("/auth/session", handler.handleCreateSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/session", handler.handleGetSession)
	protected.DELETE("/auth/session", handler.handleDeleteSession)

	protected.GET("/profiles", handler.handleListProfiles)
	protected.GET("/profiles/:id", handler.handleGetProfile)
	protected.PUT("/profiles/:id", handler.handleUpsertProfile)

	protected.GET("/channels", handler.handleListChannels)
	protected.GET("/channels/:id/messages", handler.handleListChannelMessages)
	protected.POST("/channels/:id/messages", handler.handleInsertChannelMessage)

	protected.HEAD("/direct-messages", handler.handleProbeDirectMessages)
	protected.GET("/direct-messages/:peerID", handler.handleListDirectMessages)
	protected.POST("/direct-messages/:peerID", handler.handleInsertDirectMessage)

	protected.GET("/realtime", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	codes      IdentityCodeValidator
	authorizer ProviderAuthorizer
	store      backend.Store
	realtime   InsertStreamer
	origins    []string
	heartbeat  time.Duration
	logger     *zap.Logger
}
