package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/auth"
	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/chat"
	"github.com/MarcoPoloResearchLab/lobby/internal/database"
	"github.com/MarcoPoloResearchLab/lobby/internal/profiles"
	"github.com/MarcoPoloResearchLab/lobby/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningSecret  = "test-signing-secret"
	testIdentitySecret = "test-identity-secret"
	testIdentityIssuer = "lobby-identity"
)

var fixtureSequence atomic.Int64

type apiFixture struct {
	handler    http.Handler
	tokens     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	store      *chat.Store
}

func newAPIFixture(t *testing.T, features database.Features) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), fixtureSequence.Add(1))
	db, err := database.OpenSQLite(dsn, features, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	dispatcher := realtime.NewDispatcher(realtime.Config{})
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("profiles service: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		IDProvider: chat.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}
	store, err := chat.NewStore(profileService, chatService)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "lobby-auth",
		Audience:      "lobby-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	codes, err := auth.NewCodeValidator(auth.CodeValidatorConfig{
		SigningSecret: []byte(testIdentitySecret),
		Issuer:        testIdentityIssuer,
	})
	if err != nil {
		t.Fatalf("code validator: %v", err)
	}
	authorizer, err := auth.NewAuthorizer(auth.AuthorizerConfig{
		AuthorizeURL: "https://id.example.com/authorize",
		CallbackURL:  "https://lobby.example.com/auth/callback",
		Providers:    []string{"github"},
	})
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:      tokens,
		CodeValidator:     codes,
		Authorizer:        authorizer,
		Store:             store,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		HeartbeatInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &apiFixture{handler: handler, tokens: tokens, dispatcher: dispatcher, store: store}
}

func allFeatures() database.Features {
	return database.Features{DirectMessages: true, ChannelSortOrder: true}
}

// signIn issues a token for id and stores a profile for it.
func (f *apiFixture) signIn(t *testing.T, id, displayName string) string {
	t.Helper()
	token, _, err := f.tokens.IssueAccessToken(context.Background(), backend.Identity{ID: id, Email: id + "@example.com"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := f.store.UpsertProfile(context.Background(), backend.Profile{ID: id, DisplayName: displayName}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func signIdentityCode(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := auth.IdentityClaims{
		Email:    subject + "@example.com",
		FullName: strings.ToUpper(subject[:1]) + subject[1:],
		Provider: "github",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIdentityIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testIdentitySecret))
	if err != nil {
		t.Fatalf("sign identity code: %v", err)
	}
	return signed
}
