package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 60 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")

	// ErrInvalidAccessToken indicates a malformed, foreign or expired access token.
	ErrInvalidAccessToken = errors.New("access token: invalid")
	// ErrRevokedAccessToken indicates a token signed out before its expiry.
	ErrRevokedAccessToken = errors.New("access token: revoked")
)

// AccessClaims is the access-token payload: the identity plus registered claims.
type AccessClaims struct {
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims back into the identity they were issued for.
func (c AccessClaims) Identity() backend.Identity {
	return backend.Identity{
		ID:    c.Subject,
		Email: c.Email,
		Metadata: backend.IdentityMetadata{
			FullName:  c.FullName,
			Name:      c.Name,
			AvatarURL: c.AvatarURL,
		},
	}
}

// TokenIssuerConfig configures the access-token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates access tokens and remembers revoked token ids until they expire.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewTokenIssuer constructs a TokenIssuer, validating its configuration.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL < 0 {
		return nil, errNonPositiveTTL
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
		revoked:       make(map[string]time.Time),
	}, nil
}

// IssueAccessToken produces a signed JWT for identity and its lifetime in seconds.
func (i *TokenIssuer) IssueAccessToken(_ context.Context, identity backend.Identity) (string, int64, error) {
	subject := strings.TrimSpace(identity.ID)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()
	claims := AccessClaims{
		Email:     strings.TrimSpace(identity.Email),
		FullName:  strings.TrimSpace(identity.Metadata.FullName),
		Name:      strings.TrimSpace(identity.Metadata.Name),
		AvatarURL: strings.TrimSpace(identity.Metadata.AvatarURL),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken verifies signature, issuer, audience, expiry and revocation.
func (i *TokenIssuer) ValidateToken(tokenString string) (AccessClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AccessClaims{}, ErrInvalidAccessToken
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, errMissingSubjectClaim)
	}
	if i.isRevoked(claims.ID) {
		return AccessClaims{}, ErrRevokedAccessToken
	}
	return *claims, nil
}

// Revoke rejects the token behind claims until it would have expired anyway.
func (i *TokenIssuer) Revoke(claims AccessClaims) {
	if claims.ID == "" {
		return
	}
	expiresAt := i.clock().UTC().Add(i.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pruneLocked()
	i.revoked[claims.ID] = expiresAt
}

func (i *TokenIssuer) isRevoked(tokenID string) bool {
	if tokenID == "" {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	_, revoked := i.revoked[tokenID]
	return revoked
}

func (i *TokenIssuer) pruneLocked() {
	now := i.clock()
	for tokenID, expiresAt := range i.revoked {
		if now.After(expiresAt) {
			delete(i.revoked, tokenID)
		}
	}
}
