package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCodeSigningKey = errors.New("code validator: signing key required")
	ErrMissingCodeIssuer     = errors.New("code validator: issuer required")
	ErrMissingIdentityCode   = errors.New("code validator: code required")
	ErrInvalidIdentityCode   = errors.New("code validator: invalid code")
	ErrExpiredIdentityCode   = errors.New("code validator: code expired")
	ErrMissingCodeSubject    = errors.New("code validator: subject required")
)

// IdentityClaims is the payload of an identity code minted by the upstream identity provider
// after a completed OAuth round trip.
type IdentityClaims struct {
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Provider  string `json:"provider"`
	jwt.RegisteredClaims
}

// CodeValidatorConfig describes how to validate identity codes.
type CodeValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// CodeValidator validates HS256 identity codes and yields the identity they carry.
type CodeValidator struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewCodeValidator constructs a validator with the provided configuration.
func NewCodeValidator(cfg CodeValidatorConfig) (*CodeValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingCodeSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingCodeIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CodeValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateCode validates the supplied code and returns the identity it names.
func (v *CodeValidator) ValidateCode(code string) (backend.Identity, error) {
	token := strings.TrimSpace(code)
	if token == "" {
		return backend.Identity{}, ErrMissingIdentityCode
	}

	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidIdentityCode, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return backend.Identity{}, ErrExpiredIdentityCode
		}
		return backend.Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentityCode, err)
	}
	if parsed == nil || !parsed.Valid {
		return backend.Identity{}, ErrInvalidIdentityCode
	}
	if claims.Issuer != v.issuer {
		return backend.Identity{}, ErrInvalidIdentityCode
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return backend.Identity{}, ErrMissingCodeSubject
	}
	return backend.Identity{
		ID:    subject,
		Email: strings.TrimSpace(claims.Email),
		Metadata: backend.IdentityMetadata{
			FullName:  strings.TrimSpace(claims.FullName),
			Name:      strings.TrimSpace(claims.Name),
			AvatarURL: strings.TrimSpace(claims.AvatarURL),
		},
	}, nil
}
