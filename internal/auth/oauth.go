package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

var (
	// ErrProviderNotEnabled reports a provider outside the configured allowlist.
	ErrProviderNotEnabled = errors.New("oauth: provider is not enabled")
	errMissingAuthorizeURL = errors.New("oauth: authorize url required")
)

// AuthorizerConfig names the upstream authorize endpoint, the callback it returns to,
// and the providers it may be asked for.
type AuthorizerConfig struct {
	AuthorizeURL string
	CallbackURL  string
	Providers    []string
}

// Authorizer builds provider authorize URLs.
type Authorizer struct {
	authorizeURL *url.URL
	callbackURL  string
	providers    map[string]struct{}
}

// NewAuthorizer validates cfg and constructs an Authorizer.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	raw := strings.TrimSpace(cfg.AuthorizeURL)
	if raw == "" {
		return nil, errMissingAuthorizeURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("oauth: parse authorize url: %w", err)
	}
	providers := make(map[string]struct{}, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if normalized := normalizeProvider(provider); normalized != "" {
			providers[normalized] = struct{}{}
		}
	}
	return &Authorizer{
		authorizeURL: parsed,
		callbackURL:  strings.TrimSpace(cfg.CallbackURL),
		providers:    providers,
	}, nil
}

// AuthorizeURL returns the upstream URL that starts a sign-in with provider.
// The next path is sanitized before it is forwarded.
func (a *Authorizer) AuthorizeURL(provider, nextPath string) (string, error) {
	normalized := normalizeProvider(provider)
	if _, ok := a.providers[normalized]; !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotEnabled, provider)
	}
	target := *a.authorizeURL
	query := target.Query()
	query.Set("provider", normalized)
	query.Set("next", backend.SafeNextPath(nextPath))
	if a.callbackURL != "" {
		query.Set("redirect_uri", a.callbackURL)
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}

// Enabled reports whether provider is on the allowlist.
func (a *Authorizer) Enabled(provider string) bool {
	_, ok := a.providers[normalizeProvider(provider)]
	return ok
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
