package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
)

const (
	opGetSession   = "remote.get_session"
	opSignOut      = "remote.sign_out"
	opSignIn       = "remote.sign_in_with_oauth"
	opExchangeCode = "remote.exchange_code"
)

type sessionPayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	User        backend.Identity `json:"user"`
}

// GetSession returns the identity behind the current token, or nil when
// there is no token or the server no longer accepts it.
func (c *Client) GetSession(ctx context.Context) (*backend.Identity, error) {
	if c.AccessToken() == "" {
		return nil, nil
	}
	var payload sessionPayload
	err := c.do(ctx, opGetSession, http.MethodGet, "/auth/session", nil, nil, &payload)
	if backend.IsKind(err, backend.KindUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	identity := payload.User
	return &identity, nil
}

func (c *Client) OnSessionChange(listener func(*backend.Identity)) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = listener
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// SignOut revokes the token server side and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.AccessToken()
	if token == "" {
		return nil
	}
	err := c.do(ctx, opSignOut, http.MethodDelete, "/auth/session", nil, nil, nil)
	c.setToken("")
	c.notify(nil)
	if backend.IsKind(err, backend.KindUnauthorized) {
		return nil
	}
	return err
}

// SignInWithOAuth returns the provider authorize URL; the browser finishes the flow.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTarget string) (string, error) {
	query := url.Values{}
	query.Set("provider", strings.TrimSpace(provider))
	query.Set("next", redirectTarget)
	var payload struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, opSignIn, http.MethodGet, "/auth/authorize", query, nil, &payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}

// ExchangeCode trades an identity code for an access token and announces the new session.
func (c *Client) ExchangeCode(ctx context.Context, code string) (backend.Identity, error) {
	var payload sessionPayload
	body := map[string]string{"code": strings.TrimSpace(code)}
	if err := c.do(ctx, opExchangeCode, http.MethodPost, "/auth/session", nil, body, &payload); err != nil {
		return backend.Identity{}, err
	}
	c.setToken(payload.AccessToken)
	identity := payload.User
	c.notify(&identity)
	return identity, nil
}
