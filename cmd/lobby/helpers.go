package main

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/remote"
	"go.uber.org/zap"
)

var errNotSignedIn = errors.New("not signed in: run 'lobby login --code <code>' first")

// resolveBaseURL prefers the --base-url flag, then the config file, then the default.
func resolveBaseURL(cfg *Config) string {
	if value := strings.TrimSpace(baseURL); value != "" {
		return value
	}
	if value := strings.TrimSpace(cfg.Default.BaseURL); value != "" {
		return value
	}
	return remote.DefaultBaseURL
}

func newRemoteClient(cfg *Config, logger *zap.Logger) (*remote.Client, error) {
	opts := []remote.Option{remote.WithLogger(logger)}
	if cfg.Auth.AccessToken != "" {
		opts = append(opts, remote.WithAccessToken(cfg.Auth.AccessToken))
	}
	return remote.NewClient(resolveBaseURL(cfg), opts...)
}

// signedInClient loads the config and requires a stored access token.
func signedInClient(logger *zap.Logger) (*Config, *remote.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.AccessToken == "" {
		return nil, nil, errNotSignedIn
	}
	client, err := newRemoteClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

// forgetSession drops stored credentials, keeping connection settings.
func forgetSession(cfg *Config) error {
	cfg.Auth = ConfigAuth{}
	return saveConfig(cfg)
}
