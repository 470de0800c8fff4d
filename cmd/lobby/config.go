package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configDirEnv   = "LOBBY_CLI_HOME"
	configDirName  = ".lobby"
	configFileName = "config.toml"
)

// Config is the CLI state kept in ~/.lobby/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds connection settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	Provider string `toml:"provider"`
	Channel  string `toml:"channel"`
}

// ConfigAuth holds the signed-in session.
type ConfigAuth struct {
	AccessToken string `toml:"access_token"`
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
}

func configDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv(configDirEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, configDirName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// loadConfig returns a zero Config when no file exists yet.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue assigns a dotted key such as "default.base_url".
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "provider":
			cfg.Default.Provider = value
		case "channel":
			cfg.Default.Channel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "access_token":
			cfg.Auth.AccessToken = value
		case "user_id":
			cfg.Auth.UserID = value
		case "display_name":
			cfg.Auth.DisplayName = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}
