package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "LOBBY"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "lobby.db"
	defaultLogLevel        = "info"
	defaultTokenIssuer     = "lobby-auth"
	defaultTokenAudience   = "lobby-api"
	defaultTokenTTLMinutes = 60
	defaultIdentityIssuer  = "lobby-identity"
	defaultRealtimeBuffer  = 64
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration

	IdentitySigningSecret string
	IdentityIssuer        string

	AuthorizeURL string
	CallbackURL  string
	Providers    []string

	DirectMessages   bool
	ChannelSortOrder bool

	CORSOrigins    []string
	RealtimeBuffer int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("identity.issuer", defaultIdentityIssuer)
	configViper.SetDefault("auth.providers", []string{"github", "google"})
	configViper.SetDefault("features.direct_messages", true)
	configViper.SetDefault("features.channel_sort_order", true)
	configViper.SetDefault("cors.origins", []string{"*"})
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		SigningSecret:         configViper.GetString("auth.signing_secret"),
		TokenIssuer:           configViper.GetString("auth.issuer"),
		TokenAudience:         configViper.GetString("auth.audience"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		IdentitySigningSecret: configViper.GetString("identity.signing_secret"),
		IdentityIssuer:        configViper.GetString("identity.issuer"),
		AuthorizeURL:          configViper.GetString("auth.authorize_url"),
		CallbackURL:           configViper.GetString("auth.callback_url"),
		Providers:             splitList(configViper.GetStringSlice("auth.providers")),
		DirectMessages:        configViper.GetBool("features.direct_messages"),
		ChannelSortOrder:      configViper.GetBool("features.channel_sort_order"),
		CORSOrigins:           splitList(configViper.GetStringSlice("cors.origins")),
		RealtimeBuffer:        configViper.GetInt("realtime.buffer_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.IdentitySigningSecret) == "" {
		return fmt.Errorf("identity.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.RealtimeBuffer <= 0 {
		return fmt.Errorf("realtime.buffer_size must be positive")
	}
	return nil
}

// splitList flattens comma separated entries, which is how env values arrive.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
