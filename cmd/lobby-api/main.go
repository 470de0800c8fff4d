package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/auth"
	"github.com/MarcoPoloResearchLab/lobby/internal/chat"
	"github.com/MarcoPoloResearchLab/lobby/internal/config"
	"github.com/MarcoPoloResearchLab/lobby/internal/database"
	"github.com/MarcoPoloResearchLab/lobby/internal/logging"
	"github.com/MarcoPoloResearchLab/lobby/internal/profiles"
	"github.com/MarcoPoloResearchLab/lobby/internal/realtime"
	"github.com/MarcoPoloResearchLab/lobby/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lobby-api",
		Short: "Lobby chat backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	flags.String("signing-secret", "", "Access token signing secret (overrides env)")
	flags.String("identity-secret", "", "Identity code signing secret (overrides env)")
	flags.String("authorize-url", "", "Upstream OAuth authorize URL")
	flags.String("callback-url", "", "OAuth callback URL forwarded to the identity provider")
	flags.StringSlice("providers", defaults.GetStringSlice("auth.providers"), "Enabled OAuth providers")
	flags.StringSlice("cors-origins", defaults.GetStringSlice("cors.origins"), "Allowed CORS origins")
	flags.Bool("direct-messages", defaults.GetBool("features.direct_messages"), "Provision the direct_messages table")
	flags.Bool("channel-sort-order", defaults.GetBool("features.channel_sort_order"), "Provision the channels.sort_order column")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "identity.signing_secret", "identity-secret")
	bindFlag(cmd, "auth.authorize_url", "authorize-url")
	bindFlag(cmd, "auth.callback_url", "callback-url")
	bindFlag(cmd, "auth.providers", "providers")
	bindFlag(cmd, "cors.origins", "cors-origins")
	bindFlag(cmd, "features.direct_messages", "direct-messages")
	bindFlag(cmd, "features.channel_sort_order", "channel-sort-order")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, database.Features{
		DirectMessages:   appConfig.DirectMessages,
		ChannelSortOrder: appConfig.ChannelSortOrder,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dispatcher := realtime.NewDispatcher(realtime.Config{
		BufferSize: appConfig.RealtimeBuffer,
		Logger:     logger.Named("realtime"),
	})

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger.Named("profiles"),
	})
	if err != nil {
		return err
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: chat.NewUUIDProvider(),
		Publisher:  dispatcher,
		Logger:     logger.Named("chat"),
	})
	if err != nil {
		return err
	}
	store, err := chat.NewStore(profileService, chatService)
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	codeValidator, err := auth.NewCodeValidator(auth.CodeValidatorConfig{
		SigningSecret: []byte(appConfig.IdentitySigningSecret),
		Issuer:        appConfig.IdentityIssuer,
	})
	if err != nil {
		return err
	}
	authorizer, err := auth.NewAuthorizer(auth.AuthorizerConfig{
		AuthorizeURL: appConfig.AuthorizeURL,
		CallbackURL:  appConfig.CallbackURL,
		Providers:    appConfig.Providers,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		CodeValidator: codeValidator,
		Authorizer:    authorizer,
		Store:         store,
		Realtime:      dispatcher,
		Logger:        logger,
		CORSOrigins:   appConfig.CORSOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("direct_messages", appConfig.DirectMessages),
			zap.Bool("channel_sort_order", appConfig.ChannelSortOrder),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
