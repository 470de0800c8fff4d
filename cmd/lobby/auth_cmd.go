package main

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/lobby"
	"github.com/spf13/cobra"
)

var (
	loginCode         string
	authorizeProvider string
	authorizeNext     string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringVar(&loginCode, "code", "", "Identity code from the OAuth sign-in page")
	_ = loginCmd.MarkFlagRequired("code")

	authorizeCmd.Flags().StringVar(&authorizeProvider, "provider", "", "OAuth provider (defaults to default.provider)")
	authorizeCmd.Flags().StringVar(&authorizeNext, "next", backend.DefaultNextPath, "Path to return to after sign-in")
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Print the URL that starts an OAuth sign-in",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newRemoteClient(cfg, logger)
		if err != nil {
			return err
		}
		provider := strings.TrimSpace(authorizeProvider)
		if provider == "" {
			provider = cfg.Default.Provider
		}
		if provider == "" {
			return fmt.Errorf("provider required: pass --provider or set default.provider")
		}
		authorizeURL, err := client.SignInWithOAuth(cmd.Context(), provider, authorizeNext)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), authorizeURL)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange an identity code for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		client, err := newRemoteClient(cfg, logger)
		if err != nil {
			return err
		}
		identity, err := client.ExchangeCode(cmd.Context(), loginCode)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth = ConfigAuth{
			AccessToken: client.AccessToken(),
			UserID:      identity.ID,
			DisplayName: lobby.DefaultDisplayName(identity),
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", cfg.Auth.DisplayName, identity.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.AccessToken == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		client, err := newRemoteClient(cfg, logger)
		if err != nil {
			return err
		}
		signOutErr := client.SignOut(cmd.Context())
		if err := forgetSession(cfg); err != nil {
			return err
		}
		if signOutErr != nil {
			return fmt.Errorf("signed out locally; server sign-out failed: %w", signOutErr)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		cfg, client, err := signedInClient(logger)
		if err != nil {
			return err
		}
		identity, err := client.GetSession(cmd.Context())
		if err != nil {
			return err
		}
		if identity == nil {
			if err := forgetSession(cfg); err != nil {
				return err
			}
			return errNotSignedIn
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", identity.ID, lobby.DefaultDisplayName(*identity), identity.Email)
		return nil
	},
}
