// Command lobby is a terminal client for the lobby chat service.
package main

import (
	"os"

	"github.com/MarcoPoloResearchLab/lobby/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	baseURL  string
)

var rootCmd = &cobra.Command{
	Use:           "lobby",
	Short:         "Lobby chat CLI",
	Long:          "Command-line client for lobby chat.\nSign in, browse channels and peers, and chat in real time.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Backend URL (overrides default.base_url)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	logger, err := logging.NewCLILogger(logLevel)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
