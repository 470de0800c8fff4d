package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/spf13/cobra"
)

var peersLimit int

func init() {
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(peersCmd)

	peersCmd.Flags().IntVar(&peersLimit, "limit", 50, "Maximum number of peers to list")
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		_, client, err := signedInClient(logger)
		if err != nil {
			return err
		}
		channels, err := client.ListChannels(cmd.Context(), backend.OrderBySortKey)
		if backend.IsKind(err, backend.KindColumnNotFound) {
			channels, err = client.ListChannels(cmd.Context(), backend.OrderByCreatedAt)
		}
		if err != nil {
			return err
		}

		writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tNAME\tDESCRIPTION")
		for _, channel := range channels {
			fmt.Fprintf(writer, "%s\t%s %s\t%s\n", channel.ID, channel.Emoji, channel.Name, channel.Description)
		}
		return writer.Flush()
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List people you can message directly",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer logger.Sync() //nolint:errcheck

		cfg, client, err := signedInClient(logger)
		if err != nil {
			return err
		}
		if err := client.ProbeDirectMessages(cmd.Context()); err != nil {
			if backend.IsKind(err, backend.KindRelationNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "Direct messages are not available on this server.")
				return nil
			}
			return err
		}
		peers, err := client.ListProfiles(cmd.Context(), backend.ProfileQuery{ExcludeID: cfg.Auth.UserID, Limit: peersLimit})
		if err != nil {
			return err
		}

		writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tNAME")
		for _, peer := range peers {
			fmt.Fprintf(writer, "%s\t%s\n", peer.ID, peer.DisplayName)
		}
		return writer.Flush()
	},
}
