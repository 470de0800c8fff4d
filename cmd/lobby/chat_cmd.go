package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/lobby"
	"github.com/MarcoPoloResearchLab/lobby/internal/remote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	bootstrapTimeout = 15 * time.Second
	quitCommand      = "/quit"
)

var chatOptimistic bool

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(dmCmd)

	for _, cmd := range []*cobra.Command{chatCmd, dmCmd} {
		cmd.Flags().BoolVar(&chatOptimistic, "optimistic", false, "Show sent messages before the server confirms them")
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat [channel]",
	Short: "Join a channel and chat",
	Long:  "Join a channel (default.channel or the first listed channel) and chat.\nType /quit to leave.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID := ""
		if len(args) == 1 {
			channelID = args[0]
		}
		return runChat(cmd, func(ctx context.Context, client *lobby.Client, cfg *Config) error {
			if channelID == "" {
				channelID = cfg.Default.Channel
			}
			if channelID == "" {
				return nil
			}
			return client.SelectRoom(ctx, channelID)
		})
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <peer-id>",
	Short: "Open a direct conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID := args[0]
		return runChat(cmd, func(ctx context.Context, client *lobby.Client, _ *Config) error {
			return client.SelectDirectRoom(ctx, peerID)
		})
	},
}

func runChat(cmd *cobra.Command, selectRoom func(context.Context, *lobby.Client, *Config) error) error {
	logger := newLogger()
	defer logger.Sync() //nolint:errcheck

	cfg, remoteClient, err := signedInClient(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := startLobby(ctx, remoteClient, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	state := client.State()
	if state.Identity == nil {
		if err := forgetSession(cfg); err != nil {
			return err
		}
		return errNotSignedIn
	}
	if err := selectRoom(ctx, client, cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	view := newTranscript(out)
	unsubscribe := client.OnChange(func() { view.Render(client.State()) })
	defer unsubscribe()
	view.Render(client.State())

	return readInput(ctx, cmd.InOrStdin(), func(line string) error {
		if err := client.Send(ctx, line); err != nil {
			if errors.Is(err, lobby.ErrSendInFlight) {
				fmt.Fprintln(out, "! still sending the previous message")
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
		return nil
	})
}

// startLobby starts a client and waits until its first room is ready or the session is gone.
func startLobby(ctx context.Context, remoteClient *remote.Client, logger *zap.Logger) (*lobby.Client, error) {
	client, err := lobby.New(lobby.Config{
		Auth:           remoteClient,
		Store:          remoteClient,
		Feed:           remoteClient,
		OptimisticSend: chatOptimistic,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	changed := make(chan struct{}, 1)
	unsubscribe := client.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := client.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()
	for {
		state := client.State()
		if state.Identity == nil && !state.Resolving {
			return client, nil
		}
		if state.ActiveRoom != nil && !state.MessagesLoading {
			return client, nil
		}
		if state.Identity != nil && len(state.Channels) == 0 && state.Profile != nil {
			return client, nil
		}
		select {
		case <-changed:
		case <-waitCtx.Done():
			client.Close()
			return nil, fmt.Errorf("lobby did not become ready: %w", waitCtx.Err())
		}
	}
}

func readInput(ctx context.Context, in io.Reader, send func(string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == quitCommand {
				return nil
			}
			if err := send(line); err != nil {
				return err
			}
		}
	}
}

// transcript prints each confirmed message of the active room once.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	roomID  string
	printed map[string]struct{}
	lastErr string
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{out: out, printed: make(map[string]struct{})}
}

func (t *transcript) Render(state lobby.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.ActiveRoom == nil {
		return
	}
	if state.ActiveRoom.ID != t.roomID {
		t.roomID = state.ActiveRoom.ID
		t.printed = make(map[string]struct{})
		t.lastErr = ""
		fmt.Fprintf(t.out, "== %s ==\n", state.ActiveRoom.Name)
	}
	if state.HistoryErr != nil && t.lastErr != state.HistoryErr.Error() {
		t.lastErr = state.HistoryErr.Error()
		fmt.Fprintf(t.out, "! history unavailable: %v\n", state.HistoryErr)
	}
	for _, message := range state.Messages {
		if message.Pending {
			continue
		}
		if _, seen := t.printed[message.ID]; seen {
			continue
		}
		t.printed[message.ID] = struct{}{}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", message.CreatedAt.Local().Format("15:04"), message.Author.DisplayName, message.Content)
	}
	if state.SendErr != "" && t.lastErr != state.SendErr {
		t.lastErr = state.SendErr
		fmt.Fprintf(t.out, "! %s\n", state.SendErr)
	}
}
