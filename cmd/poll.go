package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/client"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Print the polling state of a running server",
	Long: `Poll fetches the current polling state from a running server and prints it as
JSON. With --watch it stays connected and prints every state the server pushes.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

var (
	pollServer string
	pollToken  string
	pollWatch  bool
)

func init() {
	pollCmd.Flags().StringVarP(&pollServer, "server", "s", "", "server URL (overrides client.url)")
	pollCmd.Flags().StringVar(&pollToken, "token", "", "bearer token (overrides server.token)")
	pollCmd.Flags().BoolVarP(&pollWatch, "watch", "w", false, "print every pushed state until interrupted")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	clientCfg := client.Config{
		ServerURL: cfg.Client.URL,
		Token:     cfg.Server.Token,
		Insecure:  cfg.Client.Insecure,
		CertFile:  cfg.Client.CertFile,
	}
	if pollServer != "" {
		clientCfg.ServerURL = pollServer
	}
	if pollToken != "" {
		clientCfg.Token = pollToken
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if !pollWatch {
		state, err := c.Poll(ctx)
		if err != nil {
			return err
		}
		return printState(out, state)
	}

	return c.Subscribe(ctx, func(state audio.PollingState) {
		if err := printState(out, state); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
}

func printState(w io.Writer, state audio.PollingState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
