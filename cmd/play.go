package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/bosley/voechoal/device"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <wav-file>",
	Short: "Play a WAV file on the default output device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err := device.PlayFile(ctx, args[0])
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
}
