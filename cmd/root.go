package cmd

import (
	"log/slog"
	"os"

	"github.com/bosley/voechoal/config"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "voechoal",
	Short: "Record voice memos and label them with whisper transcripts",
	Long: `Voechoal records audio from a microphone, stores each recording as a WAV file,
labels it with a whisper transcription and serves the collection over HTTP
so a front end can poll it, play items back and start new recordings.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("Configuration loaded", "dataDir", cfg.DataDir, "addr", cfg.Server.Addr, "whisperMode", cfg.Whisper.Mode)
	return cfg, nil
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./voechoal.yaml or <data_dir>/voechoal.yaml)")
}
