package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bosley/voechoal/config"
	"github.com/bosley/voechoal/device"
	"github.com/bosley/voechoal/player"
	"github.com/bosley/voechoal/recorder"
	"github.com/bosley/voechoal/scribe"
	"github.com/bosley/voechoal/server"
	"github.com/bosley/voechoal/store"
	"github.com/spf13/cobra"
)

const scribeStopTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder, player, transcriber and HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	serveAddr  string
	serveToken string
	autoPause  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "bearer token (overrides server.token)")
	serveCmd.Flags().BoolVar(&autoPause, "auto-pause", false, "pause recording after speech followed by silence")
	rootCmd.AddCommand(serveCmd)
}

func newTranscriber(cfg config.WhisperConfig) scribe.Transcriber {
	if cfg.Mode == config.WhisperModeHTTP {
		slog.Info("Using whisper sidecar", "url", cfg.URL)
		return scribe.NewHTTPTranscriber(cfg.URL, cfg.Model, cfg.Language, cfg.Timeout)
	}
	slog.Info("Using whisper executable", "path", cfg.Path, "model", cfg.Model)
	return &scribe.ExecTranscriber{
		WhisperPath:  cfg.Path,
		WhisperModel: cfg.Model,
		Language:     cfg.Language,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveToken != "" {
		cfg.Server.Token = serveToken
	}
	if autoPause {
		cfg.Recorder.AutoPause = true
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			slog.Debug("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	scribeService, err := scribe.New(scribe.Config{
		RecordingsDir: cfg.DataDir,
		Watch:         cfg.Scribe.Watch,
		Workers:       cfg.Scribe.Workers,
		QueueSize:     cfg.Scribe.QueueSize,
		MaxSeconds:    cfg.Scribe.MaxSeconds,
		Prompt:        cfg.Whisper.Prompt,
	}, db, newTranscriber(cfg.Whisper))
	if err != nil {
		return fmt.Errorf("failed to initialize scribe: %w", err)
	}

	if err := device.Initialize(); err != nil {
		return err
	}
	defer device.Terminate()

	capture, err := device.NewCapture(cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		return err
	}

	rec := recorder.New(recorder.Config{
		AutoPause: cfg.Recorder.AutoPause,
		Silence:   cfg.Recorder.Silence,
		Threshold: cfg.Recorder.Threshold,
	}, capture, db, scribeService)

	play := player.New(device.NewOutput(), db)

	srv := server.New(server.Config{
		Addr:     cfg.Server.Addr,
		CertFile: cfg.Server.CertFile,
		KeyFile:  cfg.Server.KeyFile,
		Token:    cfg.Server.Token,
	}, server.Deps{
		Items:         db,
		Transcription: scribeService,
		Recorder:      rec,
		Player:        play,
	})
	if cfg.Server.Token == "" {
		slog.Warn("No token configured, the API is open to anyone who can reach it")
	}

	db.OnChange = srv.Notify
	scribeService.OnChange = srv.Notify

	// Recorder and player hold PortAudio streams, so they finish before Terminate
	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); rec.Run(ctx) }()
	go func() { defer loops.Done(); play.Run(ctx) }()
	scribeService.Start(ctx)

	defer func() {
		cancel()
		loops.Wait()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), scribeStopTimeout)
		defer stopCancel()
		if err := scribeService.Stop(stopCtx); err != nil {
			slog.Error("Failed to stop Scribe service", "error", err)
		}
	}()

	slog.Info("Voechoal started", "dataDir", cfg.DataDir, "items", len(db.Items()))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	slog.Debug("Program exiting")
	return nil
}
