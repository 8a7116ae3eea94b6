package scribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/store"
)

func (s *Scribe) worker(ctx context.Context) {
	slog.Debug("Worker starting")
	defer func() {
		slog.Debug("Worker shutting down")
		s.workers.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker context cancelled")
			return

		case job, ok := <-s.queue:
			if !ok {
				slog.Debug("Worker queue closed")
				return
			}

			if err := s.processJob(ctx, job); err != nil {
				slog.Error("Failed to process transcription job",
					"error", err,
					"file", job.AudioPath,
					"id", job.ItemID)
			}
		}
	}
}

func (s *Scribe) processJob(ctx context.Context, job Job) error {
	slog.Info("Processing audio file",
		"file", job.AudioPath,
		"id", job.ItemID)

	clip, err := audio.ReadWavFile(job.AudioPath)
	if err != nil {
		return err
	}

	clip = audio.PrepareForWhisper(clip, s.config.MaxSeconds)
	if len(clip.Samples) == 0 {
		slog.Debug("Ignoring empty recording", "id", job.ItemID)
		return nil
	}

	clipFile, err := os.CreateTemp("", job.ItemID+"_*_whisper.wav")
	if err != nil {
		return fmt.Errorf("failed to create whisper clip: %w", err)
	}
	clipPath := clipFile.Name()
	defer os.Remove(clipPath)

	if err := audio.WriteWav(clipFile, clip); err != nil {
		clipFile.Close()
		return err
	}
	if err := clipFile.Close(); err != nil {
		return fmt.Errorf("failed to close whisper clip: %w", err)
	}

	text, err := s.transcribe(ctx, clipPath)
	if err != nil {
		return err
	}

	if text == "" {
		slog.Info("No transcribable content found",
			"file", job.AudioPath,
			"id", job.ItemID)
		return nil
	}

	if err := s.upsertLabel(job, text); err != nil {
		return err
	}

	slog.Info("Successfully transcribed audio",
		"id", job.ItemID,
		"text", text)

	return nil
}

// transcribe runs the transcriber while holding the transcribing flag.
func (s *Scribe) transcribe(ctx context.Context, clipPath string) (string, error) {
	s.active.Add(1)
	s.changed()
	defer func() {
		s.active.Add(-1)
		s.changed()
	}()

	slog.Info("Started transcribing", "file", clipPath)
	text, err := s.transcriber.Transcribe(ctx, clipPath, s.config.Prompt)
	slog.Info("Stopped transcribing", "file", clipPath)

	return text, err
}

func (s *Scribe) upsertLabel(job Job, text string) error {
	updated, err := s.db.Update(store.UpdateParams{ID: job.ItemID, Label: &text})
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	// Unknown id: recreate the item unless its recording was deleted too
	if _, err := os.Stat(job.AudioPath); err != nil {
		slog.Info("Dropping transcript for removed audio item", "id", job.ItemID)
		return nil
	}
	item := audio.AudioItem{ID: job.ItemID, Label: &text, Filepath: job.AudioPath}
	if err := s.db.Save(item); err != nil {
		return fmt.Errorf("failed to upsert audio item: %w", err)
	}
	return nil
}
