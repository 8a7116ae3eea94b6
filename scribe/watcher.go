package scribe

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/fsnotify/fsnotify"
)

// Files are imported once they have been quiet for this long.
const settleDelay = 500 * time.Millisecond

func (s *Scribe) watchFiles(ctx context.Context) {
	if err := s.watcher.Add(s.config.RecordingsDir); err != nil {
		slog.Error("Failed to start watching recordings directory",
			"error", err,
			"path", s.config.RecordingsDir)
		return
	}

	slog.Info("Started watching recordings directory",
		"path", s.config.RecordingsDir)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// handleFSEvent (re)arms the settle timer for WAV files being created or written.
func (s *Scribe) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if _, ok := itemIDFromPath(event.Name); !ok {
		return
	}

	path := event.Name
	timer := time.AfterFunc(settleDelay, func() {
		s.pending.Delete(path)
		s.importFile(path)
	})
	if prev, loaded := s.pending.Swap(path, timer); loaded {
		prev.(*time.Timer).Stop()
	}
}

// itemIDFromPath maps <dir>/<id>.wav to id, skipping whisper clips and temp files.
func itemIDFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".tmp") || !strings.HasSuffix(name, ".wav") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".wav")
	if id == "" || strings.HasSuffix(id, "_whisper") {
		return "", false
	}
	return id, true
}

// importFile registers a dropped-in recording and queues it for transcription.
func (s *Scribe) importFile(path string) {
	id, ok := itemIDFromPath(path)
	if !ok {
		return
	}

	if _, known := s.db.Get(id); known {
		slog.Debug("Ignoring recording of known audio item", "id", id)
		return
	}

	item := audio.AudioItem{ID: id, Filepath: path}
	if err := s.db.Save(item); err != nil {
		slog.Error("Failed to import recording", "error", err, "file", path)
		return
	}

	slog.Info("Found new WAV file", "id", id, "file", filepath.Base(path))

	if err := s.Enqueue(Job{ItemID: id, AudioPath: path, Timestamp: time.Now()}); err != nil {
		slog.Error("Failed to queue imported recording", "error", err, "id", id)
	}
}
