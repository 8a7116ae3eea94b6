package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/scribe"
	"github.com/google/uuid"
)

var ErrNotRunning = errors.New("recorder is not running")

// Source delivers captured audio to out until stopped.
type Source interface {
	Start(out func(samples []float32)) error
	Stop() error
	SampleRate() int
	Channels() int
}

// ItemStore is the slice of the database the recorder needs.
type ItemStore interface {
	GetOrCreate(id string) audio.AudioItem
	Save(item audio.AudioItem) error
	WriteWav(item audio.AudioItem, clip audio.Clip) error
	Remove(id string) (bool, error)
}

// Queue accepts recordings for transcription.
type Queue interface {
	Enqueue(job scribe.Job) error
}

type Config struct {
	// Pause on its own after speech followed by Silence of quiet
	AutoPause bool
	Silence   time.Duration
	Threshold float64
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdPause
)

type command struct {
	kind commandKind
	done chan error
}

// Recorder captures one audio item at a time and turns it into a stored recording.
type Recorder struct {
	source Source
	db     ItemStore
	queue  Queue
	cfg    Config

	commands  chan command
	autoPause chan struct{}

	mu        sync.Mutex
	buffer    []float32
	recording bool
	currentID string
	detector  *silenceDetector
}

func New(cfg Config, source Source, db ItemStore, queue Queue) *Recorder {
	if cfg.Silence <= 0 {
		cfg.Silence = time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2.22
	}
	return &Recorder{
		source:    source,
		db:        db,
		queue:     queue,
		cfg:       cfg,
		commands:  make(chan command),
		autoPause: make(chan struct{}, 1),
	}
}

// Run serves Start and Pause requests until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	slog.Debug("Recorder is ready")
	defer func() {
		if r.IsRecording() {
			r.pause()
		}
		slog.Debug("Recorder shutting down")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-r.commands:
			switch cmd.kind {
			case cmdStart:
				cmd.done <- r.start()
			case cmdPause:
				cmd.done <- r.pause()
			}

		case <-r.autoPause:
			if r.IsRecording() {
				slog.Info("Extended silence detected, pausing recording")
				if err := r.pause(); err != nil {
					slog.Error("Failed to auto-pause recording", "error", err)
				}
			}
		}
	}
}

// Start begins a new recording. Starting while already recording is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	return r.send(ctx, cmdStart)
}

// Pause ends the current recording and queues it for transcription.
func (r *Recorder) Pause(ctx context.Context) error {
	return r.send(ctx, cmdPause)
}

func (r *Recorder) send(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, done: make(chan error, 1)}
	select {
	case r.commands <- cmd:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotRunning, ctx.Err())
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// CurrentID returns the id of the item being recorded, if any.
func (r *Recorder) CurrentID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID, r.recording
}

func (r *Recorder) start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		slog.Debug("Already recording, ignoring start", "id", r.currentID)
		return nil
	}
	r.recording = true
	r.currentID = uuid.NewString()
	r.buffer = r.buffer[:0]
	if r.cfg.AutoPause {
		r.detector = newSilenceDetector(r.cfg.Threshold, r.cfg.Silence)
	} else {
		r.detector = nil
	}
	id := r.currentID
	r.mu.Unlock()

	if err := r.source.Start(r.capture); err != nil {
		r.mu.Lock()
		r.recording = false
		r.currentID = ""
		r.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	slog.Info("Listening...", "id", id)
	return nil
}

// capture runs on the audio callback and must not block.
func (r *Recorder) capture(samples []float32) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.buffer = append(r.buffer, samples...)
	quiet := r.detector != nil && r.detector.feed(samples)
	r.mu.Unlock()

	if quiet {
		select {
		case r.autoPause <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) pause() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = false
	id := r.currentID
	r.currentID = ""
	samples := make([]float32, len(r.buffer))
	copy(samples, r.buffer)
	r.buffer = r.buffer[:0]
	r.mu.Unlock()

	if err := r.source.Stop(); err != nil {
		slog.Error("Failed to stop capture", "error", err)
	}
	slog.Info("Done listening", "id", id, "samples", len(samples))

	if len(samples) == 0 {
		slog.Debug("Ignoring empty buffer", "id", id)
		return nil
	}

	clip := audio.Clip{Samples: samples, SampleRate: r.source.SampleRate(), Channels: r.source.Channels()}
	return r.persist(id, clip)
}

// persist saves the item before its WAV so the watcher recognises the file as ours.
func (r *Recorder) persist(id string, clip audio.Clip) error {
	item := r.db.GetOrCreate(id)

	if err := r.db.Save(item); err != nil {
		return fmt.Errorf("failed to save new audio item: %w", err)
	}

	if err := r.db.WriteWav(item, clip); err != nil {
		if _, rmErr := r.db.Remove(id); rmErr != nil {
			slog.Error("Failed to roll back audio item", "id", id, "error", rmErr)
		}
		return fmt.Errorf("failed to write recording: %w", err)
	}

	if err := r.queue.Enqueue(scribe.Job{ItemID: id, AudioPath: item.Filepath, Timestamp: time.Now()}); err != nil {
		// The recording is kept; it just stays unlabelled
		slog.Warn("Failed to queue recording for transcription", "id", id, "error", err)
	}

	return nil
}
