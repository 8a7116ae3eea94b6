package scribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("scribe is stopped")
)

// Configuration for the Scribe service
type Config struct {
	// Directory watched for recordings dropped in from outside
	RecordingsDir string

	// Watch RecordingsDir for new WAV files
	Watch bool

	// Number of worker goroutines for processing
	Workers int

	// Capacity of the job queue
	QueueSize int

	// Only the first MaxSeconds of a recording are transcribed
	MaxSeconds float64

	// Prompt handed to whisper with every clip
	Prompt string
}

// Scribe labels audio items by transcribing their recordings.
type Scribe struct {
	config      Config
	transcriber Transcriber
	db          ItemStore

	// File system watcher
	watcher *fsnotify.Watcher
	pending sync.Map // map[string]*time.Timer

	// Processing queue
	queue   chan Job
	workers sync.WaitGroup
	mu      sync.RWMutex
	stopped bool

	// Number of transcriptions in flight
	active atomic.Int32

	// OnChange is called whenever IsTranscribing may have flipped.
	OnChange func()
}

// New creates a new Scribe instance
func New(cfg Config, db ItemStore, t Transcriber) (*Scribe, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = 5
	}

	s := &Scribe{
		config:      cfg,
		transcriber: t,
		db:          db,
		queue:       make(chan Job, cfg.QueueSize),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Start launches the worker pool and the watcher. It does not block.
func (s *Scribe) Start(ctx context.Context) {
	for i := 0; i < s.config.Workers; i++ {
		s.workers.Add(1)
		go s.worker(ctx)
	}

	if s.watcher != nil {
		go s.watchFiles(ctx)
	}
}

// Stop gracefully shuts down the Scribe service
func (s *Scribe) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
	}

	return nil
}

// Enqueue hands a job to the worker pool without blocking.
func (s *Scribe) Enqueue(job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return ErrStopped
	}

	select {
	case s.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// IsTranscribing reports whether any worker is running whisper right now.
func (s *Scribe) IsTranscribing() bool {
	return s.active.Load() > 0
}

func (s *Scribe) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
