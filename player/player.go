package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bosley/voechoal/audio"
)

var (
	ErrUnknownItem = errors.New("unknown audio item")
	ErrNotRunning  = errors.New("player is not running")
)

// Output renders a clip. Play blocks until the clip ends or ctx is cancelled.
type Output interface {
	Play(ctx context.Context, clip audio.Clip) error
	Pause()
	Resume()
}

// ItemStore is the slice of the database the player needs.
type ItemStore interface {
	Get(id string) (audio.AudioItem, bool)
	SetPlaying(id string, playing bool) (bool, error)
}

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPause
	cmdStop
)

type command struct {
	kind commandKind
	id   string
	done chan error
}

// playback is the item currently loaded into the output.
type playback struct {
	id     string
	gen    uint64
	paused bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Player plays one audio item at a time and keeps is_playing in sync.
type Player struct {
	out Output
	db  ItemStore

	commands chan command
	finished chan uint64

	current *playback
	gen     uint64
}

func New(out Output, db ItemStore) *Player {
	return &Player{
		out:      out,
		db:       db,
		commands: make(chan command),
		finished: make(chan uint64),
	}
}

// Run serves play and pause requests until ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	slog.Info("Player is ready")
	defer func() {
		p.stopCurrent()
		slog.Debug("Player shutting down")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-p.commands:
			var err error
			switch cmd.kind {
			case cmdPlay:
				err = p.play(ctx, cmd.id)
			case cmdPause:
				err = p.pause(cmd.id)
			case cmdStop:
				err = p.stop(cmd.id)
			}
			cmd.done <- err

		case gen := <-p.finished:
			if p.current == nil || p.current.gen != gen {
				continue
			}
			slog.Info("Audio item is done playing", "id", p.current.id)
			p.markPlaying(p.current.id, false)
			p.current = nil
		}
	}
}

// Play starts or resumes id, stopping whatever else was loaded.
func (p *Player) Play(ctx context.Context, id string) error {
	return p.send(ctx, cmdPlay, id)
}

// Pause pauses id if it is the item playing and marks it not playing.
func (p *Player) Pause(ctx context.Context, id string) error {
	return p.send(ctx, cmdPause, id)
}

// Stop unloads id if it is the current item.
func (p *Player) Stop(ctx context.Context, id string) error {
	return p.send(ctx, cmdStop, id)
}

func (p *Player) send(ctx context.Context, kind commandKind, id string) error {
	cmd := command{kind: kind, id: id, done: make(chan error, 1)}
	select {
	case p.commands <- cmd:
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

func (p *Player) play(ctx context.Context, id string) error {
	slog.Info("Requested to play item", "id", id)

	item, ok := p.db.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}

	if p.current != nil && p.current.id == id {
		if p.current.paused {
			p.out.Resume()
			p.current.paused = false
			p.markPlaying(id, true)
		}
		return nil
	}

	if p.current != nil {
		slog.Info("Stopping old track", "id", p.current.id)
		p.stopCurrent()
	}

	clip, err := audio.ReadWavFile(item.Filepath)
	if err != nil {
		p.markPlaying(id, false)
		return fmt.Errorf("failed to open recording for %s: %w", id, err)
	}

	p.markPlaying(id, true)

	p.gen++
	pctx, cancel := context.WithCancel(ctx)
	pb := &playback{id: id, gen: p.gen, cancel: cancel, done: make(chan struct{})}
	p.current = pb

	go func() {
		err := p.out.Play(pctx, clip)
		close(pb.done)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Playback failed", "id", id, "error", err)
		}
		select {
		case p.finished <- pb.gen:
		case <-ctx.Done():
		}
	}()

	slog.Info("Audio item is playing", "id", id)
	return nil
}

func (p *Player) pause(id string) error {
	slog.Info("Requested to pause item", "id", id)

	if _, ok := p.db.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}

	if p.current != nil && p.current.id == id && !p.current.paused {
		p.out.Pause()
		p.current.paused = true
	}
	p.markPlaying(id, false)
	return nil
}

func (p *Player) stop(id string) error {
	if p.current != nil && p.current.id == id {
		p.stopCurrent()
	}
	return nil
}

// stopCurrent cancels playback and waits for the output to let go.
func (p *Player) stopCurrent() {
	if p.current == nil {
		return
	}
	pb := p.current
	p.current = nil

	pb.cancel()
	<-pb.done
	if pb.paused {
		// The output is shared, the next item must not start paused
		p.out.Resume()
	}
	p.markPlaying(pb.id, false)
}

func (p *Player) markPlaying(id string, playing bool) {
	if _, err := p.db.SetPlaying(id, playing); err != nil {
		slog.Error("Failed to update audio item playing state", "id", id, "playing", playing, "error", err)
	}
}
