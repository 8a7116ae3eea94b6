package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/scribe"
	"github.com/bosley/voechoal/store"
)

type fakeSource struct {
	mu       sync.Mutex
	out      func([]float32)
	startErr error
	starts   int
	stops    int
}

func (f *fakeSource) Start(out func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.out = out
	f.starts++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
	f.stops++
	return nil
}

func (f *fakeSource) SampleRate() int { return 16000 }
func (f *fakeSource) Channels() int   { return 1 }

func (f *fakeSource) emit(samples []float32) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out != nil {
		out(samples)
	}
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []scribe.Job
	err  error
}

func (q *fakeQueue) Enqueue(job scribe.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func setup(t *testing.T, cfg Config) (*Recorder, *fakeSource, *store.FSDatabase, *fakeQueue) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{}
	q := &fakeQueue{}
	r := New(cfg, src, db, q)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	return r, src, db, q
}

func TestRecordAndPause(t *testing.T) {
	r, src, db, q := setup(t, Config{})
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	id, recording := r.CurrentID()
	if !recording || id == "" {
		t.Fatalf("CurrentID() = %q, %v", id, recording)
	}

	src.emit(make([]float32, 800))
	src.emit(make([]float32, 800))

	if err := r.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if r.IsRecording() {
		t.Error("still recording after pause")
	}

	item, ok := db.Get(id)
	if !ok {
		t.Fatal("recording was not saved")
	}
	clip, err := audio.ReadWavFile(item.Filepath)
	if err != nil {
		t.Fatal(err)
	}
	if clip.Frames() != 1600 || clip.SampleRate != 16000 {
		t.Errorf("clip = %d frames at %d Hz", clip.Frames(), clip.SampleRate)
	}

	if q.len() != 1 || q.jobs[0].ItemID != id || q.jobs[0].AudioPath != item.Filepath {
		t.Errorf("jobs = %+v", q.jobs)
	}
	if src.starts != 1 || src.stops != 1 {
		t.Errorf("starts/stops = %d/%d", src.starts, src.stops)
	}
}

func TestPauseWithEmptyBufferIsIgnored(t *testing.T) {
	r, _, db, q := setup(t, Config{})
	ctx := context.Background()

	r.Start(ctx)
	if err := r.Pause(ctx); err != nil {
		t.Fatal(err)
	}

	if n := len(db.Items()); n != 0 {
		t.Errorf("saved %d items from an empty buffer", n)
	}
	if q.len() != 0 {
		t.Error("empty buffer was queued")
	}
}

func TestPauseWhenIdle(t *testing.T) {
	r, src, _, _ := setup(t, Config{})
	if err := r.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.stops != 0 {
		t.Error("idle pause should not touch the source")
	}
}

func TestStartTwiceKeepsRecording(t *testing.T) {
	r, src, _, _ := setup(t, Config{})
	ctx := context.Background()

	r.Start(ctx)
	first, _ := r.CurrentID()
	r.Start(ctx)
	second, _ := r.CurrentID()

	if first != second {
		t.Errorf("second start replaced the recording: %q -> %q", first, second)
	}
	if src.starts != 1 {
		t.Errorf("source started %d times", src.starts)
	}
}

func TestSeparateRecordingsGetSeparateItems(t *testing.T) {
	r, src, db, _ := setup(t, Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		r.Start(ctx)
		src.emit([]float32{0.1, 0.2})
		r.Pause(ctx)
	}

	if n := len(db.Items()); n != 2 {
		t.Errorf("got %d items, want 2", n)
	}
}

func TestStartFailure(t *testing.T) {
	r, src, _, _ := setup(t, Config{})
	src.startErr = errors.New("no mic")

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.IsRecording() {
		t.Error("recorder should not be recording after a failed start")
	}
}

func TestQueueFailureKeepsRecording(t *testing.T) {
	r, src, db, q := setup(t, Config{})
	q.err = scribe.ErrQueueFull
	ctx := context.Background()

	r.Start(ctx)
	src.emit([]float32{0.5})
	if err := r.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(db.Items()); n != 1 {
		t.Errorf("got %d items, want 1", n)
	}
}

func TestCommandsFailWithoutRun(t *testing.T) {
	db, _ := store.Open(t.TempDir())
	r := New(Config{}, &fakeSource{}, db, &fakeQueue{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Start(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestAutoPauseAfterSilence(t *testing.T) {
	r, src, db, _ := setup(t, Config{AutoPause: true, Silence: 50 * time.Millisecond, Threshold: 2})
	ctx := context.Background()

	r.Start(ctx)

	quiet := make([]float32, 160)
	for i := range quiet {
		quiet[i] = 0.01
	}
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}

	for i := 0; i < calibrationChunks; i++ {
		src.emit(quiet)
	}
	src.emit(loud)
	time.Sleep(60 * time.Millisecond)
	src.emit(quiet)

	deadline := time.Now().Add(2 * time.Second)
	for r.IsRecording() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.IsRecording() {
		t.Fatal("recorder did not auto-pause")
	}
	if n := len(db.Items()); n != 1 {
		t.Errorf("got %d items, want 1", n)
	}
}
