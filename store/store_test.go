package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bosley/voechoal/audio"
)

func openTemp(t *testing.T) *FSDatabase {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func TestOpenEmpty(t *testing.T) {
	db := openTemp(t)
	if items := db.Items(); len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

func TestOpenCorruptDataFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, dataFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected error for corrupt data file")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Save(audio.NewAudioItemWithLabel("b", dir, "second")); err != nil {
		t.Fatal(err)
	}
	playing := audio.NewAudioItem("a", dir)
	playing.IsPlaying = true
	if err := db.Save(playing); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	items := reopened.Items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "a" || items[1].ID != "b" {
		t.Errorf("items not ordered by id: %q, %q", items[0].ID, items[1].ID)
	}
	if items[0].IsPlaying {
		t.Error("is_playing should be reset on open")
	}
	if items[1].LabelOrEmpty() != "second" {
		t.Errorf("label = %q", items[1].LabelOrEmpty())
	}
}

func TestSaveRejectsMalformed(t *testing.T) {
	db := openTemp(t)
	if err := db.Save(audio.AudioItem{ID: "x"}); err == nil {
		t.Error("expected error for item without filepath")
	}
}

func TestUpdate(t *testing.T) {
	db := openTemp(t)

	ok, err := db.Update(UpdateParams{ID: "missing"})
	if err != nil || ok {
		t.Fatalf("Update(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := db.Save(db.GetOrCreate("a")); err != nil {
		t.Fatal(err)
	}

	label := "transcript"
	ok, err = db.Update(UpdateParams{ID: "a", Label: &label})
	if err != nil || !ok {
		t.Fatalf("Update(label) = %v, %v", ok, err)
	}
	if ok, err := db.SetPlaying("a", true); err != nil || !ok {
		t.Fatalf("SetPlaying = %v, %v", ok, err)
	}

	item, _ := db.Get("a")
	if item.LabelOrEmpty() != "transcript" || !item.IsPlaying {
		t.Errorf("item = %+v", item)
	}
	if item.Filepath != db.WavPath("a") {
		t.Errorf("filepath = %q, want %q", item.Filepath, db.WavPath("a"))
	}

	// label survives a playing-only update
	db.SetPlaying("a", false)
	item, _ = db.Get("a")
	if item.LabelOrEmpty() != "transcript" || item.IsPlaying {
		t.Errorf("item = %+v", item)
	}
}

func TestItemsReturnsCopies(t *testing.T) {
	db := openTemp(t)
	db.Save(audio.NewAudioItemWithLabel("a", db.Dir(), "keep"))

	items := db.Items()
	*items[0].Label = "changed"

	item, _ := db.Get("a")
	if item.LabelOrEmpty() != "keep" {
		t.Errorf("stored label mutated through Items(): %q", item.LabelOrEmpty())
	}
}

func TestRemove(t *testing.T) {
	db := openTemp(t)
	item := db.GetOrCreate("a")
	if err := db.WriteWav(item, audio.Clip{Samples: make([]float32, 160), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.Save(item); err != nil {
		t.Fatal(err)
	}

	ok, err := db.Remove("a")
	if err != nil || !ok {
		t.Fatalf("Remove = %v, %v", ok, err)
	}
	if _, err := os.Stat(item.Filepath); !os.IsNotExist(err) {
		t.Errorf("recording still on disk: %v", err)
	}
	if ok, _ := db.Remove("a"); ok {
		t.Error("second Remove should report false")
	}
}

func TestOnChange(t *testing.T) {
	db := openTemp(t)
	calls := 0
	db.OnChange = func() { calls++ }

	db.Save(db.GetOrCreate("a"))
	db.SetPlaying("a", true)
	db.SetPlaying("missing", true)
	db.Remove("a")

	if calls != 3 {
		t.Errorf("OnChange called %d times, want 3", calls)
	}
}

// blockWrites makes every later save fail by putting a directory where the temp file goes.
func blockWrites(t *testing.T, db *FSDatabase) {
	t.Helper()
	if err := os.Mkdir(db.datafile+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestFailedWritesLeaveMemoryUnchanged(t *testing.T) {
	db := openTemp(t)
	if err := db.Save(audio.NewAudioItemWithLabel("a", db.Dir(), "before")); err != nil {
		t.Fatal(err)
	}
	blockWrites(t, db)

	if err := db.Save(audio.NewAudioItem("b", db.Dir())); err == nil {
		t.Error("Save succeeded with blocked writes")
	}
	if _, ok := db.Get("b"); ok {
		t.Error("unsaved item b is visible")
	}

	if err := db.Save(audio.NewAudioItemWithLabel("a", db.Dir(), "replaced")); err == nil {
		t.Error("Save over a succeeded with blocked writes")
	}

	label := "updated"
	if _, err := db.Update(UpdateParams{ID: "a", Label: &label}); err == nil {
		t.Error("Update succeeded with blocked writes")
	}

	if _, err := db.Remove("a"); err == nil {
		t.Error("Remove succeeded with blocked writes")
	}

	item, ok := db.Get("a")
	if !ok {
		t.Fatal("item a lost after failed writes")
	}
	if item.LabelOrEmpty() != "before" {
		t.Errorf("label = %q, want before", item.LabelOrEmpty())
	}
	if n := len(db.Items()); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}
