package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bosley/voechoal/audio"
)

const dataFileName = "data.json"

// data is the on-disk layout of the data file.
type data struct {
	Items map[string]audio.AudioItem `json:"items"`
}

// UpdateParams selects which fields of an item to change. Nil fields are left alone.
type UpdateParams struct {
	ID        string
	Filepath  *string
	IsPlaying *bool
	Label     *string
}

// FSDatabase keeps audio items in a JSON file next to their recordings.
type FSDatabase struct {
	dir      string
	datafile string

	items map[string]audio.AudioItem
	mu    sync.RWMutex

	// OnChange is called after every persisted mutation, outside the lock.
	OnChange func()
}

// Open loads the database in dir, creating the directory if needed.
func Open(dir string) (*FSDatabase, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db := &FSDatabase{
		dir:      dir,
		datafile: filepath.Join(dir, dataFileName),
	}

	items, err := loadAll(db.datafile)
	if err != nil {
		return nil, err
	}

	// Nothing is playing after a restart
	for id, item := range items {
		if item.IsPlaying {
			item.IsPlaying = false
			items[id] = item
		}
	}
	db.items = items

	slog.Debug("Loaded audio items", "dir", dir, "count", len(items))
	return db, nil
}

func loadAll(path string) (map[string]audio.AudioItem, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]audio.AudioItem), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audio items data file: %w", err)
	}

	var d data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to parse audio items data file json: %w", err)
	}
	if d.Items == nil {
		d.Items = make(map[string]audio.AudioItem)
	}

	for id, item := range d.Items {
		if err := item.Validate(); err != nil {
			slog.Warn("Dropping invalid audio item from data file", "id", id, "error", err)
			delete(d.Items, id)
		}
	}

	return d.Items, nil
}

// Dir is where recordings and the data file live.
func (db *FSDatabase) Dir() string {
	return db.dir
}

func (db *FSDatabase) WavPath(id string) string {
	return filepath.Join(db.dir, id+".wav")
}

// Items returns a copy of every item ordered by id.
func (db *FSDatabase) Items() []audio.AudioItem {
	db.mu.RLock()
	defer db.mu.RUnlock()

	items := make([]audio.AudioItem, 0, len(db.items))
	for _, item := range db.items {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (db *FSDatabase) Get(id string) (audio.AudioItem, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	item, ok := db.items[id]
	return item.Clone(), ok
}

// GetOrCreate returns the stored item or a fresh unsaved one.
func (db *FSDatabase) GetOrCreate(id string) audio.AudioItem {
	if item, ok := db.Get(id); ok {
		return item
	}
	return audio.NewAudioItem(id, db.dir)
}

// Save inserts or replaces an item and persists the data file.
func (db *FSDatabase) Save(item audio.AudioItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	db.mu.Lock()
	prev, existed := db.items[item.ID]
	db.items[item.ID] = item.Clone()
	err := db.saveAllLocked()
	if err != nil {
		// Keep memory in step with what is on disk
		if existed {
			db.items[item.ID] = prev
		} else {
			delete(db.items, item.ID)
		}
	}
	db.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to save audio item: %w", err)
	}
	db.changed()
	return nil
}

// Update applies params to an existing item. It reports false if the id is unknown.
func (db *FSDatabase) Update(params UpdateParams) (bool, error) {
	db.mu.Lock()
	prev, ok := db.items[params.ID]
	if !ok {
		db.mu.Unlock()
		return false, nil
	}
	item := prev

	if params.IsPlaying != nil {
		item.IsPlaying = *params.IsPlaying
	}
	if params.Filepath != nil {
		item.Filepath = *params.Filepath
	}
	if params.Label != nil {
		label := *params.Label
		item.Label = &label
	}
	db.items[params.ID] = item
	err := db.saveAllLocked()
	if err != nil {
		db.items[params.ID] = prev
	}
	db.mu.Unlock()

	if err != nil {
		return true, fmt.Errorf("failed to update audio item: %w", err)
	}
	db.changed()
	return true, nil
}

// SetPlaying is a shorthand for an Update that only flips is_playing.
func (db *FSDatabase) SetPlaying(id string, playing bool) (bool, error) {
	return db.Update(UpdateParams{ID: id, IsPlaying: &playing})
}

// Remove deletes an item and its recording. It reports false if the id is unknown.
func (db *FSDatabase) Remove(id string) (bool, error) {
	db.mu.Lock()
	item, ok := db.items[id]
	if !ok {
		db.mu.Unlock()
		return false, nil
	}
	delete(db.items, id)
	err := db.saveAllLocked()
	if err != nil {
		db.items[id] = item
	}
	db.mu.Unlock()

	if err != nil {
		return true, fmt.Errorf("failed to remove audio item: %w", err)
	}

	if err := os.Remove(item.Filepath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to delete recording", "id", id, "path", item.Filepath, "error", err)
	}

	db.changed()
	return true, nil
}

// WriteWav stores the recording for item at its filepath.
func (db *FSDatabase) WriteWav(item audio.AudioItem, clip audio.Clip) error {
	slog.Info("Writing wav",
		"id", item.ID,
		"sampleRate", clip.SampleRate,
		"channels", clip.Channels,
		"seconds", clip.Seconds())

	return audio.WriteWavFile(item.Filepath, clip)
}

// saveAllLocked writes through a temp file so a crash never leaves half a data file.
func (db *FSDatabase) saveAllLocked() error {
	raw, err := json.Marshal(data{Items: db.items})
	if err != nil {
		return fmt.Errorf("failed to serialize audio items: %w", err)
	}

	tmp := db.datafile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, db.datafile)
}

func (db *FSDatabase) changed() {
	if db.OnChange != nil {
		db.OnChange()
	}
}
