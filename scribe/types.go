package scribe

import (
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/store"
)

// Job asks the worker pool to label one audio item.
type Job struct {
	ItemID    string
	AudioPath string
	Timestamp time.Time
}

// ItemStore is the slice of the database the scribe needs.
type ItemStore interface {
	Get(id string) (audio.AudioItem, bool)
	Save(item audio.AudioItem) error
	Update(params store.UpdateParams) (bool, error)
}
