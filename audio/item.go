package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformedItem is returned when an audio item is missing its id or filepath.
	ErrMalformedItem = errors.New("malformed audio item")

	// ErrMultiplePlayingItems is returned when more than one item is marked playing.
	ErrMultiplePlayingItems = errors.New("multiple audio items are playing")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report json names so errors line up with the wire format
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// AudioItem is a single recording tracked by the service.
type AudioItem struct {
	ID        string  `json:"id" validate:"required"`
	Label     *string `json:"label"`
	Filepath  string  `json:"filepath" validate:"required"`
	IsPlaying bool    `json:"is_playing"`
}

// NewAudioItem returns an unlabelled item whose recording lives at <dir>/<id>.wav.
func NewAudioItem(id, dir string) AudioItem {
	return AudioItem{
		ID:       id,
		Filepath: filepath.Join(dir, id+".wav"),
	}
}

// NewAudioItemWithLabel is NewAudioItem with the label already set.
func NewAudioItemWithLabel(id, dir, label string) AudioItem {
	item := NewAudioItem(id, dir)
	item.Label = &label
	return item
}

// LabelOrEmpty returns the label text, or "" when the item has none yet.
func (a AudioItem) LabelOrEmpty() string {
	if a.Label == nil {
		return ""
	}
	return *a.Label
}

// Clone returns a copy that shares no memory with a.
func (a AudioItem) Clone() AudioItem {
	if a.Label != nil {
		label := *a.Label
		a.Label = &label
	}
	return a
}

func (a AudioItem) Validate() error {
	err := getValidator().Struct(a)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field()+" is "+e.Tag())
	}
	return fmt.Errorf("%w %q: %s", ErrMalformedItem, a.ID, strings.Join(fields, ", "))
}

// PollingState is one snapshot of what the service is doing.
type PollingState struct {
	IsTranscribing bool        `json:"is_transcribing"`
	AudioItems     []AudioItem `json:"audio_items"`
}

// NewPollingState builds a snapshot and validates every item in it.
// Playback exclusivity is not checked here, see PlayingItem.
func NewPollingState(isTranscribing bool, items []AudioItem) (PollingState, error) {
	s := PollingState{
		IsTranscribing: isTranscribing,
		AudioItems:     make([]AudioItem, 0, len(items)),
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return PollingState{}, err
		}
		s.AudioItems = append(s.AudioItems, item.Clone())
	}
	return s, nil
}

// Validate checks every item and the at-most-one-playing rule.
func (s PollingState) Validate() error {
	for i, item := range s.AudioItems {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("audio_items[%d]: %w", i, err)
		}
	}
	_, _, err := s.PlayingItem()
	return err
}

// PlayingItem returns the item marked playing, if any.
func (s PollingState) PlayingItem() (AudioItem, bool, error) {
	var (
		playing AudioItem
		found   bool
	)
	for _, item := range s.AudioItems {
		if !item.IsPlaying {
			continue
		}
		if found {
			return AudioItem{}, false, fmt.Errorf("%w: %q and %q", ErrMultiplePlayingItems, playing.ID, item.ID)
		}
		playing, found = item, true
	}
	return playing, found, nil
}

// MarshalJSON encodes a nil item list as [] so consumers never see null.
func (s PollingState) MarshalJSON() ([]byte, error) {
	type plain PollingState
	if s.AudioItems == nil {
		s.AudioItems = []AudioItem{}
	}
	return json.Marshal(plain(s))
}

func DecodeAudioItem(data []byte) (AudioItem, error) {
	var item AudioItem
	if err := json.Unmarshal(data, &item); err != nil {
		return AudioItem{}, fmt.Errorf("failed to decode audio item: %w", err)
	}
	if err := item.Validate(); err != nil {
		return AudioItem{}, err
	}
	return item, nil
}

// DecodePollingState decodes and validates a snapshot. A snapshot that only
// breaks playback exclusivity is still returned, along with ErrMultiplePlayingItems.
func DecodePollingState(data []byte) (PollingState, error) {
	var s PollingState
	if err := json.Unmarshal(data, &s); err != nil {
		return PollingState{}, fmt.Errorf("failed to decode polling state: %w", err)
	}
	if s.AudioItems == nil {
		s.AudioItems = []AudioItem{}
	}
	if err := s.Validate(); err != nil {
		if errors.Is(err, ErrMultiplePlayingItems) {
			return s, err
		}
		return PollingState{}, err
	}
	return s, nil
}
