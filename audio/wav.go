package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/youpy/go-riff"
	"github.com/youpy/go-wav"
)

const (
	WhisperSampleRate = 16000 // Rate required by Whisper
	WhisperChannels   = 1     // Mono because whisper wants it
	bitsPerSample     = 16    // Recordings are stored as int16 PCM

	readChunk = 4096
)

// Clip is decoded PCM audio with samples interleaved by channel.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Mono averages all channels into one.
func (c Clip) Mono() Clip {
	if c.Channels <= 1 {
		return c
	}
	frames := c.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum / float32(c.Channels)
	}
	return Clip{Samples: out, SampleRate: c.SampleRate, Channels: 1}
}

// Trim keeps at most maxSeconds from the start of the clip.
func (c Clip) Trim(maxSeconds float64) Clip {
	if maxSeconds <= 0 || c.SampleRate <= 0 {
		return c
	}
	maxFrames := int(maxSeconds * float64(c.SampleRate))
	if c.Frames() <= maxFrames {
		return c
	}
	return Clip{Samples: c.Samples[:maxFrames*c.Channels], SampleRate: c.SampleRate, Channels: c.Channels}
}

// Resample converts a mono clip to rate with linear interpolation.
// A clip without a valid rate is returned unchanged.
func (c Clip) Resample(rate int) Clip {
	if c.SampleRate <= 0 {
		return c
	}
	if rate <= 0 || c.SampleRate == rate || len(c.Samples) == 0 {
		return Clip{Samples: c.Samples, SampleRate: rate, Channels: c.Channels}
	}
	c = c.Mono()

	ratio := float64(c.SampleRate) / float64(rate)
	n := int(float64(len(c.Samples)) / ratio)
	out := make([]float32, n)
	last := len(c.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = c.Samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = c.Samples[idx]*(1-frac) + c.Samples[idx+1]*frac
	}
	return Clip{Samples: out, SampleRate: rate, Channels: 1}
}

// PrepareForWhisper turns a clip into 16kHz mono no longer than maxSeconds.
func PrepareForWhisper(c Clip, maxSeconds float64) Clip {
	return c.Mono().Trim(maxSeconds).Resample(WhisperSampleRate)
}

// WriteWav encodes samples as 16-bit PCM. Samples outside [-1, 1] are clamped.
func WriteWav(w io.Writer, c Clip) error {
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("unsupported channel count: %d", c.Channels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}

	frames := c.Frames()
	writer := wav.NewWriter(w, uint32(frames), uint16(c.Channels), uint32(c.SampleRate), bitsPerSample)

	samples := make([]wav.Sample, frames)
	for i := range samples {
		for ch := 0; ch < c.Channels; ch++ {
			samples[i].Values[ch] = floatToInt16(c.Samples[i*c.Channels+ch])
		}
	}

	if err := writer.WriteSamples(samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	return nil
}

// WriteWavFile writes the clip to path, replacing any existing file.
func WriteWavFile(path string, c Clip) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	if err := WriteWav(file, c); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// ReadWav decodes an 8 or 16-bit PCM WAV stream.
func ReadWav(r riff.RIFFReader) (Clip, error) {
	reader := wav.NewReader(r)

	format, err := reader.Format()
	if err != nil {
		return Clip{}, fmt.Errorf("failed to read wav format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return Clip{}, fmt.Errorf("unsupported wav audio format: %d", format.AudioFormat)
	}
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return Clip{}, fmt.Errorf("unsupported bits per sample: %d", format.BitsPerSample)
	}

	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return Clip{}, fmt.Errorf("unsupported channel count: %d", channels)
	}
	if format.SampleRate == 0 {
		return Clip{}, errors.New("invalid sample rate: 0")
	}

	clip := Clip{SampleRate: int(format.SampleRate), Channels: channels}
	for {
		samples, err := reader.ReadSamples(readChunk)
		for _, s := range samples {
			for ch := 0; ch < channels; ch++ {
				clip.Samples = append(clip.Samples, intToFloat(reader.IntValue(s, uint(ch)), format.BitsPerSample))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("failed to read samples: %w", err)
		}
	}

	return clip, nil
}

func ReadWavFile(path string) (Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer file.Close()

	return ReadWav(file)
}

func floatToInt16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(float64(v) * math.MaxInt16))
}

func intToFloat(v int, bits uint16) float32 {
	if bits == 8 {
		// 8-bit PCM is unsigned
		return float32(v-128) / 128
	}
	return float32(v) / 32768
}
