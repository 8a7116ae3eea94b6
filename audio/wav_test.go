package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
)

func sine(frames, rate int, freq float64) []float32 {
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWavRoundTrip(t *testing.T) {
	in := Clip{Samples: sine(4410, 44100, 440), SampleRate: 44100, Channels: 1}

	var buf bytes.Buffer
	if err := WriteWav(&buf, in); err != nil {
		t.Fatalf("WriteWav: %v", err)
	}

	out, err := ReadWav(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadWav: %v", err)
	}

	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Fatalf("format = %d Hz x%d, want %d Hz x%d", out.SampleRate, out.Channels, in.SampleRate, in.Channels)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("len = %d, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if d := math.Abs(float64(out.Samples[i] - in.Samples[i])); d > 1e-3 {
			t.Fatalf("sample %d = %f, want %f", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestWriteWavFileStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	in := Clip{Samples: []float32{0.1, -0.1, 0.2, -0.2, 2, -2}, SampleRate: 8000, Channels: 2}

	if err := WriteWavFile(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadWavFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.Frames() != 3 {
		t.Fatalf("frames = %d, want 3", out.Frames())
	}
	// clamped
	if out.Samples[4] < 0.99 || out.Samples[5] > -0.99 {
		t.Errorf("samples not clamped: %v", out.Samples[4:])
	}
}

func TestWriteWavRejectsBadFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWav(&buf, Clip{SampleRate: 16000, Channels: 0}); err == nil {
		t.Error("expected error for zero channels")
	}
	if err := WriteWav(&buf, Clip{SampleRate: 0, Channels: 1}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestClipMono(t *testing.T) {
	c := Clip{Samples: []float32{1, 0, 0.5, 0.5}, SampleRate: 10, Channels: 2}.Mono()
	if c.Channels != 1 || len(c.Samples) != 2 {
		t.Fatalf("got %+v", c)
	}
	if c.Samples[0] != 0.5 || c.Samples[1] != 0.5 {
		t.Errorf("samples = %v, want [0.5 0.5]", c.Samples)
	}
}

func TestClipTrim(t *testing.T) {
	c := Clip{Samples: make([]float32, 100), SampleRate: 10, Channels: 1}

	if got := c.Trim(5).Frames(); got != 50 {
		t.Errorf("Trim(5) frames = %d, want 50", got)
	}
	if got := c.Trim(20).Frames(); got != 100 {
		t.Errorf("Trim(20) frames = %d, want 100", got)
	}
	if got := c.Trim(0).Frames(); got != 100 {
		t.Errorf("Trim(0) frames = %d, want 100", got)
	}
}

func TestPrepareForWhisper(t *testing.T) {
	// 10 seconds of stereo 44.1k
	frames := 441000
	stereo := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		stereo[i*2] = 0.25
		stereo[i*2+1] = 0.75
	}

	c := PrepareForWhisper(Clip{Samples: stereo, SampleRate: 44100, Channels: 2}, 5)

	if c.SampleRate != WhisperSampleRate || c.Channels != WhisperChannels {
		t.Fatalf("format = %d Hz x%d", c.SampleRate, c.Channels)
	}
	if s := c.Seconds(); math.Abs(s-5) > 0.01 {
		t.Errorf("duration = %fs, want 5s", s)
	}
	for _, v := range c.Samples[:10] {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("sample = %f, want 0.5", v)
		}
	}
}

// pcmHeader builds a 16-bit PCM WAV with the given format fields and frames of silence.
func pcmHeader(rate uint32, channels uint16, frames int) []byte {
	le := binary.LittleEndian
	dataLen := frames * int(channels) * 2

	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, le, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, le, uint32(16))
	binary.Write(&b, le, uint16(1)) // PCM
	binary.Write(&b, le, channels)
	binary.Write(&b, le, rate)
	binary.Write(&b, le, rate*uint32(channels)*2)
	binary.Write(&b, le, channels*2)
	binary.Write(&b, le, uint16(16))
	b.WriteString("data")
	binary.Write(&b, le, uint32(dataLen))
	b.Write(make([]byte, dataLen))
	return b.Bytes()
}

func TestReadWavRejectsBrokenHeaders(t *testing.T) {
	tests := []struct {
		name     string
		rate     uint32
		channels uint16
	}{
		{"zero sample rate", 0, 1},
		{"zero channels", 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pcmHeader(tt.rate, tt.channels, 16)
			if _, err := ReadWav(bytes.NewReader(data)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := ReadWav(bytes.NewReader(pcmHeader(16000, 1, 16))); err != nil {
		t.Errorf("valid header rejected: %v", err)
	}
}

func TestResampleWithoutRate(t *testing.T) {
	in := Clip{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 0, Channels: 1}

	out := PrepareForWhisper(in, 5)
	if len(out.Samples) != 3 || out.SampleRate != 0 {
		t.Errorf("out = %+v, want input unchanged", out)
	}
}
