// Package device binds the recorder and player to real audio hardware through PortAudio.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bosley/voechoal/audio"
	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// Initialize must be called before NewCapture or NewOutput; pair it with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

func Terminate() {
	if err := portaudio.Terminate(); err != nil {
		slog.Error("Failed to terminate PortAudio", "error", err)
	}
}

// InputDevice describes a recording device. ID is what NewCapture expects.
type InputDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

// ListInputDevices returns every device that can record.
func ListInputDevices() ([]InputDevice, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	defer Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	return listInputs(devices), nil
}

func listInputs(devices []*portaudio.DeviceInfo) []InputDevice {
	inputDevices := make([]InputDevice, 0)
	for i, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, InputDevice{
				ID:                i,
				Name:              device.Name,
				MaxInputChannels:  device.MaxInputChannels,
				DefaultSampleRate: device.DefaultSampleRate,
			})
		}
	}
	return inputDevices
}

// selectInputDevice resolves an ID reported by ListInputDevices.
func selectInputDevice(devices []*portaudio.DeviceInfo, deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	device := devices[deviceID]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) is not an input device", deviceID, device.Name)
	}
	return device, nil
}

// Capture records from a PortAudio input device.
type Capture struct {
	device     *portaudio.DeviceInfo
	sampleRate int
	channels   int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// DefaultDevice asks NewCapture for the system default input device.
const DefaultDevice = -1

// NewCapture opens the input device with the given ID, as listed by
// ListInputDevices, or the default input device for DefaultDevice.
func NewCapture(deviceID, sampleRate, channels int) (*Capture, error) {
	var device *portaudio.DeviceInfo

	if deviceID != DefaultDevice {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("failed to get audio devices: %w", err)
		}
		device, err = selectInputDevice(devices, deviceID)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
	}

	slog.Info("Using audio input device",
		"deviceID", deviceID,
		"deviceName", device.Name,
		"sampleRate", sampleRate,
		"inputChannels", channels)

	return &Capture{device: device, sampleRate: sampleRate, channels: channels}, nil
}

func (c *Capture) SampleRate() int { return c.sampleRate }
func (c *Capture) Channels() int   { return c.channels }

// Start opens a fresh input stream. out is called on the audio thread and must not retain its argument.
func (c *Capture) Start(out func(samples []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return fmt.Errorf("capture already started")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   c.device,
			Channels: c.channels,
			Latency:  c.device.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		out(in)
	})
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	c.stream = stream
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return stream.Close()
}

// Output plays clips on the default output device.
type Output struct {
	paused atomic.Bool
}

func NewOutput() *Output {
	return &Output{}
}

func (o *Output) Pause()  { o.paused.Store(true) }
func (o *Output) Resume() { o.paused.Store(false) }

// Play blocks until the clip has been rendered or ctx is cancelled.
func (o *Output) Play(ctx context.Context, clip audio.Clip) error {
	o.paused.Store(false)

	done := make(chan struct{})
	var (
		pos  int
		once sync.Once
	)

	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), framesPerBuffer, func(out []float32) {
		if o.paused.Load() {
			clear(out)
			return
		}
		n := copy(out, clip.Samples[pos:])
		pos += n
		// Fill remaining buffer with silence if needed
		clear(out[n:])
		if pos >= len(clip.Samples) {
			once.Do(func() { close(done) })
		}
	})
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return ctx.Err()
}

// PlayFile plays a WAV file on the default output device.
func PlayFile(ctx context.Context, path string) error {
	clip, err := audio.ReadWavFile(path)
	if err != nil {
		return err
	}

	if err := Initialize(); err != nil {
		return err
	}
	defer Terminate()

	slog.Info("Playing audio", "file", path, "seconds", clip.Seconds())
	return NewOutput().Play(ctx, clip)
}
