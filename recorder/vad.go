package recorder

import (
	"log/slog"
	"math"
	"time"
)

const (
	calibrationChunks    = 20
	backgroundBufferSize = 50
	minBackgroundNoise   = 1e-4
)

// silenceDetector watches chunk amplitudes and reports when speech has been
// followed by a long enough stretch of quiet.
type silenceDetector struct {
	threshold float64
	silence   time.Duration
	now       func() time.Time

	backgroundNoise  float64
	backgroundBuffer []float64
	calibrated       int
	calibrationSum   float64

	heardSpeech   bool
	lastNoiseTime time.Time
	logCounter    int
}

func newSilenceDetector(threshold float64, silence time.Duration) *silenceDetector {
	return &silenceDetector{
		threshold:        threshold,
		silence:          silence,
		now:              time.Now,
		backgroundBuffer: make([]float64, 0, backgroundBufferSize),
	}
}

// feed returns true once the recording should auto-pause.
func (d *silenceDetector) feed(chunk []float32) bool {
	amplitude := calculateChunkAmplitude(chunk)

	if d.calibrated < calibrationChunks {
		d.calibrationSum += amplitude
		d.calibrated++
		if d.calibrated == calibrationChunks {
			d.backgroundNoise = d.calibrationSum / calibrationChunks
			slog.Debug("Background noise calibration complete", "averageAmplitude", d.backgroundNoise)
		}
		return false
	}

	ratio := amplitude / math.Max(d.backgroundNoise, minBackgroundNoise)

	d.logCounter++
	if d.logCounter%10 == 0 {
		slog.Debug("Audio chunk received",
			"chunkAmplitude", amplitude,
			"backgroundNoise", d.backgroundNoise,
			"ratio", ratio)
	}

	if ratio > d.threshold {
		d.heardSpeech = true
		d.lastNoiseTime = d.now()
		return false
	}

	d.updateBackgroundNoise(amplitude)

	return d.heardSpeech && d.now().Sub(d.lastNoiseTime) > d.silence
}

func (d *silenceDetector) updateBackgroundNoise(amplitude float64) {
	if len(d.backgroundBuffer) >= backgroundBufferSize {
		d.backgroundBuffer = d.backgroundBuffer[1:]
	}
	d.backgroundBuffer = append(d.backgroundBuffer, amplitude)

	var sum float64
	for _, a := range d.backgroundBuffer {
		sum += a
	}
	d.backgroundNoise = sum / float64(len(d.backgroundBuffer))
}

func calculateChunkAmplitude(chunk []float32) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var totalAmplitude float64
	for _, sample := range chunk {
		totalAmplitude += math.Abs(float64(sample))
	}
	return totalAmplitude / float64(len(chunk))
}
