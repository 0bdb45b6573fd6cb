package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultSampleRate matches the transcription contract (LINEAR16, 16 kHz mono).
	DefaultSampleRate = 16000
	pcmBytesPerSample = 2
	wavHeaderSize     = 44
)

// Clip is a finished recording. Samples are interleaved when Channels > 1.
//
// Ownership transfers with the value: whoever produced a Clip must not touch
// its Samples after handing it over.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func NewClip(samples []float32, sampleRate, channels int) *Clip {
	if channels <= 0 {
		channels = 1
	}
	return &Clip{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// Frames is the number of sample frames, i.e. samples per channel.
func (c *Clip) Frames() int {
	if c == nil || c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Frames()) / float64(c.SampleRate) * float64(time.Second))
}

func (c *Clip) DurationSeconds() float64 {
	return c.Duration().Seconds()
}

// Trim returns a clip holding only the first frames sample frames. The
// samples are copied so the source buffer can be released.
func (c *Clip) Trim(frames int) *Clip {
	if frames < 0 {
		frames = 0
	}
	if frames > c.Frames() {
		frames = c.Frames()
	}
	out := make([]float32, frames*c.Channels)
	copy(out, c.Samples[:frames*c.Channels])
	return &Clip{Samples: out, SampleRate: c.SampleRate, Channels: c.Channels}
}

// RMS computes the root mean square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCM16 returns the samples as little-endian signed 16 bit PCM (LINEAR16).
func (c *Clip) PCM16() []byte {
	out := make([]byte, len(c.Samples)*pcmBytesPerSample)
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[i*pcmBytesPerSample:], uint16(floatToInt16(s)))
	}
	return out
}

// WAVSize is the length of the payload WAV returns, without encoding it.
func (c *Clip) WAVSize() int {
	return wavHeaderSize + len(c.Samples)*pcmBytesPerSample
}

// WAV wraps PCM16 in a canonical RIFF header so file based backends can
// identify the payload.
func (c *Clip) WAV() ([]byte, error) {
	if c.SampleRate <= 0 {
		return nil, errors.Errorf("invalid sample rate %d", c.SampleRate)
	}
	pcm := c.PCM16()
	var buf bytes.Buffer
	buf.Grow(c.WAVSize())

	byteRate := c.SampleRate * c.Channels * pcmBytesPerSample
	blockAlign := c.Channels * pcmBytesPerSample
	fields := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + len(pcm)),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(c.Channels),
		uint32(c.SampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(pcmBytesPerSample * 8),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(len(pcm)),
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, errors.Wrap(err, "failed to write wav header")
		}
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// SamplesFromPCM16 decodes little-endian signed 16 bit PCM into floats in [-1, 1].
func SamplesFromPCM16(data []byte) []float32 {
	n := len(data) / pcmBytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*pcmBytesPerSample:]))
		out[i] = float32(v) / math.MaxInt16
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}
