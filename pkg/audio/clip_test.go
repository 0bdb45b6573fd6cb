package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClip_DurationAndTrim(t *testing.T) {
	c := NewClip(make([]float32, 32000), 16000, 1)
	require.Equal(t, 2*time.Second, c.Duration())

	trimmed := c.Trim(8000)
	require.Equal(t, 8000, trimmed.Frames())
	require.InDelta(t, 0.5, trimmed.DurationSeconds(), 1e-9)

	// trimming past the end keeps what is there
	require.Equal(t, 32000, c.Trim(1_000_000).Frames())
}

func TestClip_TrimCopiesSamples(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3, 0.4}
	c := NewClip(src, 4, 1)
	trimmed := c.Trim(2)
	src[0] = 0.9
	require.Equal(t, float32(0.1), trimmed.Samples[0])
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}

func TestClip_WAVHeader(t *testing.T) {
	c := NewClip([]float32{0, 0.5, -0.5, 1}, 16000, 1)
	wav, err := c.WAV()
	require.NoError(t, err)
	require.Len(t, wav, 44+8)
	require.Equal(t, "RIFF", string(wav[0:4]))
	require.Equal(t, "WAVE", string(wav[8:12]))
	require.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestClip_WAVSizeMatchesEncoding(t *testing.T) {
	for _, c := range []*Clip{
		NewClip(nil, 16000, 1),
		NewClip([]float32{0.1, -0.1, 0.2}, 16000, 1),
		NewClip(make([]float32, 48000), 24000, 2),
	} {
		wav, err := c.WAV()
		require.NoError(t, err)
		assert.Equal(t, len(wav), c.WAVSize())
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	c := NewClip([]float32{0, 0.25, -0.25, 1, -1}, 16000, 1)
	back := SamplesFromPCM16(c.PCM16())
	require.Len(t, back, 5)
	for i := range back {
		assert.InDelta(t, c.Samples[i], back[i], 1e-3)
	}
}
