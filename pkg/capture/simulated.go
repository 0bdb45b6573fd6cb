package capture

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/grillo/pkg/audio"
)

// SimulatedDevice is a microphone driven by an amplitude function. Device time
// advances by one poll interval on every Latest call, so a recorder using
// NewInstantTicker runs a long capture in a few milliseconds.
type SimulatedDevice struct {
	PollInterval time.Duration
	Amplitude    func(t time.Duration) float32

	mu     sync.Mutex
	stream *SimulatedStream
	opened int
}

var _ Device = (*SimulatedDevice)(nil)

func (d *SimulatedDevice) Name() string { return "simulated" }

func (d *SimulatedDevice) Open(_ context.Context, sampleRate int, maxFrames int) (Stream, error) {
	poll := d.PollInterval
	if poll <= 0 {
		poll = DefaultOptions().PollInterval
	}
	s := &SimulatedStream{
		sampleRate: sampleRate,
		pollFrames: int(poll.Seconds() * float64(sampleRate)),
		amplitude:  d.Amplitude,
		buf:        make([]float32, maxFrames),
	}
	d.mu.Lock()
	d.stream = s
	d.opened++
	d.mu.Unlock()
	return s, nil
}

// LastStream returns the most recently opened stream.
func (d *SimulatedDevice) LastStream() *SimulatedStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func (d *SimulatedDevice) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

type SimulatedStream struct {
	sampleRate int
	pollFrames int
	amplitude  func(t time.Duration) float32

	mu      sync.Mutex
	buf     []float32
	pos     int
	stopped bool
}

func (s *SimulatedStream) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *SimulatedStream) Latest(dst []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.pollFrames && s.pos < len(s.buf); i++ {
		at := time.Duration(float64(s.pos) / float64(s.sampleRate) * float64(time.Second))
		var v float32
		if s.amplitude != nil {
			v = s.amplitude(at)
		}
		if s.pos%2 == 1 {
			v = -v
		}
		s.buf[s.pos] = v
		s.pos++
	}
	start := s.pos - len(dst)
	if start < 0 {
		return 0
	}
	return copy(dst, s.buf[start:s.pos])
}

func (s *SimulatedStream) Stop() (*audio.Clip, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return audio.NewClip(s.buf, s.sampleRate, 1), s.pos, nil
}

func (s *SimulatedStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Capacity is the number of frames the device pre-allocated.
func (s *SimulatedStream) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// StaticDevices always reports the same device list.
type StaticDevices struct {
	List []Device
	Err  error
}

func (s StaticDevices) Devices() ([]Device, error) { return s.List, s.Err }

// SpeechThenSilence is loud for the given duration and silent afterwards.
func SpeechThenSilence(speech time.Duration) func(time.Duration) float32 {
	return func(t time.Duration) float32 {
		if t < speech {
			return 0.5
		}
		return 0
	}
}

type instantTicker struct {
	c    chan time.Time
	stop chan struct{}
	once sync.Once
}

// NewInstantTicker fires as fast as the recorder consumes ticks.
func NewInstantTicker(time.Duration) Ticker {
	t := &instantTicker{c: make(chan time.Time), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case t.c <- time.Time{}:
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

func (t *instantTicker) C() <-chan time.Time { return t.c }
func (t *instantTicker) Stop()               { t.once.Do(func() { close(t.stop) }) }
