// Package capture records a spoken question from an input device and stops
// on sustained silence or a hard duration ceiling, whichever comes first.
package capture

import (
	"context"
	"time"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDevice = stage.New(stage.Capture, stage.KindNoDevice)
	ErrTooShort = stage.New(stage.Capture, stage.KindTooShort)
)

// Device is an input device able to record mono audio.
type Device interface {
	Name() string
	// Open starts recording into a buffer sized for maxFrames frames.
	Open(ctx context.Context, sampleRate int, maxFrames int) (Stream, error)
}

// Stream is a recording in progress.
type Stream interface {
	// Position is the number of frames recorded so far.
	Position() int
	// Latest copies the most recent len(dst) samples into dst and returns how
	// many were available.
	Latest(dst []float32) int
	// Stop ends the recording. It returns the whole pre-allocated buffer and
	// the number of frames actually recorded.
	Stop() (*audio.Clip, int, error)
}

// DeviceProvider lists available input devices; the first one is used.
type DeviceProvider interface {
	Devices() ([]Device, error)
}

type Cue int

const (
	CueStart Cue = iota
	CueStop
)

// CuePlayer plays short feedback sounds. Calls must not block.
type CuePlayer interface {
	PlayCue(c Cue)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type Options struct {
	MaxDuration      time.Duration
	SilenceThreshold float64
	SilenceWindow    time.Duration
	PollInterval     time.Duration
	SampleRate       int
	// WindowSamples is the number of most recent samples used for the RMS measurement.
	WindowSamples int
	MinDuration   time.Duration
	// MinEncodedBytes rejects clips whose WAV payload would be smaller.
	MinEncodedBytes int
}

func DefaultOptions() Options {
	return Options{
		MaxDuration:      60 * time.Second,
		SilenceThreshold: 0.01,
		SilenceWindow:    3 * time.Second,
		PollInterval:     100 * time.Millisecond,
		SampleRate:       audio.DefaultSampleRate,
		WindowSamples:    256,
		MinDuration:      time.Second,
		MinEncodedBytes:  1000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxDuration <= 0 {
		o.MaxDuration = d.MaxDuration
	}
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = d.SilenceThreshold
	}
	if o.SilenceWindow <= 0 {
		o.SilenceWindow = d.SilenceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.WindowSamples <= 0 {
		o.WindowSamples = d.WindowSamples
	}
	if o.MinDuration < 0 {
		o.MinDuration = 0
	}
	return o
}

type StopReason string

const (
	StopSilence StopReason = "silence"
	StopCeiling StopReason = "ceiling"
)

type Recorder struct {
	devices   DeviceProvider
	cues      CuePlayer
	newTicker TickerFactory
}

type RecorderOption func(*Recorder)

func WithCuePlayer(c CuePlayer) RecorderOption {
	return func(r *Recorder) {
		r.cues = c
	}
}

func WithTickerFactory(f TickerFactory) RecorderOption {
	return func(r *Recorder) {
		r.newTicker = f
	}
}

func NewRecorder(devices DeviceProvider, options ...RecorderOption) *Recorder {
	r := &Recorder{
		devices:   devices,
		newTicker: NewTimeTicker,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// BeginCapture records until SilenceWindow of continuous sub-threshold input
// or MaxDuration elapses, and returns the trimmed clip.
func (r *Recorder) BeginCapture(ctx context.Context, opts Options) (*audio.Clip, error) {
	opts = opts.withDefaults()

	// the device check happens before any buffer is allocated
	if r.devices == nil {
		return nil, ErrNoDevice
	}
	devices, err := r.devices.Devices()
	if err != nil {
		return nil, stage.Wrap(ErrNoDevice, err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	device := devices[0]

	maxFrames := int(opts.MaxDuration.Seconds() * float64(opts.SampleRate))
	stream, err := device.Open(ctx, opts.SampleRate, maxFrames)
	if err != nil {
		return nil, stage.Wrap(ErrNoDevice, err)
	}
	r.playCue(CueStart)

	log.Debug().
		Str("device", device.Name()).
		Dur("max_duration", opts.MaxDuration).
		Dur("silence_window", opts.SilenceWindow).
		Msg("Recording started")

	reason, err := r.poll(ctx, stream, opts)
	full, recorded, stopErr := stream.Stop()
	if err != nil {
		return nil, err
	}
	if stopErr != nil {
		return nil, stage.Wrap(ErrNoDevice, stopErr)
	}
	if full == nil || recorded <= 0 {
		return nil, stage.Wrapf(ErrTooShort, "nothing was recorded")
	}

	clip := full.Trim(recorded)
	log.Debug().
		Str("reason", string(reason)).
		Float64("duration", clip.DurationSeconds()).
		Msg("Recording stopped")

	if clip.Duration() < opts.MinDuration {
		return nil, stage.Wrapf(ErrTooShort, "clip lasted %.2fs", clip.DurationSeconds())
	}
	if opts.MinEncodedBytes > 0 && clip.WAVSize() < opts.MinEncodedBytes {
		return nil, stage.Wrapf(ErrTooShort, "encoded clip below %d bytes", opts.MinEncodedBytes)
	}

	r.playCue(CueStop)
	return clip, nil
}

func (r *Recorder) poll(ctx context.Context, stream Stream, opts Options) (StopReason, error) {
	ticker := r.newTicker(opts.PollInterval)
	defer ticker.Stop()

	window := make([]float32, opts.WindowSamples)
	var elapsed, silent time.Duration
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C():
		}
		elapsed += opts.PollInterval

		n := stream.Latest(window)
		volume := 0.0
		if n == len(window) {
			volume = audio.RMS(window)
		}
		if volume < opts.SilenceThreshold {
			silent += opts.PollInterval
		} else {
			silent = 0
		}

		if silent >= opts.SilenceWindow {
			return StopSilence, nil
		}
		if elapsed >= opts.MaxDuration {
			return StopCeiling, nil
		}
	}
}

func (r *Recorder) playCue(c Cue) {
	if r.cues == nil {
		return
	}
	go r.cues.PlayCue(c)
}
