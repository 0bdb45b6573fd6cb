package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FFmpegDevices exposes the system default microphone through an ffmpeg child
// process writing s16le mono PCM to stdout.
type FFmpegDevices struct {
	// Input overrides the platform input (e.g. "default" for pulse, ":0" for avfoundation).
	Input string
}

var _ DeviceProvider = FFmpegDevices{}

func (f FFmpegDevices) Devices() ([]Device, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		log.Debug().Err(err).Msg("ffmpeg not found, no capture device available")
		return nil, nil
	}
	format, input, err := platformInput(runtime.GOOS)
	if err != nil {
		return nil, nil
	}
	if f.Input != "" {
		input = f.Input
	}
	return []Device{&ffmpegDevice{format: format, input: input}}, nil
}

func platformInput(goos string) (string, string, error) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0", nil
	case "linux":
		return "pulse", "default", nil
	default:
		return "", "", errors.Errorf("mic capture is not implemented for %s", goos)
	}
}

type ffmpegDevice struct {
	format string
	input  string
}

func (d *ffmpegDevice) Name() string {
	return d.format + ":" + d.input
}

func (d *ffmpegDevice) Open(ctx context.Context, sampleRate int, maxFrames int) (Stream, error) {
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", d.format, "-i", d.input,
		"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
		"-f", "s16le", "-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "open ffmpeg stdout")
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start ffmpeg mic capture")
	}

	s := &ffmpegStream{
		cmd:        cmd,
		buf:        make([]float32, maxFrames),
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}
	go s.pump(stdout)
	return s, nil
}

type ffmpegStream struct {
	cmd        *exec.Cmd
	sampleRate int
	done       chan struct{}

	mu  sync.Mutex
	buf []float32
	pos int
}

func (s *ffmpegStream) pump(r io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := append(carry, chunk[:n]...)
			even := len(data) &^ 1
			samples := audio.SamplesFromPCM16(data[:even])
			carry = append([]byte(nil), data[even:]...)

			s.mu.Lock()
			room := len(s.buf) - s.pos
			if len(samples) > room {
				samples = samples[:room]
			}
			copy(s.buf[s.pos:], samples)
			s.pos += len(samples)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *ffmpegStream) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *ffmpegStream) Latest(dst []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.pos - len(dst)
	if start < 0 {
		return 0
	}
	return copy(dst, s.buf[start:s.pos])
}

func (s *ffmpegStream) Stop() (*audio.Clip, int, error) {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.NewClip(s.buf, s.sampleRate, 1), s.pos, nil
}

// FFplayCues plays cue files with ffplay in the background. Empty paths are skipped.
type FFplayCues struct {
	StartPath string
	StopPath  string
}

var _ CuePlayer = FFplayCues{}

func (f FFplayCues) PlayCue(c Cue) {
	path := f.StartPath
	if c == CueStop {
		path = f.StopPath
	}
	if path == "" {
		return
	}
	cmd := exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "error", path)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Failed to play cue")
	}
}
