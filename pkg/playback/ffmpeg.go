package playback

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FFprobeDecoder reads the container duration with ffprobe.
type FFprobeDecoder struct{}

var _ Decoder = FFprobeDecoder{}

func (FFprobeDecoder) Decode(ctx context.Context, path string) (time.Duration, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return 0, errors.Wrapf(err, "ffprobe %s", path)
	}
	return parseDuration(out.String())
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FFplayPlayer plays through ffplay without a window and returns once
// playback ends.
type FFplayPlayer struct{}

var _ Player = FFplayPlayer{}

func (FFplayPlayer) Play(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "error", path)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffplay %s", path)
	}
	return nil
}
