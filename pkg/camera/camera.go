// Package camera grabs the still image attached to each question.
package camera

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// Source returns one PNG-encoded frame.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FFmpegCamera grabs a single frame from the default webcam.
type FFmpegCamera struct {
	// Input overrides the platform device (e.g. "/dev/video1").
	Input string
}

var _ Source = FFmpegCamera{}

func platformCamera(goos string) (string, string, error) {
	switch goos {
	case "linux":
		return "v4l2", "/dev/video0", nil
	case "darwin":
		return "avfoundation", "0", nil
	default:
		return "", "", errors.Errorf("camera capture is not implemented for %s", goos)
	}
}

func (f FFmpegCamera) Capture(ctx context.Context) ([]byte, error) {
	format, input, err := platformCamera(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	if f.Input != "" {
		input = f.Input
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-",
	)
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "grab frame from %s", input)
	}
	if out.Len() == 0 {
		return nil, errors.Errorf("no frame from %s", input)
	}
	return out.Bytes(), nil
}

// StaticFile serves the same image every time, read fresh on each capture.
type StaticFile struct {
	Path string
}

var _ Source = StaticFile{}

func (s StaticFile) Capture(context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", s.Path)
	}
	return b, nil
}
