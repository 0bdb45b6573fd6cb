package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/go-go-golems/grillo/pkg/camera"
	"github.com/go-go-golems/grillo/pkg/settings"
	"github.com/go-go-golems/grillo/pkg/transcribe"
	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) *settings.Settings {
	s, err := settings.Defaults()
	require.NoError(t, err)
	s.Storage.Dir = t.TempDir()
	s.API.GoogleKey = "test-key"
	return s
}

func TestNewApp(t *testing.T) {
	s := testSettings(t)
	var out bytes.Buffer

	a, err := newApp(context.Background(), s, appOptions{Simulate: true, Out: &out})
	require.NoError(t, err)
	require.NotNil(t, a.orchestrator)
	require.NotNil(t, a.console)
	assert.Nil(t, a.store)
	assert.Equal(t, turn.StateIdle, a.orchestrator.State())

	a.console.Hint(s.Transcript.Hint)
	assert.Equal(t, s.Transcript.Hint+"\n", out.String())

	require.NoError(t, a.Close())
	assert.NoDirExists(t, a.blobs.Dir())
}

func TestNewApp_WithSQLiteTranscript(t *testing.T) {
	s := testSettings(t)
	s.Transcript.SQLite = t.TempDir() + "/transcript.db"

	a, err := newApp(context.Background(), s, appOptions{Simulate: true})
	require.NoError(t, err)
	require.NotNil(t, a.store)
	require.NoError(t, a.Close())
}

func TestNewApp_RequiresKeys(t *testing.T) {
	s := testSettings(t)
	s.API.GoogleKey = ""
	_, err := newApp(context.Background(), s, appOptions{Simulate: true})
	require.Error(t, err)

	s = testSettings(t)
	s.Transcription.Backend = transcribe.BackendOpenAI
	_, err = newApp(context.Background(), s, appOptions{Simulate: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai-key")

	s.API.OpenAIKey = "sk-test"
	a, err := newApp(context.Background(), s, appOptions{Simulate: true})
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestNewCamera(t *testing.T) {
	s := testSettings(t)
	assert.IsType(t, camera.FFmpegCamera{}, newCamera(s))

	s.Camera.StaticFile = "face.png"
	assert.Equal(t, camera.StaticFile{Path: "face.png"}, newCamera(s))

	s.Camera.Enabled = false
	assert.Nil(t, newCamera(s))
}

type fakeStarter struct {
	mu    sync.Mutex
	calls int
	busy  bool
}

func (f *fakeStarter) BeginTurn(context.Context) (*turn.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.busy {
		return nil, turn.ErrBusy
	}
	f.busy = true
	return &turn.Handle{TurnID: "t"}, nil
}

func TestTriggerLoop(t *testing.T) {
	starter := &fakeStarter{}
	err := triggerLoop(context.Background(), strings.NewReader("\n\n\nq\n"), starter)
	require.ErrorIs(t, err, errQuit)
	// the second and third Enter hit a busy orchestrator and are dropped
	assert.Equal(t, 3, starter.calls)
}

func TestTriggerLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer func() {
		_ = w.Close()
	}()
	require.NoError(t, triggerLoop(ctx, r, &fakeStarter{}))
}
