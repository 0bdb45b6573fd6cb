package main

import (
	"context"
	"io"
	"time"

	"github.com/go-go-golems/grillo/pkg/blob"
	"github.com/go-go-golems/grillo/pkg/camera"
	"github.com/go-go-golems/grillo/pkg/capture"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/helpers"
	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/playback"
	"github.com/go-go-golems/grillo/pkg/query"
	"github.com/go-go-golems/grillo/pkg/settings"
	"github.com/go-go-golems/grillo/pkg/speech"
	"github.com/go-go-golems/grillo/pkg/transcribe"
	"github.com/go-go-golems/grillo/pkg/transcript"
	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type appOptions struct {
	// Simulate replaces the microphone with a synthetic speech-then-silence source.
	Simulate bool
	// PrintEvents dumps every bus event to Out.
	PrintEvents bool
	Out         io.Writer
}

// app is one session: a single orchestrator with its history, blob folder,
// transcript sinks and event bus.
type app struct {
	settings  *settings.Settings
	sessionID string

	router       *events.EventRouter
	announcer    *events.Announcer
	blobs        *blob.FileStore
	console      *transcript.Console
	store        *transcript.SQLiteStore
	orchestrator *turn.Orchestrator
}

func newApp(ctx context.Context, s *settings.Settings, opts appOptions) (*app, error) {
	a := &app{
		settings:  s,
		sessionID: uuid.NewString(),
	}

	routerOptions := []events.EventRouterOption{
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	}
	if opts.Out != nil {
		routerOptions = append(routerOptions, events.WithDumpWriter(opts.Out))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "event router")
	}
	a.router = router
	if opts.PrintEvents {
		router.AddHandler("print-events", events.TopicTurn, router.DumpRawEvents)
	}
	a.announcer = events.NewAnnouncer(router.Sink(), a.sessionID)

	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	s := a.settings

	blobs, err := blob.NewFileStore(s.Storage.Dir)
	if err != nil {
		return err
	}
	a.blobs = blobs

	transcriber, err := newTranscriber(s)
	if err != nil {
		return err
	}
	if s.API.GoogleKey == "" {
		return errors.New("api.google-key is required for the model and speech services")
	}
	queryClient, err := query.NewGeminiClient(ctx, s.QuerySettings())
	if err != nil {
		return err
	}

	h, err := history.New(history.WithBound(s.HistoryBound()))
	if err != nil {
		return err
	}

	sinks := transcript.Fanout{}
	if opts.Out != nil {
		a.console = transcript.NewConsole(opts.Out)
		sinks = append(sinks, a.console)
	}
	if s.Transcript.SQLite != "" {
		store, err := transcript.NewSQLiteStore(s.Transcript.SQLite, a.sessionID)
		if err != nil {
			return err
		}
		a.store = store
		sinks = append(sinks, store)
	}
	sinks = append(sinks, transcript.NewEventSink(a.announcer))

	o, err := turn.NewOrchestrator(turn.Deps{
		Capturer:    newRecorder(s, opts.Simulate),
		Transcriber: transcriber,
		History:     h,
		Query:       queryClient,
		Synthesizer: newSynthesizer(s),
		Player:      newEffector(s, blobs, a.announcer),
		Blobs:       blobs,
		Camera:      newCamera(s),
		Transcript:  sinks,
		Announcer:   a.announcer,
	}, s.TurnConfig())
	if err != nil {
		return err
	}
	a.orchestrator = o

	log.Info().
		Str("session_id", a.sessionID).
		Str("blobs", blobs.Dir()).
		Str("transcription", string(s.Transcription.Backend)).
		Str("model", s.Query.Model).
		Msg("Session ready")
	return nil
}

// Close tears the session down: the active turn, history, blobs, the
// transcript store and the event bus, in that order.
func (a *app) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.orchestrator != nil {
		keep(a.orchestrator.Close())
	} else if a.blobs != nil {
		keep(a.blobs.Cleanup())
	}
	if a.store != nil {
		keep(a.store.Close())
	}
	if a.router != nil {
		keep(a.router.Close())
	}
	return firstErr
}

func newRecorder(s *settings.Settings, simulate bool) *capture.Recorder {
	if simulate {
		device := &capture.SimulatedDevice{
			PollInterval: s.Capture.PollInterval,
			Amplitude:    capture.SpeechThenSilence(1500 * time.Millisecond),
		}
		return capture.NewRecorder(capture.StaticDevices{List: []capture.Device{device}})
	}
	return capture.NewRecorder(
		capture.FFmpegDevices{Input: s.Capture.Device},
		capture.WithCuePlayer(capture.FFplayCues{
			StartPath: s.Capture.StartCue,
			StopPath:  s.Capture.StopCue,
		}),
	)
}

func newTranscriber(s *settings.Settings) (transcribe.Client, error) {
	switch s.Transcription.Backend {
	case transcribe.BackendOpenAI:
		if s.API.OpenAIKey == "" {
			return nil, errors.New("api.openai-key is required for the openai transcription backend")
		}
		return transcribe.NewOpenAIClient(
			s.API.OpenAIKey,
			s.Transcription.OpenAIBaseURL,
			s.Transcription.Model,
			s.Transcription.Language,
		), nil
	case transcribe.BackendGoogle:
		if s.API.GoogleKey == "" {
			return nil, errors.New("api.google-key is required for the google transcription backend")
		}
		return transcribe.NewGoogleClient(
			s.API.GoogleKey,
			s.Transcription.Language,
			transcribe.WithGoogleURL(s.Transcription.URL),
		), nil
	default:
		return nil, errors.Errorf("unknown transcription backend %q", s.Transcription.Backend)
	}
}

func newSynthesizer(s *settings.Settings) *speech.GoogleSynthesizer {
	return speech.NewGoogleSynthesizer(s.API.GoogleKey, s.Voice(),
		speech.WithURL(s.Speech.URL),
		speech.WithMinBytes(s.Speech.MinBytes),
		speech.WithCleaner(speech.Cleaner{Terminator: s.Speech.Terminator}),
	)
}

func newEffector(s *settings.Settings, blobs blob.Store, lipSync playback.LipSync) *playback.Effector {
	return playback.NewEffector(blobs, playback.FFprobeDecoder{}, playback.FFplayPlayer{},
		playback.WithLipSync(lipSync),
		playback.WithAnimations(s.Animations()),
	)
}

func newCamera(s *settings.Settings) camera.Source {
	switch {
	case !s.Camera.Enabled:
		return nil
	case s.Camera.StaticFile != "":
		return camera.StaticFile{Path: s.Camera.StaticFile}
	default:
		return camera.FFmpegCamera{Input: s.Camera.Input}
	}
}
