// Package turn drives one conversation turn at a time through capture,
// transcription, query, synthesis and playback.
//
// The orchestrator is single-flight: BeginTurn returns ErrBusy while a turn
// is running and the trigger is dropped. Every stage failure aborts the turn,
// speaks a fixed apology and returns to idle.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/go-go-golems/grillo/pkg/blob"
	"github.com/go-go-golems/grillo/pkg/camera"
	"github.com/go-go-golems/grillo/pkg/capture"
	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/query"
	"github.com/go-go-golems/grillo/pkg/speech"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/go-go-golems/grillo/pkg/transcribe"
	"github.com/go-go-golems/grillo/pkg/transcript"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultApology is spoken when a turn fails and no apology is configured.
const DefaultApology = "ごめんね、うまくいかなかったみたい。もう一度話しかけてね。"

// Capturer records one utterance from the microphone.
type Capturer interface {
	BeginCapture(ctx context.Context, opts capture.Options) (*audio.Clip, error)
}

// Player plays synthesized speech and returns once it has finished.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Announcer receives state changes and turn failures. SetTurn names the turn
// that side channels such as lip sync and transcript entries belong to; state
// changes and errors carry their turn id explicitly.
type Announcer interface {
	SetTurn(turnID string)
	StateChanged(turnID, from, to string)
	TurnError(turnID string, err error)
}

type nullAnnouncer struct{}

func (nullAnnouncer) SetTurn(string)                      {}
func (nullAnnouncer) StateChanged(string, string, string) {}
func (nullAnnouncer) TurnError(string, error)             {}

// Labels are the speaker names written to the transcript.
type Labels struct {
	User  string `yaml:"user"`
	Model string `yaml:"model"`
}

// Config tunes every turn an orchestrator runs.
type Config struct {
	Capture capture.Options
	// Apology is spoken whenever a turn fails.
	Apology string
	// StageTimeout bounds each remote call. Zero means no bound.
	StageTimeout time.Duration
	// KeepUnanswered leaves the user entry in history when a later stage fails.
	KeepUnanswered bool
	Labels         Labels
}

// DefaultConfig returns the configuration used by the CLI when nothing is set.
func DefaultConfig() Config {
	return Config{
		Capture:      capture.DefaultOptions(),
		Apology:      DefaultApology,
		StageTimeout: 30 * time.Second,
		Labels: Labels{
			User:  transcript.DefaultUserLabel,
			Model: transcript.DefaultModelLabel,
		},
	}
}

// Deps are the services a turn runs through. Camera, Transcript and
// Announcer are optional.
type Deps struct {
	Capturer    Capturer
	Transcriber transcribe.Client
	History     *history.History
	Query       query.Client
	Synthesizer speech.Synthesizer
	Player      Player
	Blobs       blob.Store
	Camera      camera.Source
	Transcript  transcript.Sink
	Announcer   Announcer
}

// Orchestrator owns the turn state machine and runs at most one turn at a time.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	state  State
	active *Handle
	closed bool
}

// NewOrchestrator validates deps and returns an idle orchestrator. An empty
// apology or label in cfg takes the default.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Capturer == nil:
		return nil, errors.New("orchestrator needs a capturer")
	case deps.Transcriber == nil:
		return nil, errors.New("orchestrator needs a transcriber")
	case deps.History == nil:
		return nil, errors.New("orchestrator needs a history")
	case deps.Query == nil:
		return nil, errors.New("orchestrator needs a query client")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator needs a synthesizer")
	case deps.Player == nil:
		return nil, errors.New("orchestrator needs a player")
	case deps.Blobs == nil:
		return nil, errors.New("orchestrator needs a blob store")
	}
	if deps.Announcer == nil {
		deps.Announcer = nullAnnouncer{}
	}
	d := DefaultConfig()
	if cfg.Apology == "" {
		cfg.Apology = d.Apology
	}
	if cfg.Labels.User == "" {
		cfg.Labels.User = d.Labels.User
	}
	if cfg.Labels.Model == "" {
		cfg.Labels.Model = d.Labels.Model
	}
	return &Orchestrator{deps: deps, cfg: cfg, state: StateIdle}, nil
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns a snapshot of the conversation so far.
func (o *Orchestrator) History() []history.Entry {
	return o.deps.History.Snapshot()
}

// BeginTurn starts a turn in the background. Cancelling ctx or the returned
// handle stops the turn at the next stage boundary.
func (o *Orchestrator) BeginTurn(ctx context.Context) (*Handle, error) {
	if o == nil {
		return nil, ErrOrchestratorNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	from := o.state
	next, err := Transition(from, EventTrigger)
	if err != nil {
		o.mu.Unlock()
		log.Debug().Str("state", string(from)).Msg("Trigger dropped, turn in progress")
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(uuid.NewString(), cancel)
	o.state = next
	o.active = h
	o.deps.Announcer.SetTurn(h.TurnID)
	o.mu.Unlock()

	o.announce(h.TurnID, from, next)

	go o.run(runCtx, h)
	return h, nil
}

// Close cancels a running turn, waits for it, clears the history and removes
// every temporary blob.
func (o *Orchestrator) Close() error {
	if o == nil {
		return ErrOrchestratorNil
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	active := o.active
	o.mu.Unlock()

	if active != nil {
		active.Cancel()
		_, _ = active.Wait()
	}

	o.deps.History.Clear()
	if c, ok := o.deps.Blobs.(interface{ Cleanup() error }); ok {
		if err := c.Cleanup(); err != nil {
			return errors.Wrap(err, "blob cleanup")
		}
	}
	log.Debug().Msg("Orchestrator closed")
	return nil
}

func (o *Orchestrator) fire(turnID string, e Event) error {
	o.mu.Lock()
	from := o.state
	next, err := Transition(from, e)
	if err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("turn_id", turnID).Msg("Unexpected turn transition")
		return err
	}
	o.state = next
	o.mu.Unlock()

	o.announce(turnID, from, next)
	return nil
}

func (o *Orchestrator) announce(turnID string, from, to State) {
	log.Debug().Str("turn_id", turnID).Str("from", string(from)).Str("to", string(to)).Msg("Turn state changed")
	o.deps.Announcer.StateChanged(turnID, string(from), string(to))
}

func (o *Orchestrator) run(ctx context.Context, h *Handle) {
	result := &Result{TurnID: h.TurnID}
	pending := false

	err := o.runStages(ctx, h.TurnID, result, &pending)
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		o.retract(h.TurnID, pending)
		log.Info().Str("turn_id", h.TurnID).Msg("Turn cancelled")
		_ = o.fire(h.TurnID, EventCancelled)
	default:
		o.retract(h.TurnID, pending)
		logStageError(h.TurnID, err)
		o.deps.Announcer.TurnError(h.TurnID, err)
		if fireErr := o.fire(h.TurnID, EventFailed); fireErr == nil {
			o.apologize(ctx, h.TurnID)
			_ = o.fire(h.TurnID, EventReported)
		}
	}

	// a trigger may already have started the next turn once we reached idle
	o.mu.Lock()
	if o.active == h {
		o.active = nil
		o.deps.Announcer.SetTurn("")
	}
	o.mu.Unlock()
	h.setResult(result, err)
}

func logStageError(turnID string, err error) {
	ev := log.Warn().Str("turn_id", turnID)
	var se *stage.Error
	if errors.As(err, &se) {
		ev = ev.Object("stage_error", se)
	} else {
		ev = ev.Err(err)
	}
	ev.Msg("Turn aborted")
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// remoteContext ignores turn cancellation and is bounded by the stage timeout.
func (o *Orchestrator) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if o.cfg.StageTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, o.cfg.StageTimeout)
}

func (o *Orchestrator) runStages(ctx context.Context, turnID string, result *Result, pending *bool) error {
	// Recording
	clip, err := o.deps.Capturer.BeginCapture(ctx, o.cfg.Capture)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return err
	}
	result.ClipDuration = clip.Duration()
	if err := o.fire(turnID, EventClipReady); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	// Transcribing
	text, err := o.transcribe(ctx, clip)
	if err != nil {
		return err
	}
	result.UserText = text
	prior := o.deps.History.Snapshot()
	o.deps.History.Append(history.RoleUser, text)
	*pending = true
	o.appendTranscript(ctx, o.cfg.Labels.User, text)
	image := o.captureImage(ctx)
	if err := o.fire(turnID, EventText); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	// Querying
	qctx, cancel := o.remoteContext(ctx)
	reply, err := o.deps.Query.Query(qctx, prior, text, image)
	cancel()
	if err != nil {
		return err
	}
	result.Reply = reply
	o.deps.History.Append(history.RoleModel, reply)
	*pending = false
	o.appendTranscript(ctx, o.cfg.Labels.Model, reply)
	if err := o.fire(turnID, EventReply); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	// Synthesizing
	sctx, cancel := o.remoteContext(ctx)
	spoken, err := o.deps.Synthesizer.Synthesize(sctx, reply)
	cancel()
	if err != nil {
		return err
	}
	result.AudioBytes = len(spoken)
	if err := o.fire(turnID, EventAudio); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	// Playing runs to completion once started.
	if err := o.deps.Player.Play(context.WithoutCancel(ctx), spoken); err != nil {
		return err
	}
	return o.fire(turnID, EventPlaybackComplete)
}

// transcribe keeps the recorded clip as a temporary WAV blob for the
// duration of the call.
func (o *Orchestrator) transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	if wav, err := clip.WAV(); err == nil {
		h, err := o.deps.Blobs.Create(wav, "wav")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to store recording")
		} else {
			defer func() {
				if err := o.deps.Blobs.Delete(h); err != nil {
					log.Warn().Err(err).Str("path", string(h)).Msg("Failed to delete recording")
				}
			}()
		}
	}

	tctx, cancel := o.remoteContext(ctx)
	defer cancel()
	return o.deps.Transcriber.Transcribe(tctx, clip)
}

func (o *Orchestrator) captureImage(ctx context.Context) []byte {
	if o.deps.Camera == nil {
		return nil
	}
	cctx, cancel := o.remoteContext(ctx)
	defer cancel()
	img, err := o.deps.Camera.Capture(cctx)
	if err != nil {
		log.Warn().Err(err).Msg("No camera image, asking without one")
		return nil
	}
	return img
}

func (o *Orchestrator) appendTranscript(ctx context.Context, speaker, message string) {
	if o.deps.Transcript == nil {
		return
	}
	if err := o.deps.Transcript.Append(context.WithoutCancel(ctx), speaker, message); err != nil {
		log.Warn().Err(err).Str("speaker", speaker).Msg("Failed to append transcript")
	}
}

func (o *Orchestrator) retract(turnID string, pending bool) {
	if !pending || o.cfg.KeepUnanswered {
		return
	}
	if e, ok := o.deps.History.RetractPending(); ok {
		log.Debug().Str("turn_id", turnID).Str("text", e.Text).Msg("Retracted unanswered user entry")
	}
}

// apologize speaks the fixed apology. Its own failures are logged and dropped.
func (o *Orchestrator) apologize(ctx context.Context, turnID string) {
	sctx, cancel := o.remoteContext(ctx)
	spoken, err := o.deps.Synthesizer.Synthesize(sctx, o.cfg.Apology)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("turn_id", turnID).Msg("Apology synthesis failed")
		return
	}
	if err := o.deps.Player.Play(context.WithoutCancel(ctx), spoken); err != nil {
		log.Debug().Err(err).Str("turn_id", turnID).Msg("Apology playback failed")
	}
}
