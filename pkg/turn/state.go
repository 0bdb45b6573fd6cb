package turn

import (
	"github.com/pkg/errors"
)

// State is a step of the turn state machine.
type State string

const (
	StateIdle           State = "idle"
	StateRecording      State = "recording"
	StateTranscribing   State = "transcribing"
	StateQuerying       State = "querying"
	StateSynthesizing   State = "synthesizing"
	StatePlaying        State = "playing"
	StateErrorReporting State = "error-reporting"
)

// Event drives a Transition between states.
type Event string

const (
	EventTrigger          Event = "trigger"
	EventClipReady        Event = "clip-ready"
	EventText             Event = "text"
	EventReply            Event = "reply"
	EventAudio            Event = "audio"
	EventPlaybackComplete Event = "playback-complete"
	EventFailed           Event = "failed"
	EventReported         Event = "reported"
	EventCancelled        Event = "cancelled"
)

var (
	// ErrBusy is returned when a trigger arrives while a turn is in progress.
	// The trigger is dropped, not queued.
	ErrBusy              = errors.New("a turn is already in progress")
	ErrInvalidTransition = errors.New("invalid turn transition")
)

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventTrigger: StateRecording,
	},
	StateRecording: {
		EventClipReady: StateTranscribing,
		EventFailed:    StateErrorReporting,
	},
	StateTranscribing: {
		EventText:   StateQuerying,
		EventFailed: StateErrorReporting,
	},
	StateQuerying: {
		EventReply:  StateSynthesizing,
		EventFailed: StateErrorReporting,
	},
	StateSynthesizing: {
		EventAudio:  StatePlaying,
		EventFailed: StateErrorReporting,
	},
	StatePlaying: {
		EventPlaybackComplete: StateIdle,
		EventFailed:           StateErrorReporting,
	},
	StateErrorReporting: {
		EventReported: StateIdle,
	},
}

// Transition returns the state reached from s on e. A trigger outside of
// Idle yields ErrBusy; any other unknown pair yields ErrInvalidTransition.
// In both cases s is returned unchanged.
func Transition(s State, e Event) (State, error) {
	if e == EventTrigger && s != StateIdle {
		return s, ErrBusy
	}
	if e == EventCancelled && s != StateIdle {
		return StateIdle, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, errors.Wrapf(ErrInvalidTransition, "%s on %s", e, s)
}
