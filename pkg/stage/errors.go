// Package stage holds the error taxonomy shared by every stage of a
// conversation turn.
//
// Each stage package exports sentinels built with New. Callers match them with
// errors.Is; the orchestrator only ever looks at Stage and Kind for logging.
package stage

import (
	"fmt"

	"github.com/rs/zerolog"
)

type Stage string

const (
	Capture       Stage = "capture"
	Transcription Stage = "transcription"
	Query         Stage = "query"
	Synthesis     Stage = "synthesis"
	Playback      Stage = "playback"
)

type Kind string

const (
	KindNoDevice          Kind = "no-device"
	KindTooShort          Kind = "too-short"
	KindNetwork           Kind = "network"
	KindEmptyResult       Kind = "empty-result"
	KindMalformedResponse Kind = "malformed-response"
	KindDegenerate        Kind = "degenerate"
	KindDecodeFailed      Kind = "decode-failed"
)

// Error is a failure reported by one stage of a turn.
type Error struct {
	Stage Stage
	Kind  Kind
	Cause error
}

// New returns a sentinel for the given stage and kind.
func New(s Stage, k Kind) *Error {
	return &Error{Stage: s, Kind: k}
}

// Wrap attaches a cause to a sentinel, keeping it matchable with errors.Is.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Stage: sentinel.Stage, Kind: sentinel.Kind, Cause: cause}
}

// Wrapf is Wrap with a formatted cause.
func Wrapf(sentinel *Error, format string, args ...interface{}) *Error {
	return Wrap(sentinel, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same stage and kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Stage == e.Stage && t.Kind == e.Kind
}

func (e *Error) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("stage", string(e.Stage)).Str("kind", string(e.Kind))
	if e.Cause != nil {
		ev.AnErr("cause", e.Cause)
	}
}
