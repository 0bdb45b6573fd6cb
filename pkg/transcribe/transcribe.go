// Package transcribe turns a recorded clip into text through a remote
// speech-to-text service.
package transcribe

import (
	"context"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/go-go-golems/grillo/pkg/stage"
)

var (
	// ErrNetwork covers transport failures and non-success HTTP statuses.
	ErrNetwork = stage.New(stage.Transcription, stage.KindNetwork)
	// ErrEmptyResult means the service answered but recognized nothing.
	ErrEmptyResult = stage.New(stage.Transcription, stage.KindEmptyResult)
	// ErrMalformedResponse means the body could not be decoded.
	ErrMalformedResponse = stage.New(stage.Transcription, stage.KindMalformedResponse)
)

type Client interface {
	Transcribe(ctx context.Context, clip *audio.Clip) (string, error)
}

type Backend string

const (
	BackendGoogle Backend = "google"
	BackendOpenAI Backend = "openai"
)
