// Package transcript records the visible conversation: one (speaker, message)
// line per committed history entry.
package transcript

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/rs/zerolog/log"
)

const (
	DefaultUserLabel  = "あなた"
	DefaultModelLabel = "Geminiちゃん"
	DefaultHint       = "話しかけてみてね。Enterキーで録音を開始します。"
)

type Sink interface {
	Append(ctx context.Context, speaker string, message string) error
}

// Console writes "speaker: message" lines.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Sink = (*Console)(nil)

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Append(_ context.Context, speaker string, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s: %s\n", speaker, message)
	return err
}

// Hint prints an unlabeled line, used for the startup hint.
func (c *Console) Hint(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, text)
}

type eventPublisher interface {
	TranscriptEntry(speaker, text string)
}

// EventSink forwards entries to the event bus.
type EventSink struct {
	announcer eventPublisher
}

var _ Sink = (*EventSink)(nil)

func NewEventSink(a *events.Announcer) *EventSink {
	return &EventSink{announcer: a}
}

func (e *EventSink) Append(_ context.Context, speaker string, message string) error {
	e.announcer.TranscriptEntry(speaker, message)
	return nil
}

// Fanout appends to every sink, logging failures and returning the first.
type Fanout []Sink

var _ Sink = Fanout(nil)

func (f Fanout) Append(ctx context.Context, speaker string, message string) error {
	var firstErr error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, speaker, message); err != nil {
			log.Warn().Err(err).Str("speaker", speaker).Msg("Transcript sink failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
