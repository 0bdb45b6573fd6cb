package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStateChanged    EventType = "state-changed"
	EventTypeTranscriptEntry EventType = "transcript-entry"
	EventTypeSpeakingStarted EventType = "speaking-started"
	EventTypeSpeakingStopped EventType = "speaking-stopped"
	EventTypeTurnError       EventType = "turn-error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventMetadata struct {
	ID        uuid.UUID `json:"message_id" yaml:"message_id"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	Time      time.Time `json:"time" yaml:"time"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

// EventStateChanged reports a turn state transition.
type EventStateChanged struct {
	EventImpl
	From string `json:"from"`
	To   string `json:"to"`
}

func NewStateChangedEvent(metadata EventMetadata, from, to string) *EventStateChanged {
	return &EventStateChanged{
		EventImpl: EventImpl{Type_: EventTypeStateChanged, Metadata_: metadata},
		From:      from,
		To:        to,
	}
}

// EventTranscriptEntry is emitted after an entry has been committed to history.
type EventTranscriptEntry struct {
	EventImpl
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func NewTranscriptEntryEvent(metadata EventMetadata, speaker, text string) *EventTranscriptEntry {
	return &EventTranscriptEntry{
		EventImpl: EventImpl{Type_: EventTypeTranscriptEntry, Metadata_: metadata},
		Speaker:   speaker,
		Text:      text,
	}
}

// EventSpeakingStarted tells the avatar which speaking animation to run and
// for how long.
type EventSpeakingStarted struct {
	EventImpl
	Animation  int   `json:"animation"`
	DurationMs int64 `json:"duration_ms"`
}

func NewSpeakingStartedEvent(metadata EventMetadata, animation int, duration time.Duration) *EventSpeakingStarted {
	return &EventSpeakingStarted{
		EventImpl:  EventImpl{Type_: EventTypeSpeakingStarted, Metadata_: metadata},
		Animation:  animation,
		DurationMs: duration.Milliseconds(),
	}
}

type EventSpeakingStopped struct {
	EventImpl
	Animation int `json:"animation"`
}

func NewSpeakingStoppedEvent(metadata EventMetadata, idle int) *EventSpeakingStopped {
	return &EventSpeakingStopped{
		EventImpl: EventImpl{Type_: EventTypeSpeakingStopped, Metadata_: metadata},
		Animation: idle,
	}
}

// EventTurnError reports the stage failure that aborted a turn.
type EventTurnError struct {
	EventImpl
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func NewTurnErrorEvent(metadata EventMetadata, stage, kind, message string) *EventTurnError {
	return &EventTurnError{
		EventImpl: EventImpl{Type_: EventTypeTurnError, Metadata_: metadata},
		Stage:     stage,
		Kind:      kind,
		Message:   message,
	}
}

// NewEventFromJson decodes a payload published by a WatermillSink back into
// its typed event.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var ev Event
	switch hdr.Type {
	case EventTypeStateChanged:
		ev = &EventStateChanged{}
	case EventTypeTranscriptEntry:
		ev = &EventTranscriptEntry{}
	case EventTypeSpeakingStarted:
		ev = &EventSpeakingStarted{}
	case EventTypeSpeakingStopped:
		ev = &EventSpeakingStopped{}
	case EventTypeTurnError:
		ev = &EventTurnError{}
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}
	if err := json.Unmarshal(b, ev); err != nil {
		return nil, err
	}
	if p, ok := ev.(interface{ setPayload([]byte) }); ok {
		p.setPayload(b)
	}
	return ev, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
