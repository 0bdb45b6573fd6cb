package events

import (
	"sync"
	"time"

	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Announcer publishes the events of one session, tagging each with the
// session id and the id of the turn in progress. It also acts as the
// playback lip-sync driver.
type Announcer struct {
	sink      EventSink
	sessionID string
	now       func() time.Time

	mu     sync.Mutex
	turnID string
}

func NewAnnouncer(sink EventSink, sessionID string) *Announcer {
	if sink == nil {
		sink = NullSink{}
	}
	return &Announcer{sink: sink, sessionID: sessionID, now: time.Now}
}

// SetTurn sets the turn id attached to subsequent events. An empty id clears it.
func (a *Announcer) SetTurn(turnID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turnID = turnID
}

func (a *Announcer) metadata() EventMetadata {
	a.mu.Lock()
	turnID := a.turnID
	a.mu.Unlock()
	return a.metadataFor(turnID)
}

func (a *Announcer) metadataFor(turnID string) EventMetadata {
	return EventMetadata{
		ID:        uuid.New(),
		SessionID: a.sessionID,
		TurnID:    turnID,
		Time:      a.now(),
	}
}

func (a *Announcer) publish(e Event) {
	if err := a.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("Failed to publish event")
	}
}

// StateChanged publishes a transition of the given turn. An empty turn id
// marks a transition outside of any turn.
func (a *Announcer) StateChanged(turnID, from, to string) {
	a.publish(NewStateChangedEvent(a.metadataFor(turnID), from, to))
}

func (a *Announcer) TranscriptEntry(speaker, text string) {
	a.publish(NewTranscriptEntryEvent(a.metadata(), speaker, text))
}

func (a *Announcer) TurnError(turnID string, err error) {
	meta := a.metadataFor(turnID)
	var se *stage.Error
	if errors.As(err, &se) {
		a.publish(NewTurnErrorEvent(meta, string(se.Stage), string(se.Kind), err.Error()))
		return
	}
	a.publish(NewTurnErrorEvent(meta, "", "", err.Error()))
}

// Start signals that speech playback began.
func (a *Announcer) Start(duration time.Duration, animation int) {
	a.publish(NewSpeakingStartedEvent(a.metadata(), animation, duration))
}

// Stop signals that speech playback ended and the avatar returns to idle.
func (a *Announcer) Stop(idle int) {
	a.publish(NewSpeakingStoppedEvent(a.metadata(), idle))
}
