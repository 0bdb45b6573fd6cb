package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurns struct {
	mu      sync.Mutex
	state   turn.State
	err     error
	started int
	entries []history.Entry
}

func (f *fakeTurns) BeginTurn(context.Context) (*turn.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.started++
	f.state = turn.StateRecording
	return &turn.Handle{TurnID: "turn-1"}, nil
}

func (f *fakeTurns) State() turn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTurns) History() []history.Entry {
	return f.entries
}

func TestStartTurn(t *testing.T) {
	turns := &fakeTurns{state: turn.StateIdle}
	s := NewServer(turns, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, s.StartTurn(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body startTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Started)
	assert.Equal(t, "turn-1", body.TurnID)
	assert.Equal(t, "recording", body.State)
	assert.Equal(t, 1, turns.started)
}

func TestStartTurn_BusyIsDropped(t *testing.T) {
	turns := &fakeTurns{state: turn.StateQuerying, err: turn.ErrBusy}
	s := NewServer(turns, nil)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, s.StartTurn(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body startTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Started)
	assert.Equal(t, "querying", body.State)
}

func TestStartTurn_Closed(t *testing.T) {
	s := NewServer(&fakeTurns{err: turn.ErrClosed}, nil)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/turns", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCancelTurn(t *testing.T) {
	s := NewServer(&fakeTurns{state: turn.StateIdle}, nil)
	e := echo.New()

	rec := httptest.NewRecorder()
	require.NoError(t, s.CancelTurn(e.NewContext(httptest.NewRequest(http.MethodDelete, "/v1/turns/current", nil), rec)))
	assert.JSONEq(t, `{"cancelled":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, s.StartTurn(e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/turns", nil), rec)))

	rec = httptest.NewRecorder()
	require.NoError(t, s.CancelTurn(e.NewContext(httptest.NewRequest(http.MethodDelete, "/v1/turns/current", nil), rec)))
	assert.JSONEq(t, `{"cancelled":true,"turn_id":"turn-1"}`, rec.Body.String())
}

func TestGetStateAndHistory(t *testing.T) {
	turns := &fakeTurns{
		state: turn.StatePlaying,
		entries: []history.Entry{
			{Role: history.RoleUser, Text: "こんにちは"},
			{Role: history.RoleModel, Text: "やっほー"},
		},
	}
	s := NewServer(turns, nil)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/state")
	require.NoError(t, err)
	var state map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, "playing", state["state"])

	resp, err = http.Get(ts.URL + "/v1/history")
	require.NoError(t, err)
	var hist historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Equal(t, turns.entries, hist.Entries)
}

func TestGetHistory_EmptyIsArray(t *testing.T) {
	s := NewServer(&fakeTurns{}, nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, s.GetHistory(e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/history", nil), rec)))
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
}

func TestStreamEvents_Unavailable(t *testing.T) {
	s := NewServer(&fakeTurns{}, nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	err := s.StreamEvents(e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/events", nil), rec))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
}

func TestStreamEvents(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() {
		_ = router.Close()
	}()

	s := NewServer(&fakeTurns{}, router.Subscriber)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	announcer := events.NewAnnouncer(router.Sink(), "session-1")
	announcer.SetTurn("turn-1")
	announcer.StateChanged("turn-1", "idle", "recording")
	announcer.Start(1500*time.Millisecond, 4)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// the bus does not guarantee ordering between separate publishes
	received := map[events.EventType]events.Event{}
	for len(received) < 2 {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := events.NewEventFromJson(payload)
		require.NoError(t, err)
		received[ev.Type()] = ev
	}

	changed, ok := received[events.EventTypeStateChanged].(*events.EventStateChanged)
	require.True(t, ok)
	assert.Equal(t, "recording", changed.To)
	assert.Equal(t, "turn-1", changed.Metadata().TurnID)

	started, ok := received[events.EventTypeSpeakingStarted].(*events.EventSpeakingStarted)
	require.True(t, ok)
	assert.Equal(t, 4, started.Animation)
	assert.Equal(t, int64(1500), started.DurationMs)
}
