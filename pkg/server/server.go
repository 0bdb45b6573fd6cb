// Package server exposes the turn orchestrator over HTTP: a trigger endpoint,
// read-only state and history, and a websocket stream of turn events for
// avatar and UI clients.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Turns is the part of the orchestrator the server drives.
type Turns interface {
	BeginTurn(ctx context.Context) (*turn.Handle, error)
	State() turn.State
	History() []history.Entry
}

var _ Turns = (*turn.Orchestrator)(nil)

type Server struct {
	turns      Turns
	subscriber message.Subscriber
	topic      string

	baseCtx      context.Context
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	current *turn.Handle
}

type Option func(*Server)

func WithTopic(topic string) Option {
	return func(s *Server) {
		s.topic = topic
	}
}

// WithBaseContext sets the context turns and event streams derive from.
// Request contexts end with the request, so they are never used for turns.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithSendBuffer sets how many events may queue per websocket client before
// further events are dropped for that client.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// NewServer creates a server. subscriber may be nil, in which case the event
// stream endpoint answers 503.
func NewServer(turns Turns, subscriber message.Subscriber, options ...Option) *Server {
	s := &Server{
		turns:        turns,
		subscriber:   subscriber,
		topic:        events.TopicTurn,
		baseCtx:      context.Background(),
		sendBuffer:   64,
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the avatar client is served from a different origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/turns", s.StartTurn)
	e.DELETE("/v1/turns/current", s.CancelTurn)
	e.GET("/v1/state", s.GetState)
	e.GET("/v1/history", s.GetHistory)
	e.GET("/v1/events", s.StreamEvents)
	e.GET("/health", s.Health)
}

// Echo builds an echo instance with logging and recovery middleware and all
// routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	s.RegisterRoutes(e)
	return e
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	e := s.Echo()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- e.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http shutdown")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	}
}

type startTurnResponse struct {
	Started bool   `json:"started"`
	TurnID  string `json:"turn_id,omitempty"`
	State   string `json:"state"`
}

// StartTurn triggers a turn. A trigger while a turn is running is dropped and
// answered with started=false.
func (s *Server) StartTurn(c echo.Context) error {
	h, err := s.turns.BeginTurn(s.baseCtx)
	switch {
	case err == nil:
	case errors.Is(err, turn.ErrBusy):
		return c.JSON(http.StatusOK, startTurnResponse{Started: false, State: string(s.turns.State())})
	case errors.Is(err, turn.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()

	return c.JSON(http.StatusAccepted, startTurnResponse{
		Started: true,
		TurnID:  h.TurnID,
		State:   string(s.turns.State()),
	})
}

type cancelTurnResponse struct {
	Cancelled bool   `json:"cancelled"`
	TurnID    string `json:"turn_id,omitempty"`
}

// CancelTurn cancels the turn most recently started through this server. The
// turn stops at its next stage boundary.
func (s *Server) CancelTurn(c echo.Context) error {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()

	if h == nil || !h.IsRunning() {
		return c.JSON(http.StatusOK, cancelTurnResponse{Cancelled: false})
	}
	h.Cancel()
	return c.JSON(http.StatusOK, cancelTurnResponse{Cancelled: true, TurnID: h.TurnID})
}

func (s *Server) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"state": string(s.turns.State()),
	})
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

func (s *Server) GetHistory(c echo.Context) error {
	entries := s.turns.History()
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, historyResponse{Entries: entries})
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
