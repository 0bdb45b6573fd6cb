package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// StreamEvents upgrades to a websocket and forwards every turn event as a
// JSON text frame. Events are acked as soon as they are queued; a client that
// falls behind loses events instead of stalling the bus.
func (s *Server) StreamEvents(c echo.Context) error {
	if s.subscriber == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is not available")
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	// subscribe before upgrading so no event published after the handshake is missed
	messages, err := s.subscriber.Subscribe(ctx, s.topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade websocket")
		return nil
	}
	defer func() {
		_ = conn.Close()
	}()

	remote := c.RealIP()
	log.Debug().Str("remote", remote).Msg("Event stream client connected")
	defer log.Debug().Str("remote", remote).Msg("Event stream client disconnected")

	send := make(chan []byte, s.sendBuffer)
	go s.readLoop(conn, cancel)
	go s.queueLoop(ctx, messages, send, remote)

	return s.writeLoop(ctx, conn, send)
}

// readLoop discards client frames and cancels the stream when the client goes away.
func (s *Server) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Event stream read failed")
			}
			return
		}
	}
}

func (s *Server) queueLoop(ctx context.Context, messages <-chan *message.Message, send chan<- []byte, remote string) {
	defer close(send)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case send <- msg.Payload:
			default:
				log.Warn().Str("remote", remote).Str("uuid", msg.UUID).Msg("Event stream client is slow, dropping event")
			}
			msg.Ack()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return nil
		case payload, ok := <-send:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("Event stream write failed")
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
