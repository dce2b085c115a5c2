package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/scribe-backend/internal/scribe"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 128
	// maxFrameSize is the largest client frame accepted. Larger audio chunks
	// are answered with an error frame and skipped; anything past
	// maxMessageSize closes the socket.
	maxFrameSize   = 8 << 20
	maxMessageSize = 2 * maxFrameSize
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConn is the websocket transport for one transcription session. Frames
// queued before Close are still written; the socket is closed once the
// queue has drained.
type WSConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan scribe.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWSConn(ws *websocket.Conn, id int64, logger *slog.Logger) *WSConn {
	return &WSConn{
		ws:     ws,
		logger: logger.With("transcription_id", id),
		send:   make(chan scribe.Frame, sendBufferSize),
	}
}

func (c *WSConn) Send(frame scribe.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("send buffer full, dropping frame", "frame", frame.FrameType())
		return ErrSendBufferFull
	}
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

func (c *WSConn) readPump(ctx context.Context, s *scribe.Session) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.logger.Warn("client frame exceeded read limit, closing", "limit", maxMessageSize)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if len(message) > maxFrameSize {
			c.logger.Warn("dropping oversized frame", "size", len(message), "limit", maxFrameSize)
			if err := c.Send(scribe.NewErrorFrame(MessageFrameTooLarge)); err != nil {
				return
			}
			continue
		}

		var frame scribe.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("failed to unmarshal frame", "error", err)
			continue
		}

		if err := s.Deliver(ctx, frame); err != nil {
			if !errors.Is(err, scribe.ErrSessionClosed) {
				c.logger.Debug("stopped delivering frames", "error", err)
			}
			return
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("failed to marshal frame", "error", err)
				continue
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
