package gateway

import (
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/scribe"
	"github.com/eleven-am/scribe-backend/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	MessageDuplicateSession = "Transcription already has an active session"
	MessageSessionFailed    = "Failed to start transcription session"
	MessageFrameTooLarge    = "Audio chunk too large, send shorter chunks"
)

type Handler struct {
	registry *scribe.Registry
	logger   *slog.Logger
}

func NewHandler(registry *scribe.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:id", h.Transcribe)
}

// Transcribe godoc
// @Summary      Stream a transcription session
// @Description  Upgrades to a websocket that accepts audio_chunk and cancel frames for an existing transcription
// @Tags         transcriptions
// @Param        id   path  int  true  "Transcription ID"
// @Success      101
// @Failure      400  {object}  shared.APIError
// @Failure      409  {object}  shared.APIError
// @Router       /ws/transcribe/{id} [get]
func (h *Handler) Transcribe(c echo.Context) error {
	id, err := record.ParseID(c.Param("id"))
	if err != nil {
		return shared.BadRequest("invalid_id", "transcription id must be a positive integer")
	}

	if _, ok := h.registry.Get(id); ok {
		return shared.Conflict("session_active", MessageDuplicateSession)
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	ctx := c.Request().Context()
	conn := NewWSConn(ws, id, h.logger)

	session, err := h.registry.Register(ctx, id, conn)
	if err != nil {
		msg := MessageSessionFailed
		if errors.Is(err, scribe.ErrDuplicateSession) {
			msg = MessageDuplicateSession
		} else {
			h.logger.Error("failed to register session", "transcription_id", id, "error", err)
		}
		rejectWS(ws, msg)
		return nil
	}

	h.logger.Info("client connected", "transcription_id", id)

	go conn.writePump()
	conn.readPump(ctx, session)

	h.registry.Detach(session)
	h.logger.Info("client disconnected", "transcription_id", id)
	return nil
}

func rejectWS(ws *websocket.Conn, msg string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteJSON(scribe.NewErrorFrame(msg))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
	_ = ws.Close()
}
