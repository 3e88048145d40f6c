// Package ws runs the per-connection voice session loop: one binary message
// is one complete utterance, processed fully before the next read.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/pipeline"
	"github.com/DoganK01/VoiceAiAssistant/internal/store"
)

// Processor runs the voice pipeline for one complete audio message.
type Processor interface {
	Process(ctx context.Context, transport pipeline.Transport, sessionID string, audio []byte) (*store.ConversationTurn, error)
}

// Control lines sent to the client between audio chunks.
const (
	statusReady      = "STATUS: Ready"
	statusProcessing = "STATUS: Processing..."
	genericErrorLine = "ERROR: An unexpected server error occurred during processing."
	noResponseLine   = "ERROR: Failed to generate audio response."
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// Handler upgrades voice session connections and drives the message loop.
type Handler struct {
	pipe   Processor
	logger *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(pipe Processor, logger *zap.Logger) *Handler {
	return &Handler{pipe: pipe, logger: logger}
}

// Serve is the echo handler for GET /ws/:session_id.
func (h *Handler) Serve(c echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := h.logger.With(zap.String("session_id", sessionID))

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()
	log.Info("websocket session opened")

	// The request context is canceled when the client goes away, which
	// aborts any in-flight pipeline step.
	ctx := c.Request().Context()
	transport := &connTransport{conn: conn}

	h.sendText(ctx, transport, statusReady, log)

	for {
		messageType, audio, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket closed abruptly", zap.Error(err))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
					closeDeadline())
			} else {
				log.Info("websocket session closed")
			}
			return nil
		}
		if messageType != websocket.BinaryMessage || len(audio) == 0 {
			log.Warn("ignoring empty or non-binary message", zap.Int("type", messageType))
			continue
		}

		// Strictly serialized: the next ReadMessage happens only after this
		// message's pipeline run completes.
		h.handleAudio(ctx, transport, sessionID, audio, log)
	}
}

// handleAudio processes one complete utterance. Unexpected failures are
// recovered here so the connection survives to the next message.
func (h *Handler) handleAudio(ctx context.Context, transport *connTransport, sessionID string, audio []byte, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing audio message", zap.Any("panic", r))
			h.sendText(ctx, transport, genericErrorLine, log)
		}
		h.sendText(ctx, transport, statusReady, log)
	}()

	log.Info("processing audio message", zap.Int("bytes", len(audio)))
	h.sendText(ctx, transport, statusProcessing, log)

	turn, err := h.pipe.Process(ctx, transport, sessionID, audio)
	if err != nil {
		if perr, ok := err.(*pipeline.Error); ok {
			log.Error("pipeline error", zap.String("step", perr.Step), zap.String("message", perr.Message))
			h.sendText(ctx, transport, "ERROR: "+perr.Message+" (step: "+perr.Step+")", log)
		} else {
			log.Error("unexpected pipeline failure", zap.Error(err))
			h.sendText(ctx, transport, genericErrorLine, log)
		}
		return
	}

	if turn.UserTranscript != nil {
		h.sendText(ctx, transport, "USER_TRANSCRIPT: "+*turn.UserTranscript, log)
	}
	if turn.AIResponse != nil {
		h.sendText(ctx, transport, "AI_RESPONSE: "+*turn.AIResponse, log)
	} else {
		h.sendText(ctx, transport, noResponseLine, log)
	}
}

func (h *Handler) sendText(ctx context.Context, transport *connTransport, line string, log *zap.Logger) {
	if err := transport.SendText(ctx, line); err != nil {
		log.Warn("failed to send control line", zap.String("line", line), zap.Error(err))
	}
}

// connTransport adapts a websocket connection to the pipeline transport.
// gorilla connections allow one concurrent writer; the session loop is
// fully serialized, so no locking is needed.
type connTransport struct {
	conn *websocket.Conn
}

func (t *connTransport) SendText(_ context.Context, line string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *connTransport) SendBinary(_ context.Context, chunk []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
