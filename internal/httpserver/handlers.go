package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/store"
)

// HistoryItem is one turn of the history response.
type HistoryItem struct {
	UserTranscript *string    `json:"user_transcript,omitempty"`
	AIResponse     *string    `json:"ai_response,omitempty"`
	UserTimestamp  *time.Time `json:"user_timestamp,omitempty"`
	AITimestamp    *time.Time `json:"ai_timestamp,omitempty"`
}

// HistoryResponse is the payload of GET /history/:session_id.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	History   []HistoryItem `json:"history"`
}

// HealthCheckDetail reports individual dependency checks.
type HealthCheckDetail struct {
	DatabaseConnected bool `json:"database_connected"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    HealthCheckDetail `json:"checks"`
}

// HistoryReader is the persistence surface the read endpoints need.
type HistoryReader interface {
	HistoryTurns(ctx context.Context, sessionID string, limit int) ([]store.ConversationTurn, error)
	Ping(ctx context.Context) error
}

// Handlers serves the thin pass-through read endpoints.
type Handlers struct {
	turns        HistoryReader
	historyLimit int
	logger       *zap.Logger
}

// NewHandlers constructs the read handlers.
func NewHandlers(turns HistoryReader, historyLimit int, logger *zap.Logger) *Handlers {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Handlers{turns: turns, historyLimit: historyLimit, logger: logger}
}

// Register binds all routes, including the voice WebSocket handler.
func (h *Handlers) Register(e *echo.Echo, wsHandler echo.HandlerFunc) {
	e.GET("/health", h.Health)
	e.GET("/history/:session_id", h.History)
	e.GET("/ws/:session_id", wsHandler)
}

// Health reports dependency status; 503 when the database is unreachable.
func (h *Handlers) Health(c echo.Context) error {
	dbOK := h.turns.Ping(c.Request().Context()) == nil

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    HealthCheckDetail{DatabaseConnected: dbOK},
	}
	if !dbOK {
		resp.Status = "partial_error"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// History returns the recent conversation history for a session.
func (h *Handlers) History(c echo.Context) error {
	sessionID := c.Param("session_id")
	turns, err := h.turns.HistoryTurns(c.Request().Context(), sessionID, h.historyLimit)
	if err != nil {
		h.logger.Error("history read failed", zap.String("session_id", sessionID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve history")
	}

	items := make([]HistoryItem, 0, len(turns))
	for _, turn := range turns {
		if turn.CreatedAt == nil {
			continue
		}
		items = append(items, HistoryItem{
			UserTranscript: turn.UserTranscript,
			AIResponse:     turn.AIResponse,
			UserTimestamp:  turn.UserTimestamp,
			AITimestamp:    turn.AITimestamp,
		})
	}
	return c.JSON(http.StatusOK, HistoryResponse{SessionID: sessionID, History: items})
}
