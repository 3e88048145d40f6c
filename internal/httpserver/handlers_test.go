package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/store"
)

type fakeReader struct {
	turns      []store.ConversationTurn
	historyErr error
	pingErr    error
	gotSession string
	gotLimit   int
}

func (f *fakeReader) HistoryTurns(_ context.Context, sessionID string, limit int) ([]store.ConversationTurn, error) {
	f.gotSession = sessionID
	f.gotLimit = limit
	return f.turns, f.historyErr
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

func doRequest(t *testing.T, reader *fakeReader, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := New()
	h := NewHandlers(reader, 20, zap.NewNop())
	h.Register(e, func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func strPtr(s string) *string { return &s }

func TestHealth_OK(t *testing.T) {
	rec := doRequest(t, &fakeReader{}, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Checks.DatabaseConnected)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealth_DatabaseDown(t *testing.T) {
	rec := doRequest(t, &fakeReader{pingErr: errors.New("refused")}, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial_error", resp.Status)
	assert.False(t, resp.Checks.DatabaseConnected)
}

func TestHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Second)
	reader := &fakeReader{turns: []store.ConversationTurn{
		{
			SessionID:      "s1",
			UserTranscript: strPtr("hello"),
			AIResponse:     strPtr("hi"),
			UserTimestamp:  &now,
			AITimestamp:    &later,
			CreatedAt:      &later,
		},
		{SessionID: "s1", UserTranscript: strPtr("unsaved")}, // no CreatedAt, filtered out
	}}

	rec := doRequest(t, reader, "/history/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", reader.gotSession)
	assert.Equal(t, 20, reader.gotLimit)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "hello", *resp.History[0].UserTranscript)
	assert.Equal(t, "hi", *resp.History[0].AIResponse)
}

func TestHistory_Empty(t *testing.T) {
	rec := doRequest(t, &fakeReader{}, "/history/nobody")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.History)
	assert.Empty(t, resp.History)
}

func TestHistory_ReadFailure(t *testing.T) {
	rec := doRequest(t, &fakeReader{historyErr: errors.New("db gone")}, "/history/s1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to retrieve history")
}

func TestNewHandlers_DefaultLimit(t *testing.T) {
	h := NewHandlers(&fakeReader{}, 0, zap.NewNop())
	assert.Equal(t, 20, h.historyLimit)
}
