package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/pipeline"
	"github.com/DoganK01/VoiceAiAssistant/internal/store"
)

// fakeProcessor emits audio chunks through the transport before returning,
// mimicking the real pipeline's incremental synthesis.
type fakeProcessor struct {
	mu         sync.Mutex
	chunks     [][]byte
	turn       *store.ConversationTurn
	err        error
	panicValue any
	sessions   []string
}

func (f *fakeProcessor) Sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func (f *fakeProcessor) Process(ctx context.Context, transport pipeline.Transport, sessionID string, audio []byte) (*store.ConversationTurn, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	f.mu.Unlock()
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	for _, c := range f.chunks {
		if err := transport.SendBinary(ctx, c); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.turn, nil
}

type wsEvent struct {
	text   string
	binary []byte
}

func dialSession(t *testing.T, proc Processor, path string) *websocket.Conn {
	t.Helper()
	e := echo.New()
	h := NewHandler(proc, zap.NewNop())
	e.GET("/ws/:session_id", h.Serve)
	e.GET("/ws", h.Serve)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	if mt == websocket.BinaryMessage {
		return wsEvent{binary: data}
	}
	return wsEvent{text: string(data)}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ev := readEvent(t, conn)
	require.Nil(t, ev.binary, "expected a control line, got binary")
	return ev.text
}

func strPtr(s string) *string { return &s }

func TestHandler_SuccessfulTurnOrdering(t *testing.T) {
	proc := &fakeProcessor{
		chunks: [][]byte{{0x01, 0x02}, {0x03}},
		turn: &store.ConversationTurn{
			SessionID:      "abc",
			UserTranscript: strPtr("what time is it"),
			AIResponse:     strPtr("It is noon."),
		},
	}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))

	// Audio chunks stream out before the transcript lines.
	ev := readEvent(t, conn)
	require.NotNil(t, ev.binary)
	assert.Equal(t, []byte{0x01, 0x02}, ev.binary)
	ev = readEvent(t, conn)
	require.NotNil(t, ev.binary)
	assert.Equal(t, []byte{0x03}, ev.binary)

	assert.Equal(t, "USER_TRANSCRIPT: what time is it", readText(t, conn))
	assert.Equal(t, "AI_RESPONSE: It is noon.", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn))

	assert.Equal(t, []string{"abc"}, proc.Sessions())
}

func TestHandler_PipelineErrorLine(t *testing.T) {
	proc := &fakeProcessor{err: &pipeline.Error{Step: "stt", Message: "Failed to transcribe audio."}}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "ERROR: Failed to transcribe audio. (step: stt)", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn), "session stays alive after a pipeline error")
}

func TestHandler_UnexpectedErrorLine(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("nil pointer somewhere")}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "ERROR: An unexpected server error occurred during processing.", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn))
}

func TestHandler_PanicRecovered(t *testing.T) {
	proc := &fakeProcessor{panicValue: "boom"}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "ERROR: An unexpected server error occurred during processing.", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn), "connection survives a panic")
}

func TestHandler_MissingResponseLine(t *testing.T) {
	proc := &fakeProcessor{turn: &store.ConversationTurn{
		SessionID:      "abc",
		UserTranscript: strPtr("hello"),
	}}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "USER_TRANSCRIPT: hello", readText(t, conn))
	assert.Equal(t, "ERROR: Failed to generate audio response.", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn))
}

func TestHandler_IgnoresTextAndEmptyMessages(t *testing.T) {
	proc := &fakeProcessor{turn: &store.ConversationTurn{
		SessionID:      "abc",
		UserTranscript: strPtr("real audio"),
		AIResponse:     strPtr("got it"),
	}}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))

	// Neither of these may reach the pipeline.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello?")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, nil))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))

	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "USER_TRANSCRIPT: real audio", readText(t, conn))
	assert.Equal(t, "AI_RESPONSE: got it", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn))

	assert.Equal(t, []string{"abc"}, proc.Sessions(), "exactly one pipeline run")
}

func TestHandler_GeneratesSessionID(t *testing.T) {
	proc := &fakeProcessor{turn: &store.ConversationTurn{
		UserTranscript: strPtr("x"),
		AIResponse:     strPtr("y"),
	}}
	conn := dialSession(t, proc, "/ws")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA}))
	assert.Equal(t, "STATUS: Processing...", readText(t, conn))
	assert.Equal(t, "USER_TRANSCRIPT: x", readText(t, conn))
	assert.Equal(t, "AI_RESPONSE: y", readText(t, conn))
	assert.Equal(t, "STATUS: Ready", readText(t, conn))

	sessions := proc.Sessions()
	require.Len(t, sessions, 1)
	assert.NotEmpty(t, sessions[0], "missing path param gets a generated session id")
}

func TestHandler_SerializedTurns(t *testing.T) {
	proc := &fakeProcessor{turn: &store.ConversationTurn{
		SessionID:      "abc",
		UserTranscript: strPtr("one"),
		AIResponse:     strPtr("two"),
	}}
	conn := dialSession(t, proc, "/ws/abc")

	assert.Equal(t, "STATUS: Ready", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x02}))

	// Each turn's full line sequence completes before the next begins.
	for i := 0; i < 2; i++ {
		assert.Equal(t, "STATUS: Processing...", readText(t, conn))
		assert.Equal(t, "USER_TRANSCRIPT: one", readText(t, conn))
		assert.Equal(t, "AI_RESPONSE: two", readText(t, conn))
		assert.Equal(t, "STATUS: Ready", readText(t, conn))
	}
	assert.Len(t, proc.Sessions(), 2)
}
