// Package pipeline sequences one voice turn: transcription, history replay,
// streaming generation interleaved with speech synthesis, timestamp
// extraction, and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/agent"
	"github.com/DoganK01/VoiceAiAssistant/internal/message"
	"github.com/DoganK01/VoiceAiAssistant/internal/store"
	"github.com/DoganK01/VoiceAiAssistant/internal/stt"
	"github.com/DoganK01/VoiceAiAssistant/internal/tts"
)

// Error is a pipeline failure attributed to one step, reported verbatim to
// the client.
type Error struct {
	Step    string // "stt" | "tts"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline error at step '%s': %s", e.Step, e.Message)
}

// Transport delivers control lines and audio chunks to the client.
type Transport interface {
	SendText(ctx context.Context, line string) error
	SendBinary(ctx context.Context, chunk []byte) error
}

// AgentStream is the in-flight agent run consumed by the pipeline.
type AgentStream interface {
	Deltas() <-chan string
	Wait() error
	NewMessages() []message.Message
}

// Runner opens one streaming agent run.
type Runner interface {
	RunStream(ctx context.Context, prompt string, history []message.Message, deps *agent.Dependencies) (AgentStream, error)
}

// TurnStore is the persistence contract the pipeline needs.
type TurnStore interface {
	AddTurn(ctx context.Context, turn store.ConversationTurn) (*store.ConversationTurn, error)
	HistoryTurns(ctx context.Context, sessionID string, limit int) ([]store.ConversationTurn, error)
}

// Config tunes one pipeline instance.
type Config struct {
	Language      string
	HistoryLimit  int
	TTSBufferSize int
}

// Pipeline owns the collaborators for processing voice turns. Safe for use
// by concurrent sessions; all per-turn state lives in Process.
type Pipeline struct {
	transcriber stt.Transcriber
	runner      Runner
	synth       tts.Synthesizer
	turns       TurnStore
	deps        *agent.Dependencies
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Pipeline.
func New(transcriber stt.Transcriber, runner Runner, synth tts.Synthesizer, turns TurnStore, deps *agent.Dependencies, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TTSBufferSize <= 0 {
		cfg.TTSBufferSize = tts.DefaultBufferSize
	}
	return &Pipeline{
		transcriber: transcriber,
		runner:      runner,
		synth:       synth,
		turns:       turns,
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process runs the full pipeline for one audio message and returns the
// finalized turn. A persistence failure is logged and recovered: the returned
// turn is then the in-memory one, with ID and CreatedAt unset.
func (p *Pipeline) Process(ctx context.Context, transport Transport, sessionID string, audio []byte) (*store.ConversationTurn, error) {
	log := p.logger.With(zap.String("session_id", sessionID))
	log.Info("starting voice pipeline", zap.Int("audio_bytes", len(audio)))

	transcript, err := p.transcriber.Transcribe(ctx, audio, p.cfg.Language)
	if err != nil || transcript == "" {
		if err != nil {
			log.Error("transcription failed", zap.Error(err))
		}
		return nil, &Error{Step: "stt", Message: "Failed to transcribe audio."}
	}
	log.Info("transcription complete", zap.String("transcript", transcript))

	history, err := p.turns.HistoryTurns(ctx, sessionID, p.cfg.HistoryLimit)
	if err != nil {
		log.Warn("history load failed, continuing without history", zap.Error(err))
		history = nil
	}
	msgs := message.FormatHistory(history)

	response, newMessages, err := p.streamAndSynthesize(ctx, transport, transcript, msgs)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		log.Error("generation stream failed", zap.Error(err))
		return nil, &Error{Step: "tts", Message: "Failed to synthesize speech."}
	}
	if response == "" {
		return nil, &Error{Step: "tts", Message: "Failed to synthesize speech."}
	}
	log.Info("generation complete", zap.Int("response_len", len(response)))

	userTS, aiTS := message.ExtractTimestamps(newMessages, log)

	turn := store.ConversationTurn{
		SessionID:      sessionID,
		UserTranscript: &transcript,
		AIResponse:     &response,
	}
	if !userTS.IsZero() {
		turn.UserTimestamp = &userTS
	}
	if !aiTS.IsZero() {
		turn.AITimestamp = &aiTS
	}

	// A disconnect detected before persistence skips the insert entirely.
	if ctx.Err() != nil {
		log.Warn("client gone before persistence, returning unpersisted turn")
		return &turn, nil
	}

	saved, err := p.turns.AddTurn(ctx, turn)
	if err != nil {
		log.Error("failed to save conversation turn, proceeding with in-memory turn", zap.Error(err))
		return &turn, nil
	}
	log.Info("voice pipeline completed")
	return saved, nil
}

// streamAndSynthesize wraps the agent's delta stream in a TTS session: every
// delta is fed to the accumulator and every produced audio chunk goes to the
// transport immediately. A final flush after the stream ends drains any
// remainder.
func (p *Pipeline) streamAndSynthesize(ctx context.Context, transport Transport, prompt string, history []message.Message) (string, []message.Message, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run, err := p.runner.RunStream(runCtx, prompt, history, p.deps)
	if err != nil {
		return "", nil, err
	}

	stream := tts.NewStream(p.synth, tts.SinkFunc(transport.SendBinary), p.logger,
		tts.WithBufferSize(p.cfg.TTSBufferSize))
	defer stream.Close()

	var full strings.Builder
	for delta := range run.Deltas() {
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := stream.Feed(runCtx, delta); err != nil {
			p.logger.Error("speech synthesis failed mid-stream", zap.Error(err))
			return "", nil, &Error{Step: "tts", Message: "Failed to synthesize speech."}
		}
	}
	if err := run.Wait(); err != nil {
		return "", nil, err
	}
	if err := stream.Flush(ctx); err != nil {
		p.logger.Error("final speech flush failed", zap.Error(err))
		return "", nil, &Error{Step: "tts", Message: "Failed to synthesize speech."}
	}
	return full.String(), run.NewMessages(), nil
}

// agentRunner adapts *agent.Agent to the Runner interface.
type agentRunner struct {
	agent *agent.Agent
}

// NewAgentRunner wraps a concrete agent for use by the pipeline.
func NewAgentRunner(a *agent.Agent) Runner {
	return agentRunner{agent: a}
}

func (r agentRunner) RunStream(ctx context.Context, prompt string, history []message.Message, deps *agent.Dependencies) (AgentStream, error) {
	return r.agent.RunStream(ctx, prompt, history, deps)
}
