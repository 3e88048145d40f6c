package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoganK01/VoiceAiAssistant/internal/agent"
	"github.com/DoganK01/VoiceAiAssistant/internal/config"
	"github.com/DoganK01/VoiceAiAssistant/internal/httpserver"
	"github.com/DoganK01/VoiceAiAssistant/internal/pipeline"
	"github.com/DoganK01/VoiceAiAssistant/internal/store"
	"github.com/DoganK01/VoiceAiAssistant/internal/stt"
	"github.com/DoganK01/VoiceAiAssistant/internal/tts"
	"github.com/DoganK01/VoiceAiAssistant/internal/ws"
)

const systemPrompt = `You are a helpful assistant. You can answer questions, provide information, and assist with tasks.
You can also access external tools to get information or perform actions.
You can use the following tools:

    1. "get_weather": Provides current weather information.

    2. "get_latest_news": Provides the latest news.`

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	turns, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer func() { _ = turns.Close() }()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	if err := turns.Init(initCtx); err != nil {
		cancelInit()
		logger.Fatal("schema initialization failed", zap.Error(err))
	}
	cancelInit()

	// One pooled outbound client shared across transcription, generation,
	// synthesis, and every tool invocation.
	httpClient := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConnsPerHost:   10,
		},
	}

	deps := &agent.Dependencies{Settings: &cfg, HTTP: httpClient}
	transcriber := stt.NewGroqClient(httpClient, cfg.GroqAPIKey, cfg.GroqSTTModel, logger)
	voiceAgent := agent.New(httpClient, cfg.GroqAPIKey, cfg.GroqLLMModel, systemPrompt, agent.DefaultTools(), logger)
	synth := newSynthesizer(cfg, httpClient, logger)

	pipe := pipeline.New(
		transcriber,
		pipeline.NewAgentRunner(voiceAgent),
		synth,
		turns,
		deps,
		pipeline.Config{HistoryLimit: cfg.HistoryLimit, TTSBufferSize: cfg.TTSBufferSize},
		logger,
	)

	e := httpserver.New()
	wsHandler := ws.NewHandler(pipe, logger)
	httpserver.NewHandlers(turns, cfg.HistoryLimit, logger).Register(e, wsHandler.Serve)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", cfg.HTTPAddress))
		serverErrors <- e.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = e.Close()
	}
}

// newSynthesizer selects the TTS backend from configuration.
func newSynthesizer(cfg config.Config, httpClient *http.Client, logger *zap.Logger) tts.Synthesizer {
	switch cfg.TTSProvider {
	case "elevenlabs":
		return tts.NewElevenLabsClient(httpClient, cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.TTSChunkSize, logger)
	case "deepgram":
		return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, logger)
	default:
		return tts.NewOpenAIClient(httpClient, cfg.OpenAIAPIKey, cfg.OpenAITTSModel,
			cfg.TTSVoice, cfg.TTSFormat, cfg.TTSSpeed, cfg.TTSChunkSize, logger)
	}
}
