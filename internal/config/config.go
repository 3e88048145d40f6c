package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds application configuration. It is built once at startup and
// passed by reference; nothing reads the environment after Load returns.
type Config struct {
	HTTPAddress string

	// DatabaseURL is either taken verbatim from DATABASE_URL or assembled
	// from the PG_* components.
	DatabaseURL string

	GroqAPIKey        string
	OpenAIAPIKey      string
	OpenWeatherAPIKey string
	NewsAPIKey        string

	GroqSTTModel   string
	GroqLLMModel   string
	OpenAITTSModel string

	// TTS synthesis parameters, immutable for the lifetime of a session.
	TTSProvider   string // openai | elevenlabs | deepgram
	TTSVoice      string
	TTSFormat     string
	TTSSpeed      float64
	TTSBufferSize int
	TTSChunkSize  int

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string

	HistoryLimit int
}

// Load reads environment variables (and .env if present) and returns Config
// with sane defaults. Missing AI provider keys log warnings; missing database
// configuration is an error.
func Load(logger *zap.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := Config{
		HTTPAddress:       envOr("HTTP_ADDRESS", ":8080"),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		NewsAPIKey:        os.Getenv("NEWS_API_KEY"),
		GroqSTTModel:      envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		GroqLLMModel:      envOr("GROQ_LLM_MODEL", "llama-3.3-70b-versatile"),
		OpenAITTSModel:    envOr("OPENAI_TTS_MODEL", "tts-1"),
		TTSProvider:       envOr("TTS_PROVIDER", "openai"),
		TTSVoice:          envOr("TTS_VOICE", "alloy"),
		TTSFormat:         envOr("TTS_FORMAT", "aac"),
		TTSSpeed:          envFloatOr("TTS_SPEED", 1.0),
		TTSBufferSize:     envIntOr("TTS_BUFFER_SIZE", 128),
		TTSChunkSize:      envIntOr("TTS_CHUNK_SIZE", 6144),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     os.Getenv("DEEPGRAM_TTS_MODEL"),
		HistoryLimit:      envIntOr("HISTORY_LIMIT", 20),
	}

	dsn, err := databaseURL()
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = dsn

	if cfg.GroqAPIKey == "" {
		logger.Warn("GROQ_API_KEY not set - transcription and the agent will not work")
	}
	if cfg.TTSProvider == "openai" && cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set - speech synthesis will not work")
	}
	if cfg.OpenWeatherAPIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY not set - the weather tool will not work")
	}
	if cfg.NewsAPIKey == "" {
		logger.Warn("NEWS_API_KEY not set - the news tool will not work")
	}

	logger.Info("configuration loaded",
		zap.String("http_address", cfg.HTTPAddress),
		zap.String("tts_provider", cfg.TTSProvider),
		zap.String("llm_model", cfg.GroqLLMModel),
	)
	return cfg, nil
}

// databaseURL prefers DATABASE_URL; otherwise it assembles a DSN from the
// PG_* components, erroring out when neither form is complete.
func databaseURL() (string, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn, nil
	}
	user := os.Getenv("PG_USER")
	password := os.Getenv("PG_PASSWORD")
	host := os.Getenv("PG_HOST")
	port := os.Getenv("PG_PORT")
	dbname := os.Getenv("PG_DBNAME")
	if user == "" || password == "" || host == "" || port == "" || dbname == "" {
		return "", fmt.Errorf("database configuration insufficient: set DATABASE_URL or all of PG_USER, PG_PASSWORD, PG_HOST, PG_PORT, PG_DBNAME")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, dbname), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}
