package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const openAISpeechEndpoint = "https://api.openai.com/v1/audio/speech"

// DefaultChunkSize is the transport read size for streamed audio bodies.
const DefaultChunkSize = 1024 * 6

// OpenAIClient streams synthesized speech from the OpenAI audio API.
// Model, voice, format and speed are fixed at construction.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Voice      string
	Format     string
	Speed      float64
	ChunkSize  int
	Logger     *zap.Logger
}

// NewOpenAIClient constructs an OpenAI synthesis client.
func NewOpenAIClient(httpClient *http.Client, apiKey, model, voice, format string, speed float64, chunkSize int, logger *zap.Logger) *OpenAIClient {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &OpenAIClient{
		HTTPClient: httpClient,
		APIKey:     apiKey,
		Model:      model,
		Voice:      voice,
		Format:     format,
		Speed:      speed,
		ChunkSize:  chunkSize,
		Logger:     logger,
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize streams audio for text as the remote call emits it, rather than
// materializing the whole file first. Empty chunks are filtered out.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(audioCh)
		defer close(errCh)

		if c.APIKey == "" {
			errCh <- &SynthesisError{Message: "openai: API key missing"}
			return
		}
		if text == "" {
			return
		}

		body, _ := json.Marshal(speechRequest{
			Model:          c.Model,
			Input:          text,
			Voice:          c.Voice,
			ResponseFormat: c.Format,
			Speed:          c.Speed,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAISpeechEndpoint, bytes.NewReader(body))
		if err != nil {
			errCh <- &SynthesisError{Message: err.Error()}
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			errCh <- &SynthesisError{Message: fmt.Sprintf("openai speech request: %v", err)}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errCh <- &SynthesisError{Status: resp.StatusCode, Message: string(detail)}
			return
		}

		c.Logger.Debug("openai speech stream open",
			zap.String("model", c.Model), zap.String("voice", c.Voice))

		buf := make([]byte, c.ChunkSize)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				out := make([]byte, n)
				copy(out, buf[:n])
				select {
				case audioCh <- out:
				case <-ctx.Done():
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					errCh <- &SynthesisError{Message: fmt.Sprintf("openai speech read: %v", rerr)}
				}
				return
			}
		}
	}()

	return audioCh, errCh
}
