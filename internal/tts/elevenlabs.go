package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// ElevenLabsClient streams synthesized speech from the ElevenLabs HTTP
// streaming endpoint.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	ChunkSize  int
	Logger     *zap.Logger
}

// NewElevenLabsClient constructs an ElevenLabs synthesis client.
func NewElevenLabsClient(httpClient *http.Client, apiKey, voiceID string, chunkSize int, logger *zap.Logger) *ElevenLabsClient {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ElevenLabsClient{
		HTTPClient: httpClient,
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ChunkSize:  chunkSize,
		Logger:     logger,
	}
}

// Synthesize streams audio for text via the ElevenLabs stream endpoint.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(audioCh)
		defer close(errCh)

		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- &SynthesisError{Message: "elevenlabs: api key or voice id missing"}
			return
		}
		if text == "" {
			return
		}
		if err := e.httpStream(ctx, text, audioCh); err != nil {
			errCh <- err
		}
	}()

	return audioCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, text string, audioCh chan<- []byte) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return &SynthesisError{Message: err.Error()}
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return &SynthesisError{Message: fmt.Sprintf("elevenlabs stream request: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &SynthesisError{Status: resp.StatusCode, Message: string(detail)}
	}

	e.Logger.Debug("elevenlabs stream open", zap.String("voice_id", e.VoiceID))

	chunk := make([]byte, e.ChunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case audioCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return &SynthesisError{Message: fmt.Sprintf("elevenlabs stream read: %v", rerr)}
		}
	}
}
