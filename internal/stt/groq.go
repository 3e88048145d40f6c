// Package stt transcribes recorded audio to text.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const groqTranscriptionEndpoint = "https://api.groq.com/openai/v1/audio/transcriptions"

// Transcriber converts one complete audio utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// TranscriptionError carries the provider's status and message for a failed
// transcription call.
type TranscriptionError struct {
	Status  int
	Message string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (%s): status=%d %s", e.Kind(), e.Status, e.Message)
}

// Kind classifies the failure by provider status.
func (e *TranscriptionError) Kind() string {
	switch e.Status {
	case http.StatusBadRequest:
		return "malformed"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "auth"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusTooManyRequests:
		return "rate-limit"
	default:
		return "unavailable"
	}
}

// GroqClient transcribes audio through the Groq Whisper API.
type GroqClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Logger     *zap.Logger
}

// NewGroqClient constructs a Groq transcription client.
func NewGroqClient(httpClient *http.Client, apiKey, model string, logger *zap.Logger) *GroqClient {
	return &GroqClient{HTTPClient: httpClient, APIKey: apiKey, Model: model, Logger: logger}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe posts the audio bytes as a multipart upload and returns the
// trimmed transcript.
func (c *GroqClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if c.APIKey == "" {
		return "", &TranscriptionError{Status: http.StatusUnauthorized, Message: "groq api key missing"}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	_ = mw.WriteField("model", c.Model)
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, groqTranscriptionEndpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.Logger.Debug("sending audio to groq stt",
		zap.Int("bytes", len(audio)), zap.String("model", c.Model))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &TranscriptionError{Status: resp.StatusCode, Message: string(detail)}
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &TranscriptionError{Message: fmt.Sprintf("decode response: %v", err)}
	}
	return strings.TrimSpace(tr.Text), nil
}
