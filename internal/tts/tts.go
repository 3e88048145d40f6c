// Package tts turns generated text into streamed audio. A Synthesizer speaks
// one span of text; Stream buffers incoming text deltas and decides when to
// hand a span to the synthesizer.
package tts

import (
	"context"
	"fmt"
)

// Synthesizer streams audio for the given text. Chunks are emitted on the
// first channel as the remote call produces them; a provider failure is
// delivered on the second channel as a *SynthesisError. Both channels are
// closed when the stream ends.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// SynthesisError carries the provider's status and message for a failed
// synthesis call.
type SynthesisError struct {
	Status  int
	Message string
}

func (e *SynthesisError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("synthesis failed: status=%d %s", e.Status, e.Message)
	}
	return "synthesis failed: " + e.Message
}

// AudioSink receives synthesized audio chunks for delivery to the client.
type AudioSink interface {
	Write(ctx context.Context, chunk []byte) error
}

// SinkFunc adapts a function to the AudioSink interface.
type SinkFunc func(ctx context.Context, chunk []byte) error

func (f SinkFunc) Write(ctx context.Context, chunk []byte) error {
	return f(ctx, chunk)
}
