package tts

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the text length at which Feed flushes regardless
	// of sentence boundaries.
	DefaultBufferSize = 128
)

// defaultSentenceEndings are the buffer suffixes that trigger a flush.
var defaultSentenceEndings = []string{"\n"}

// Stream accumulates text deltas for one session and flushes them to a
// Synthesizer, forwarding every audio chunk to the sink as it arrives.
// The buffer starts empty and Close zeroes it again on any exit path;
// Close never flushes, so callers must call Flush before relying on a
// complete output.
//
//	stream := tts.NewStream(synth, sink, logger)
//	defer stream.Close()
//	for delta := range deltas {
//		if err := stream.Feed(ctx, delta); err != nil { ... }
//	}
//	if err := stream.Flush(ctx); err != nil { ... }
type Stream struct {
	synth      Synthesizer
	sink       AudioSink
	bufferSize int
	endings    []string
	buf        strings.Builder
	logger     *zap.Logger
}

// StreamOption configures a Stream at construction. The configuration is
// immutable afterwards.
type StreamOption func(*Stream)

// WithBufferSize overrides the flush threshold in characters.
func WithBufferSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithSentenceEndings overrides the delimiter set that triggers a flush.
func WithSentenceEndings(endings []string) StreamOption {
	return func(s *Stream) {
		if len(endings) > 0 {
			s.endings = endings
		}
	}
}

// NewStream creates a Stream with an empty buffer.
func NewStream(synth Synthesizer, sink AudioSink, logger *zap.Logger, opts ...StreamOption) *Stream {
	s := &Stream{
		synth:      synth,
		sink:       sink,
		bufferSize: DefaultBufferSize,
		endings:    defaultSentenceEndings,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed appends text to the buffer, then flushes when the buffer has reached
// the size threshold or ends with a sentence delimiter. Audio produced by the
// triggered flush is forwarded to the sink before Feed returns.
func (s *Stream) Feed(ctx context.Context, text string) error {
	s.buf.WriteString(text)
	if s.shouldFlush() {
		s.logger.Debug("feed triggered flush", zap.Int("buffer_len", s.buf.Len()))
		return s.Flush(ctx)
	}
	return nil
}

func (s *Stream) shouldFlush() bool {
	if s.buf.Len() >= s.bufferSize {
		return true
	}
	if s.buf.Len() == 0 {
		return false
	}
	content := s.buf.String()
	for _, ending := range s.endings {
		if strings.HasSuffix(content, ending) {
			return true
		}
	}
	return false
}

// Flush synthesizes whatever the buffer holds and forwards the audio to the
// sink. The buffer is cleared before the synthesis call so a failure cannot
// leave stale text behind. A whitespace-only buffer is cleared and produces
// nothing.
func (s *Stream) Flush(ctx context.Context) error {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return nil
	}

	chunks, errs := s.synth.Synthesize(ctx, text)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk) == 0 {
				continue
			}
			if err := s.sink.Write(ctx, chunk); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close zeroes the buffer without flushing. It is safe on every exit path,
// including after an error.
func (s *Stream) Close() {
	s.buf.Reset()
}
