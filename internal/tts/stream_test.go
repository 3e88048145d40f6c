package tts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeSynth records every flushed text span and emits canned chunks.
type fakeSynth struct {
	spans  []string
	chunks [][]byte
	err    error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	f.spans = append(f.spans, text)
	audioCh := make(chan []byte, len(f.chunks)+1)
	errCh := make(chan error, 1)
	go func() {
		defer close(audioCh)
		defer close(errCh)
		if f.err != nil {
			errCh <- f.err
			return
		}
		for _, c := range f.chunks {
			audioCh <- c
		}
	}()
	return audioCh, errCh
}

type recordingSink struct {
	writes [][]byte
	err    error
}

func (s *recordingSink) Write(_ context.Context, chunk []byte) error {
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, chunk)
	return nil
}

func TestStream_NoFlushBelowThreshold(t *testing.T) {
	synth := &fakeSynth{chunks: [][]byte{{1, 2}}}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	require.NoError(t, stream.Feed(context.Background(), "hello"))
	require.NoError(t, stream.Feed(context.Background(), " world"))
	assert.Empty(t, synth.spans, "no flush expected below threshold without delimiter")
	assert.Empty(t, sink.writes)

	require.NoError(t, stream.Flush(context.Background()))
	assert.Equal(t, []string{"hello world"}, synth.spans)
	assert.Len(t, sink.writes, 1)
}

func TestStream_FlushOnSentenceEnding(t *testing.T) {
	synth := &fakeSynth{chunks: [][]byte{{1}}}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	require.NoError(t, stream.Feed(context.Background(), "Hi there.\n"))
	assert.Equal(t, []string{"Hi there."}, synth.spans, "delimiter suffix triggers flush with trimmed text")
}

func TestStream_FlushOnSizeThreshold(t *testing.T) {
	synth := &fakeSynth{chunks: [][]byte{{1}}}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop(), WithBufferSize(8))
	defer stream.Close()

	require.NoError(t, stream.Feed(context.Background(), "abcd"))
	assert.Empty(t, synth.spans)
	require.NoError(t, stream.Feed(context.Background(), "efgh"))
	assert.Equal(t, []string{"abcdefgh"}, synth.spans)
}

func TestStream_FlushEmptyBufferIsIdempotent(t *testing.T) {
	synth := &fakeSynth{}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	require.NoError(t, stream.Flush(context.Background()))
	require.NoError(t, stream.Flush(context.Background()))
	assert.Empty(t, synth.spans)

	require.NoError(t, stream.Feed(context.Background(), "   \t "))
	require.NoError(t, stream.Flush(context.Background()))
	assert.Empty(t, synth.spans, "whitespace-only buffer flushes to nothing")
	require.NoError(t, stream.Flush(context.Background()))
	assert.Empty(t, synth.spans)
}

func TestStream_BufferClearedBeforeSynthesis(t *testing.T) {
	boom := &SynthesisError{Status: 500, Message: "boom"}
	synth := &fakeSynth{err: boom}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	err := stream.Feed(context.Background(), "fail me\n")
	require.Error(t, err)
	var serr *SynthesisError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 500, serr.Status)

	// The failed text must not linger: a subsequent flush yields nothing new.
	synth.err = nil
	require.NoError(t, stream.Flush(context.Background()))
	assert.Equal(t, []string{"fail me"}, synth.spans)
}

func TestStream_EmptyChunksFiltered(t *testing.T) {
	synth := &fakeSynth{chunks: [][]byte{{1, 2}, {}, {3}}}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	require.NoError(t, stream.Feed(context.Background(), "text\n"))
	assert.Equal(t, [][]byte{{1, 2}, {3}}, sink.writes)
}

func TestStream_SinkErrorPropagates(t *testing.T) {
	synth := &fakeSynth{chunks: [][]byte{{1}}}
	sink := &recordingSink{err: errors.New("client gone")}
	stream := NewStream(synth, sink, zap.NewNop())
	defer stream.Close()

	err := stream.Feed(context.Background(), "text\n")
	assert.ErrorContains(t, err, "client gone")
}

func TestStream_CloseDoesNotFlush(t *testing.T) {
	synth := &fakeSynth{}
	sink := &recordingSink{}
	stream := NewStream(synth, sink, zap.NewNop())

	require.NoError(t, stream.Feed(context.Background(), "pending"))
	stream.Close()
	assert.Empty(t, synth.spans, "Close must clear without synthesizing")

	require.NoError(t, stream.Flush(context.Background()))
	assert.Empty(t, synth.spans, "buffer is gone after Close")
}

// Feeding arbitrary text one rune at a time must re-assemble into the fed
// text: every flushed span is trimmed and non-empty, and nothing except
// boundary whitespace is lost or duplicated.
func TestStream_ReassemblyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOfN(rapid.RuneFrom([]rune("ab .!\n\tx")), 0, 200, -1).Draw(t, "text")
		threshold := rapid.IntRange(1, 64).Draw(t, "threshold")

		synth := &fakeSynth{chunks: [][]byte{{1}}}
		stream := NewStream(synth, &recordingSink{}, zap.NewNop(), WithBufferSize(threshold))
		defer stream.Close()

		for _, r := range text {
			if err := stream.Feed(context.Background(), string(r)); err != nil {
				t.Fatalf("feed: %v", err)
			}
		}
		if err := stream.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}

		for _, span := range synth.spans {
			if span == "" || span != strings.TrimSpace(span) {
				t.Fatalf("span %q not trimmed and non-empty", span)
			}
		}
		got := stripSpace(strings.Join(synth.spans, ""))
		want := stripSpace(text)
		if got != want {
			t.Fatalf("re-assembled %q, fed %q", got, want)
		}
	})
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}
