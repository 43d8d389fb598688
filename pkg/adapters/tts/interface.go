package tts

import "context"

// Synthesizer defines the contract for any text-to-speech vendor
// implementation. Synthesize returns a stream of ordered PCM16 fragments;
// the caller drains it to completion or cancels ctx.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize starts converting text into audio fragments.
	Synthesize(ctx context.Context, text string) (*Stream, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SampleRate int
	Voice      string
	Model      string
}

// Stream delivers synthesized audio fragments in order. The producer calls
// Send for each fragment and Close exactly once; after the channel drains,
// Err reports how the stream ended.
type Stream struct {
	ch  chan []byte
	err error
}

// NewStream creates a stream with the given fragment buffer depth.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 8
	}
	return &Stream{ch: make(chan []byte, buffer)}
}

// Chunks returns the receive side. It is closed when synthesis finishes or
// fails; check Err afterwards.
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Send delivers one fragment, honoring ctx cancellation.
func (s *Stream) Send(ctx context.Context, chunk []byte) error {
	select {
	case s.ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. A non-nil err marks the synthesis as failed.
func (s *Stream) Close(err error) {
	s.err = err
	close(s.ch)
}

// Err reports the terminal error. Only valid after Chunks is closed.
func (s *Stream) Err() error { return s.err }
