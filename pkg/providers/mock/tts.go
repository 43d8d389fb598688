package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/adapters/tts"
)

type TTSConfig struct {
	// Chunks is the exact fragment sequence to emit. When nil, ChunkCount
	// fragments of ChunkSize silent PCM bytes are produced instead.
	Chunks     [][]byte
	ChunkCount int
	ChunkSize  int
	Delay      time.Duration
	Err        error
	// FailAfter closes the stream with Err after emitting that many
	// fragments. Zero fails before the first fragment.
	FailAfter int
}

type Synthesizer struct {
	cfg TTSConfig

	mu    sync.Mutex
	calls []string
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.Chunks == nil && cfg.ChunkCount == 0 {
		cfg.ChunkCount = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 320
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	chunks := s.cfg.Chunks
	if chunks == nil {
		chunks = make([][]byte, s.cfg.ChunkCount)
		for i := range chunks {
			chunks[i] = make([]byte, s.cfg.ChunkSize)
		}
	}

	stream := tts.NewStream(len(chunks) + 1)
	go func() {
		for i, chunk := range chunks {
			if s.cfg.Err != nil && i >= s.cfg.FailAfter {
				stream.Close(s.cfg.Err)
				return
			}
			if s.cfg.Delay > 0 {
				select {
				case <-time.After(s.cfg.Delay):
				case <-ctx.Done():
					stream.Close(ctx.Err())
					return
				}
			}
			if err := stream.Send(ctx, chunk); err != nil {
				stream.Close(err)
				return
			}
		}
		if s.cfg.Err != nil && s.cfg.FailAfter >= len(chunks) {
			stream.Close(s.cfg.Err)
			return
		}
		stream.Close(nil)
	}()
	return stream, nil
}

// Calls returns the texts synthesized so far.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
