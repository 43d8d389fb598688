// Package mock provides deterministic collaborator implementations for
// tests and the loopback example: configurable transcripts, replies, chunk
// counts, per-call delay, and forced failures.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/adapters/stt"
)

type STTConfig struct {
	Transcript string
	Delay      time.Duration
	Err        error
}

type Transcriber struct {
	cfg STTConfig

	mu    sync.Mutex
	calls int
	blobs [][]byte
}

func NewTranscriber(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, blob []byte) (string, error) {
	t.mu.Lock()
	t.calls++
	t.blobs = append(t.blobs, blob)
	t.mu.Unlock()

	if t.cfg.Delay > 0 {
		select {
		case <-time.After(t.cfg.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if t.cfg.Err != nil {
		return "", t.cfg.Err
	}
	return t.cfg.Transcript, nil
}

// Calls reports how many transcriptions were requested.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Blobs returns the blobs handed to Transcribe, in order.
func (t *Transcriber) Blobs() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.blobs))
	copy(out, t.blobs)
	return out
}

var _ stt.Transcriber = (*Transcriber)(nil)
