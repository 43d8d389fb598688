package stt

import "context"

// Transcriber defines the contract for any speech-to-text vendor
// implementation. It takes the complete utterance blob (WAV or raw PCM16)
// and returns the recognized text.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a finished utterance into text.
	Transcribe(ctx context.Context, blob []byte) (string, error)
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SampleRate int
	Language   string
	Model      string
}
