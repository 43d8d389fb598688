// Package elevenlabs implements streaming synthesis against the ElevenLabs
// HTTP API, producing raw PCM16 fragments.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxwire/voxwire/pkg/adapters/tts"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/logging"
)

type Config struct {
	APIKey     string
	VoiceID    string
	Model      string
	SampleRate int
	ChunkSize  int
	BaseURL    string
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = "eleven_turbo_v2_5"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = audio.DefaultChunkSize
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	payload := map[string]any{
		"text":     text,
		"model_id": s.cfg.Model,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSRequest)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		s.cfg.BaseURL, s.cfg.VoiceID, s.outputFormat())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSRequest)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSRequest)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errorsx.Wrap(errors.New(string(msg)), errorsx.ReasonTTSRequest)
	}

	stream := tts.NewStream(16)
	go func() {
		defer resp.Body.Close()
		started := time.Now()
		var total int
		buf := make([]byte, s.cfg.ChunkSize)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				total += n
				if sendErr := stream.Send(ctx, chunk); sendErr != nil {
					stream.Close(sendErr)
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				s.logger.Debug("synthesis_done",
					slog.Int("bytes", total),
					slog.Duration("elapsed", time.Since(started)),
				)
				stream.Close(nil)
				return
			}
			if err != nil {
				stream.Close(errorsx.Wrap(err, errorsx.ReasonSynthesisFailed))
				return
			}
		}
	}()
	return stream, nil
}

func (s *Synthesizer) outputFormat() string {
	return fmt.Sprintf("pcm_%d", s.cfg.SampleRate)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
