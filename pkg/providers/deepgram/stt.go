// Package deepgram transcribes finished utterances through the Deepgram
// prerecorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"

	"github.com/voxwire/voxwire/pkg/adapters/stt"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/logging"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

type Transcriber struct {
	cfg    Config
	api    *listenapi.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	restClient := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})

	return &Transcriber{
		cfg:    cfg,
		api:    listenapi.New(restClient),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", errorsx.Wrap(errors.New("empty audio blob"), errorsx.ReasonSTTRequest)
	}

	// Browser recorders glue WAV segments together; the API wants one
	// well-formed container.
	if pcm, err := audio.ExtractPCM(blob); err == nil && len(pcm) > 0 && len(pcm) != len(blob) {
		blob = audio.EncodeWAV(pcm, audio.DefaultSampleRate)
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: true,
		Punctuate:   true,
	}

	started := time.Now()
	res, err := t.api.FromStream(ctx, bytes.NewReader(blob), options)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTRequest)
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", errorsx.Wrap(errors.New("no transcription alternatives"), errorsx.ReasonTranscriptionFailed)
	}
	transcript := res.Results.Channels[0].Alternatives[0].Transcript

	t.logger.Debug("transcription_done",
		slog.Int("blob_bytes", len(blob)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return transcript, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
