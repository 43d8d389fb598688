// Package orchestrator runs the server-side turn pipeline: transcribe the
// finished utterance, generate a reply, synthesize it, and stream the audio
// back while keeping the session machine and transcript honest.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/voxwire/voxwire/pkg/adapters/stt"
	"github.com/voxwire/voxwire/pkg/adapters/tts"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/llm"
	"github.com/voxwire/voxwire/pkg/logging"
	"github.com/voxwire/voxwire/pkg/metrics"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/redact"
	"github.com/voxwire/voxwire/pkg/session"
)

// Sender delivers one server message to the peer, preserving order.
type Sender interface {
	Send(msg protocol.ServerMessage) error
}

// Config tunes the pipeline.
type Config struct {
	// ChunkSize bounds outgoing synthesis fragments in bytes.
	ChunkSize int
	// StageTimeout caps each collaborator call.
	StageTimeout time.Duration
	// SystemPrompt seeds the reasoning context.
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = audio.DefaultChunkSize
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator drives turns for one or more sessions. It is stateless per
// turn; all turn state lives in the session.
type Orchestrator struct {
	cfg         Config
	transcriber stt.Transcriber
	reasoner    llm.Adapter
	synthesizer tts.Synthesizer
	observer    metrics.Observer
	logger      *slog.Logger
}

// New assembles a pipeline around the three collaborators.
func New(cfg Config, transcriber stt.Transcriber, reasoner llm.Adapter, synthesizer tts.Synthesizer, observer metrics.Observer, logger *slog.Logger) *Orchestrator {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		transcriber: transcriber,
		reasoner:    reasoner,
		synthesizer: synthesizer,
		observer:    observer,
		logger:      logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// RunVoiceTurn processes a finished utterance blob. The session must be in
// the listening phase. Stage failures surface as one error notice plus one
// idle notice; the turn counter is only touched on success.
func (o *Orchestrator) RunVoiceTurn(ctx context.Context, sess *session.Session, sender Sender, blob []byte) error {
	if err := sess.Machine.Transition(session.StateProcessing, "utterance received"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonInvalidState)
	}
	o.notifyState(sender, protocol.StateNotice{State: protocol.StateProcessing})
	started := time.Now()
	o.record("turn_started", sess.ID, 0, nil)

	text, err := o.transcribe(ctx, sess, blob)
	if err != nil {
		return o.failTurn(sess, sender, err, errorsx.ReasonTranscriptionFailed)
	}
	if err := sender.Send(protocol.Transcription{Text: text}); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}

	history := historyFrom(sess)
	sess.Append(session.RoleUser, text)
	o.logger.Info("utterance_transcribed",
		slog.String("session_id", sess.ID),
		slog.String("text", redact.Text(text)),
	)

	reply, err := o.generate(ctx, sess, history, text)
	if err != nil {
		return o.failTurn(sess, sender, err, errorsx.ReasonReasoningFailed)
	}

	return o.speak(ctx, sess, sender, reply, started)
}

// RunTextTurn processes an already-transcribed utterance, skipping capture
// and transcription. The session must be idle; the reply text goes out as a
// transcription notice before synthesis starts.
func (o *Orchestrator) RunTextTurn(ctx context.Context, sess *session.Session, sender Sender, text string) error {
	if err := sess.Machine.StartTurn(session.StateProcessing, "text message"); err != nil {
		return err
	}
	o.notifyState(sender, protocol.StateNotice{State: protocol.StateProcessing})
	started := time.Now()
	o.record("turn_started", sess.ID, 0, nil)

	history := historyFrom(sess)
	sess.Append(session.RoleUser, text)

	reply, err := o.generate(ctx, sess, history, text)
	if err != nil {
		return o.failTurn(sess, sender, err, errorsx.ReasonReasoningFailed)
	}
	if err := sender.Send(protocol.Transcription{Text: reply}); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}

	return o.speak(ctx, sess, sender, reply, started)
}

func (o *Orchestrator) transcribe(ctx context.Context, sess *session.Session, blob []byte) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	began := time.Now()
	text, err := o.transcriber.Transcribe(stageCtx, blob)
	o.record("stt_latency", sess.ID, time.Since(began).Seconds(), map[string]string{"provider": o.transcriber.Name()})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("no speech detected")
	}
	return text, nil
}

func (o *Orchestrator) generate(ctx context.Context, sess *session.Session, history []llm.Message, utterance string) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	began := time.Now()
	resp, err := o.reasoner.Generate(stageCtx, llm.Context{
		System:    o.cfg.SystemPrompt,
		History:   history,
		Utterance: utterance,
	})
	o.record("llm_latency", sess.ID, time.Since(began).Seconds(), map[string]string{"provider": o.reasoner.Name()})
	if err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", errors.New("empty reply")
	}
	return resp.Text, nil
}

// speak streams the synthesized reply and completes the turn. The counter
// moves exactly once, before the completion notice that releases client
// playback.
func (o *Orchestrator) speak(ctx context.Context, sess *session.Session, sender Sender, reply string, started time.Time) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	stream, err := o.synthesizer.Synthesize(stageCtx, reply)
	if err != nil {
		return o.failTurn(sess, sender, err, errorsx.ReasonSynthesisFailed)
	}

	sent := 0
	for chunk := range stream.Chunks() {
		// Zero-length fragments carry no audio and must not open the
		// speaking phase.
		if len(chunk) == 0 {
			continue
		}
		if sent == 0 {
			if err := sess.Machine.Transition(session.StateSpeaking, "first synthesis fragment"); err != nil {
				return errorsx.Wrap(err, errorsx.ReasonInvalidState)
			}
			elapsed := roundSeconds(time.Since(started))
			o.notifyState(sender, protocol.StateNotice{State: protocol.StateSpeaking, ProcessingTime: &elapsed})
			o.record("tts_first_chunk", sess.ID, time.Since(started).Seconds(), map[string]string{"provider": o.synthesizer.Name()})
		}
		for _, part := range audio.SplitChunks(chunk, o.cfg.ChunkSize) {
			if err := sender.Send(protocol.SynthesisChunk{Data: part}); err != nil {
				return errorsx.Wrap(err, errorsx.ReasonTransportSend)
			}
			sent++
		}
	}
	if err := stream.Err(); err != nil {
		return o.failTurn(sess, sender, err, errorsx.ReasonSynthesisFailed)
	}

	sess.Append(session.RoleAssistant, reply)
	count, done, err := sess.Machine.CompleteTurn()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonInvalidState)
	}
	maxTurns := sess.Machine.MaxTurns()
	o.notifyState(sender, protocol.StateNotice{State: protocol.StateIdle, Turn: &count, MaxTurns: &maxTurns})

	o.record("turn_completed", sess.ID, time.Since(started).Seconds(), map[string]string{
		"done": boolTag(done),
	})
	o.logger.Info("turn_completed",
		slog.String("session_id", sess.ID),
		slog.Int("turn", count),
		slog.Int("max_turns", maxTurns),
		slog.Int("fragments", sent),
		slog.String("reply", redact.Text(reply)),
	)
	return nil
}

// failTurn converts a stage failure into the wire sequence the client
// expects: one error notice, one idle notice, counter untouched.
func (o *Orchestrator) failTurn(sess *session.Session, sender Sender, cause error, reason errorsx.ReasonCode) error {
	wrapped := errorsx.Wrap(cause, reason)
	o.logger.Error("turn_failed",
		slog.String("session_id", sess.ID),
		slog.String("reason", string(errorsx.Reason(wrapped))),
		slog.String("error", cause.Error()),
	)
	o.record("turn_failed", sess.ID, 0, map[string]string{"reason": string(errorsx.Reason(wrapped))})

	if err := sender.Send(protocol.ErrorNotice{Message: cause.Error()}); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	if err := sess.Machine.AbortTurn("turn failed"); err != nil {
		o.logger.Warn("abort_failed", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
	}
	o.notifyState(sender, protocol.StateNotice{State: protocol.StateIdle})
	return wrapped
}

func (o *Orchestrator) notifyState(sender Sender, notice protocol.StateNotice) {
	if err := sender.Send(notice); err != nil {
		o.logger.Warn("state_notice_send_failed", slog.String("state", notice.State), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) record(name, sessionID string, value float64, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["session_id"] = sessionID
	o.observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}

// historyFrom snapshots the transcript as reasoning history before the
// current utterance is appended.
func historyFrom(sess *session.Session) []llm.Message {
	transcript := sess.Transcript()
	history := make([]llm.Message, 0, len(transcript))
	for _, u := range transcript {
		history = append(history, llm.Message{Role: u.Role, Content: u.Text})
	}
	return history
}

// roundSeconds matches the millisecond precision clients display.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
