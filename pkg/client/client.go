// Package client implements the native session client: microphone capture
// with endpoint detection, the duplex channel, a mirrored state machine
// reconciled from server notices, and reply playback.
package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/endpoint"
	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/logging"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/session"
)

// Config tunes the client.
type Config struct {
	URL      string
	ClientID string
	// MaxTurns seeds the mirror; the server's counters override it.
	MaxTurns   int
	SampleRate int
	// UploadFragments streams capture fragments as they are assembled.
	// They are an optimization only; the stop blob carries the utterance.
	UploadFragments bool
	// AutoStop finishes the capture when the endpoint detector fires.
	AutoStop bool
	Endpoint endpoint.Config
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 5
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	return c
}

// Handlers are the application callbacks. All run on the read loop except
// OnLevel, which runs on the capture consumer.
type Handlers struct {
	OnState         func(notice protocol.StateNotice)
	OnTranscription func(text string)
	OnError         func(message string)
	OnTurnComplete  func(turn, maxTurns int)
	OnLevel         func(level float64)
}

// Client is one duplex voice session.
type Client struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mirror   *session.Machine
	recorder *Recorder
	detector *endpoint.Detector
	recon    *Reconstructor

	done     chan struct{}
	once     sync.Once
	playback sync.WaitGroup
}

// Dial connects and starts the read loop. recorder and renderer may be nil
// for text-only use.
func Dial(cfg Config, recorder *Recorder, renderer Renderer, handlers Handlers, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = noopRenderer{}
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTransportClosed)
	}

	c := &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "client"),
		conn:     conn,
		mirror:   session.NewMachine(cfg.MaxTurns),
		recorder: recorder,
		detector: endpoint.NewDetector(cfg.Endpoint),
		recon:    NewReconstructor(renderer, cfg.SampleRate),
		done:     make(chan struct{}),
	}
	if err := c.mirror.Connect(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if cfg.ClientID != "" {
		if err := c.send(protocol.Connect{ClientID: cfg.ClientID}); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	go c.readLoop()
	return c, nil
}

// Mirror exposes the mirrored state machine.
func (c *Client) Mirror() *session.Machine { return c.mirror }

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// StartRecording begins a capture phase: tells the server, opens the
// device, and arms the endpoint detector. Once the mirrored counter shows
// the budget spent it returns the turn limit error without touching the
// server or the device, as many times as it is called.
func (c *Client) StartRecording() error {
	if c.recorder == nil {
		return errors.New("no recorder configured")
	}
	if c.mirror.Turns() >= c.mirror.MaxTurns() {
		return session.ErrTurnLimit
	}
	if err := c.send(protocol.StartRecording{}); err != nil {
		return err
	}

	c.detector.Arm()
	onLevel := func(level float64, now time.Time) {
		if c.handlers.OnLevel != nil {
			c.handlers.OnLevel(level)
		}
		if c.detector.Observe(level, now) && c.cfg.AutoStop {
			go func() {
				if err := c.StopRecording(); err != nil {
					c.logger.Warn("auto_stop_failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
	var onFragment FragmentFunc
	if c.cfg.UploadFragments {
		onFragment = func(frag []byte) {
			if err := c.send(protocol.CaptureChunk{Data: frag}); err != nil {
				c.logger.Warn("fragment_upload_failed", slog.String("error", err.Error()))
			}
		}
	}
	if err := c.recorder.Start(onLevel, onFragment); err != nil {
		// The server is already listening; back out so the session
		// does not wedge in a capture phase with no device.
		_ = c.send(protocol.StopRecording{})
		return err
	}
	c.mirror.Observe(session.StateListening, "capture started")
	return nil
}

// StopRecording finishes the capture and ships the complete utterance.
func (c *Client) StopRecording() error {
	if c.recorder == nil {
		return errors.New("no recorder configured")
	}
	c.detector.Disarm()
	blob, err := c.recorder.Stop()
	if err != nil {
		return err
	}
	if blob == nil {
		return nil // no capture in flight
	}
	return c.send(protocol.StopRecording{Blob: blob})
}

// SendText submits an already-typed utterance.
func (c *Client) SendText(text string) error {
	if c.mirror.Turns() >= c.mirror.MaxTurns() {
		return session.ErrTurnLimit
	}
	return c.send(protocol.TextMessage{Text: text})
}

// Close tears the session down and waits for in-flight playback.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		if c.recorder != nil {
			c.detector.Disarm()
			_, _ = c.recorder.Stop()
		}
		err = c.conn.Close()
	})
	c.playback.Wait()
	return err
}

func (c *Client) send(msg protocol.ClientMessage) error {
	b, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportClosed)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.mirror.Disconnect("channel closed")
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeServer(raw)
		if err != nil {
			c.logger.Warn("protocol_violation", slog.String("error", err.Error()))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.StateNotice:
		c.onStateNotice(m)
	case protocol.Transcription:
		if c.handlers.OnTranscription != nil {
			c.handlers.OnTranscription(m.Text)
		}
	case protocol.SynthesisChunk:
		// A fragment before its speaking notice still belongs to the
		// reply; force the mirror forward and open a window for it.
		if !c.recon.Active() {
			c.mirror.Observe(session.StateSpeaking, "fragment before speaking notice")
			if err := c.recon.Begin(); err != nil {
				c.logger.Warn("reconstruction_conflict", slog.String("error", err.Error()))
				return
			}
		}
		c.recon.Append(m.Data)
	case protocol.ErrorNotice:
		c.abortCapture()
		c.recon.Abort()
		if c.handlers.OnError != nil {
			c.handlers.OnError(m.Message)
		}
	case protocol.UnknownServer:
		c.logger.Warn("unknown_message_type", slog.String("type", m.Type))
	}
}

func (c *Client) onStateNotice(n protocol.StateNotice) {
	if n.MaxTurns != nil {
		c.mirror.SetMaxTurns(*n.MaxTurns)
	}
	switch n.State {
	case protocol.StateConnected:
		if n.Turn != nil {
			c.mirror.RecordTurn(*n.Turn)
		}
	case protocol.StateListening:
		c.mirror.Observe(session.StateListening, "server notice")
	case protocol.StateProcessing:
		c.mirror.Observe(session.StateProcessing, "server notice")
	case protocol.StateSpeaking:
		c.mirror.Observe(session.StateSpeaking, "server notice")
		if err := c.recon.Begin(); err != nil && !errors.Is(err, ErrReconstructionActive) {
			c.logger.Warn("reconstruction_begin_failed", slog.String("error", err.Error()))
		}
	case protocol.StateIdle:
		c.onIdle(n)
	case protocol.StateDisconnected:
		c.mirror.Disconnect("server notice")
	default:
		c.logger.Warn("unknown_state", slog.String("state", n.State))
	}
	if c.handlers.OnState != nil {
		c.handlers.OnState(n)
	}
}

// onIdle settles a turn. When a reply was being reconstructed, the counter
// moves first and playback starts only after the accounting is done.
func (c *Client) onIdle(n protocol.StateNotice) {
	completedReply := c.recon.Active()
	if completedReply || n.Turn != nil {
		if n.Turn != nil {
			c.mirror.RecordTurn(*n.Turn)
		} else {
			c.mirror.RecordTurn(c.mirror.Turns() + 1)
		}
	}

	if c.mirror.Turns() >= c.mirror.MaxTurns() {
		c.mirror.Observe(session.StateCompleted, "turn budget spent")
	} else {
		c.mirror.Observe(session.StateIdle, "server notice")
	}

	if completedReply || n.Turn != nil {
		if c.handlers.OnTurnComplete != nil {
			c.handlers.OnTurnComplete(c.mirror.Turns(), c.mirror.MaxTurns())
		}
	}

	if completedReply {
		c.playback.Add(1)
		go func() {
			defer c.playback.Done()
			if err := c.recon.Complete(); err != nil {
				c.logger.Warn("playback_failed", slog.String("error", err.Error()))
				if c.handlers.OnError != nil {
					c.handlers.OnError("playback failed: " + err.Error())
				}
			}
		}()
	}
}

// abortCapture backs out of a capture phase the server rejected: the device
// is released and the recorded audio dropped, so no stop blob ever goes out
// for a turn the server never opened.
func (c *Client) abortCapture() {
	if c.mirror.State() != session.StateListening {
		return
	}
	c.detector.Disarm()
	if c.recorder != nil {
		_, _ = c.recorder.Stop()
	}
	c.mirror.Observe(session.StateIdle, "capture rejected")
}

type noopRenderer struct{}

func (noopRenderer) Render([]float32, int) error { return nil }
