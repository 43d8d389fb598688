// Package server exposes the duplex voice session endpoint: a WebSocket
// upgrade path, a per-connection writer goroutine, and a read loop that
// dispatches the tagged client messages into the turn pipeline.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/logging"
	"github.com/voxwire/voxwire/pkg/orchestrator"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/session"
)

type Config struct {
	Addr           string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	MaxTurns       int      `mapstructure:"max_turns"`
	SendQueue      int      `mapstructure:"send_queue"`
	ReadLimit      int64    `mapstructure:"read_limit"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 5
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 << 20 // utterance blobs arrive base64-encoded
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Factory builds the turn pipeline for one connection.
type Factory func(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error)

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	factory  Factory
	registry *Registry
	logger   *slog.Logger
	server   *http.Server
	draining atomic.Bool
}

func New(cfg Config, factory Factory, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		factory:  factory,
		registry: NewRegistry(),
		logger:   logging.NewComponentLogger(logger, "server"),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// Start serves the endpoint until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new connections and tears down live ones.
func (s *Server) Stop() error {
	s.draining.Store(true)
	s.registry.SetDraining(true)
	if s.server != nil {
		_ = s.server.Close()
	}
	s.registry.CloseAll()
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.handleConn(conn)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.ReadLimit)
	ctx, cancel := context.WithCancel(context.Background())

	sess := session.New(s.cfg.MaxTurns)
	p := newPeer(conn, s.cfg.SendQueue)
	defer p.close()

	orch, err := s.factory(ctx, sess.ID)
	if err != nil {
		s.logger.Error("pipeline_init_failed", slog.String("error", err.Error()))
		cancel()
		return
	}

	if err := sess.Machine.Connect(); err != nil {
		cancel()
		return
	}
	s.registry.Add(sess, cancel)
	defer func() {
		sess.Machine.Disconnect("connection closed")
		s.registry.Remove(sess.ID)
	}()

	s.notify(p, protocol.StateNotice{State: protocol.StateConnected})
	s.logger.Info("session_connected", slog.String("session_id", sess.ID))

	// Fragment accounting for the optional incremental uploads. The
	// stop_recording blob is the only audio ever transcribed.
	var fragments, fragmentBytes int

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("session_closed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		msg, err := protocol.DecodeClient(raw)
		if err != nil {
			s.logger.Warn("protocol_violation",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch m := msg.(type) {
		case protocol.Connect:
			oldID := sess.ID
			sess.Rekey(m.ClientID)
			s.registry.Rekey(oldID, sess.ID)
			s.notify(p, protocol.StateNotice{State: protocol.StateConnected, Turn: intPtr(sess.Machine.Turns()), MaxTurns: intPtr(sess.Machine.MaxTurns())})

		case protocol.StartRecording:
			if err := sess.Machine.StartTurn(session.StateListening, "start_recording"); err != nil {
				if errors.Is(err, session.ErrTurnLimit) {
					s.notify(p, protocol.ErrorNotice{Message: "maximum turns reached"})
				} else {
					s.logger.Warn("start_recording_rejected",
						slog.String("session_id", sess.ID),
						slog.String("state", sess.Machine.State().String()),
					)
					s.notify(p, protocol.ErrorNotice{Message: "cannot start recording in state " + sess.Machine.State().String()})
				}
				continue
			}
			fragments, fragmentBytes = 0, 0
			s.notify(p, protocol.StateNotice{State: protocol.StateListening})

		case protocol.CaptureChunk:
			if sess.Machine.State() != session.StateListening {
				s.logger.Warn("protocol_violation",
					slog.String("session_id", sess.ID),
					slog.String("detail", "audio_chunk outside capture"),
				)
				continue
			}
			fragments++
			fragmentBytes += len(m.Data)

		case protocol.StopRecording:
			if sess.Machine.State() != session.StateListening {
				s.logger.Warn("protocol_violation",
					slog.String("session_id", sess.ID),
					slog.String("detail", "stop_recording outside capture"),
				)
				continue
			}
			if len(m.Blob) == 0 {
				s.notify(p, protocol.ErrorNotice{Message: "no audio received"})
				_ = sess.Machine.AbortTurn("empty capture")
				s.notify(p, protocol.StateNotice{State: protocol.StateIdle})
				continue
			}
			s.logger.Debug("utterance_received",
				slog.String("session_id", sess.ID),
				slog.Int("blob_bytes", len(m.Blob)),
				slog.Int("fragments", fragments),
				slog.Int("fragment_bytes", fragmentBytes),
			)
			if err := orch.RunVoiceTurn(ctx, sess, p, m.Blob); err != nil {
				s.logger.Warn("voice_turn_failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}

		case protocol.TextMessage:
			if strings.TrimSpace(m.Text) == "" {
				s.notify(p, protocol.ErrorNotice{Message: "empty message"})
				continue
			}
			if err := orch.RunTextTurn(ctx, sess, p, m.Text); err != nil {
				if errors.Is(err, session.ErrTurnLimit) {
					s.notify(p, protocol.ErrorNotice{Message: "maximum turns reached"})
					continue
				}
				s.logger.Warn("text_turn_failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}

		case protocol.UnknownClient:
			s.logger.Warn("unknown_message_type",
				slog.String("session_id", sess.ID),
				slog.String("type", m.Type),
			)
		}
	}
}

func (s *Server) notify(p *peer, msg protocol.ServerMessage) {
	if err := p.Send(msg); err != nil {
		s.logger.Warn("send_failed", slog.String("error", err.Error()))
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func intPtr(v int) *int { return &v }
