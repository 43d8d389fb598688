// Package voxwire assembles the voice session engine from configuration: it
// resolves vendor providers, wires the observers, and runs the WebSocket
// server under a drain-aware lifecycle.
package voxwire

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/voxwire/voxwire/pkg/metrics"
	"github.com/voxwire/voxwire/pkg/observers"
	"github.com/voxwire/voxwire/pkg/orchestrator"
	"github.com/voxwire/voxwire/pkg/redact"
	"github.com/voxwire/voxwire/pkg/runner"
	"github.com/voxwire/voxwire/pkg/server"
)

type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	srv       *server.Server
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	memObs    *metrics.MemoryObserver
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Observers receive every pipeline event in addition to the built-ins.
	Observers []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("voxwire_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"max_turns", cfg.Server.MaxTurns,
	)

	obsList := []metrics.Observer{observers.NewLatencyObserver(slog.Default())}
	if cfg.Observability.LogEvents {
		obsList = append(obsList, observers.NewLoggerObserver(slog.Default()))
	}
	var memObs *metrics.MemoryObserver
	if cfg.Observability.KeepInMemory {
		memObs = metrics.NewMemoryObserver()
		obsList = append(obsList, memObs)
	}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), cfg.Observability.AsyncBuffer)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	orchCfg := orchestrator.Config{
		ChunkSize:    cfg.Orchestrator.ChunkSize,
		StageTimeout: time.Duration(cfg.Orchestrator.StageTimeoutMS) * time.Millisecond,
		SystemPrompt: cfg.Orchestrator.SystemPrompt,
	}

	factory := func(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error) {
		transcriber, err := providers.BuildSTT(cfg.Vendors.STT.Provider, cfg)
		if err != nil {
			return nil, err
		}
		reasoner, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
		if err != nil {
			return nil, err
		}
		synthesizer, err := providers.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
		if err != nil {
			return nil, err
		}
		return orchestrator.New(orchCfg, transcriber, reasoner, synthesizer, asyncObs, slog.Default()), nil
	}

	srv := server.New(cfg.Server, factory, slog.Default())

	hooks := runner.Hooks{
		OnStart: func() {
			slog.Info("engine_ready",
				"addr", cfg.Server.Addr,
				"ws_path", cfg.Server.WebsocketPath,
			)
		},
		OnStop: func() {
			asyncObs.Close()
			slog.Info("shutdown",
				"goroutines", runtime.NumGoroutine(),
				"active_sessions", srv.Registry().Count(),
			)
		},
	}

	drainer := runner.DrainerFunc(func() error {
		_ = srv.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = srv.Registry().WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		providers: providers,
		srv:       srv,
		runner:    runner.NewLifecycleRunner(drainer, hooks, 30*time.Second),
		asyncObs:  asyncObs,
		memObs:    memObs,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start brings the endpoint up and blocks the runner in the background.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = e.ctx
	}
	if err := e.srv.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

// Run brings the endpoint up and blocks until ctx is canceled or Stop is
// called, then drains.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = e.ctx
	}
	if err := e.srv.Start(ctx); err != nil {
		return err
	}
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Server() *server.Server { return e.srv }

// Events exposes the captured metric events when keep_in_memory is set.
func (e *Engine) Events() []metrics.MetricsEvent {
	if e.memObs == nil {
		return nil
	}
	return e.memObs.Events
}

func SetDefaultLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
