// Package observers contains metrics.Observer implementations: a per-turn
// latency breakdown, a debug logger sink, and a fan-out combinator.
package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/metrics"
)

// LatencyObserver assembles per-turn stage timings from pipeline events and
// logs one breakdown line when the turn settles. Turns are keyed by session
// so concurrent sessions do not mix.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	started    time.Time
	sttSeconds float64
	llmSeconds float64
	firstChunk time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.turns[sessionID]
	if t == nil {
		t = &turnTrace{}
		o.turns[sessionID] = t
	}
	switch ev.Name {
	case "turn_started":
		t.started = ev.Time
		t.sttSeconds = 0
		t.llmSeconds = 0
		t.firstChunk = time.Time{}
	case "stt_latency":
		t.sttSeconds = ev.Value
	case "llm_latency":
		t.llmSeconds = ev.Value
	case "tts_first_chunk":
		if t.firstChunk.IsZero() {
			t.firstChunk = ev.Time
		}
	case "turn_completed":
		o.log.Info("turn_latency",
			"session_id", sessionID,
			"stt_ms", int64(t.sttSeconds*1000),
			"llm_ms", int64(t.llmSeconds*1000),
			"first_chunk_ms", sinceMs(t.started, t.firstChunk),
			"total_ms", int64(ev.Value*1000),
		)
		delete(o.turns, sessionID)
	case "turn_failed":
		delete(o.turns, sessionID)
	}
}

func sinceMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
