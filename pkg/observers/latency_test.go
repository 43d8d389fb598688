package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/metrics"
)

func TestLatencyObserverEmitsBreakdown(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	o := NewLatencyObserver(log)

	start := time.Unix(100, 0)
	tags := map[string]string{"session_id": "s1"}
	o.RecordEvent(metrics.MetricsEvent{Name: "turn_started", Time: start, Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "stt_latency", Time: start.Add(300 * time.Millisecond), Value: 0.3, Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "llm_latency", Time: start.Add(800 * time.Millisecond), Value: 0.5, Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "tts_first_chunk", Time: start.Add(time.Second), Tags: tags})

	if buf.Len() != 0 {
		t.Fatalf("nothing should be logged before completion")
	}

	o.RecordEvent(metrics.MetricsEvent{Name: "turn_completed", Time: start.Add(2 * time.Second), Value: 2.0, Tags: tags})
	line := buf.String()
	if !strings.Contains(line, "turn_latency") || !strings.Contains(line, `"stt_ms":300`) {
		t.Fatalf("unexpected log line: %s", line)
	}
	if !strings.Contains(line, `"first_chunk_ms":1000`) {
		t.Fatalf("first chunk timing missing: %s", line)
	}

	o.mu.Lock()
	remaining := len(o.turns)
	o.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("completed turn must be evicted")
	}
}

func TestLatencyObserverIgnoresUntaggedEvents(t *testing.T) {
	o := NewLatencyObserver(slog.Default())
	o.RecordEvent(metrics.MetricsEvent{Name: "turn_started", Time: time.Now()})
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.turns) != 0 {
		t.Fatalf("untagged events must be dropped")
	}
}

func TestLatencyObserverEvictsFailedTurns(t *testing.T) {
	o := NewLatencyObserver(slog.Default())
	tags := map[string]string{"session_id": "s2"}
	o.RecordEvent(metrics.MetricsEvent{Name: "turn_started", Time: time.Now(), Tags: tags})
	o.RecordEvent(metrics.MetricsEvent{Name: "turn_failed", Time: time.Now(), Tags: tags})
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.turns) != 0 {
		t.Fatalf("failed turn must be evicted")
	}
}
