package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/orchestrator"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/providers/mock"
)

func dialTestServer(t *testing.T, cfg Config, factory Factory) (*websocket.Conn, func()) {
	t.Helper()
	srv := New(cfg, factory, nil)
	ts := httptest.NewServer(srv)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func mockFactory(sttCfg mock.STTConfig, llmCfg mock.LLMConfig, ttsCfg mock.TTSConfig) Factory {
	return func(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(
			orchestrator.Config{},
			mock.NewTranscriber(sttCfg),
			mock.NewLLMAdapter(llmCfg),
			mock.NewSynthesizer(ttsCfg),
			nil, nil,
		), nil
	}
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	b, err := protocol.EncodeClient(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.DecodeServer(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func expectState(t *testing.T, conn *websocket.Conn, state string) protocol.StateNotice {
	t.Helper()
	msg := recv(t, conn)
	sn, ok := msg.(protocol.StateNotice)
	if !ok || sn.State != state {
		t.Fatalf("expected state %q, got %#v", state, msg)
	}
	return sn
}

func TestVoiceTurnOverWebsocket(t *testing.T) {
	factory := mockFactory(
		mock.STTConfig{Transcript: "what time is it"},
		mock.LLMConfig{ResponseText: "it is noon"},
		mock.TTSConfig{ChunkCount: 3, ChunkSize: 4096},
	)
	conn, cleanup := dialTestServer(t, Config{MaxTurns: 3}, factory)
	defer cleanup()

	expectState(t, conn, protocol.StateConnected)

	send(t, conn, protocol.StartRecording{})
	expectState(t, conn, protocol.StateListening)

	// Optional fragments during capture, then the authoritative blob.
	pcm := make([]byte, 12000)
	for _, frag := range audio.SplitChunks(pcm, 4096) {
		send(t, conn, protocol.CaptureChunk{Data: frag})
	}
	send(t, conn, protocol.StopRecording{Blob: audio.EncodeWAV(pcm, audio.DefaultSampleRate)})

	expectState(t, conn, protocol.StateProcessing)
	if tr := recv(t, conn).(protocol.Transcription); tr.Text != "what time is it" {
		t.Fatalf("transcription %+v", tr)
	}
	speaking := expectState(t, conn, protocol.StateSpeaking)
	if speaking.ProcessingTime == nil {
		t.Fatalf("speaking notice must carry processing_time")
	}
	for i := 0; i < 3; i++ {
		if _, ok := recv(t, conn).(protocol.SynthesisChunk); !ok {
			t.Fatalf("expected synthesis chunk %d", i)
		}
	}
	idle := expectState(t, conn, protocol.StateIdle)
	if idle.Turn == nil || *idle.Turn != 1 || idle.MaxTurns == nil || *idle.MaxTurns != 3 {
		t.Fatalf("idle counters %+v", idle)
	}
}

func TestTurnLimitRejectionIsIdempotent(t *testing.T) {
	factory := mockFactory(
		mock.STTConfig{Transcript: "hi"},
		mock.LLMConfig{ResponseText: "hello"},
		mock.TTSConfig{ChunkCount: 1},
	)
	conn, cleanup := dialTestServer(t, Config{MaxTurns: 1}, factory)
	defer cleanup()

	expectState(t, conn, protocol.StateConnected)

	send(t, conn, protocol.StartRecording{})
	expectState(t, conn, protocol.StateListening)
	send(t, conn, protocol.StopRecording{Blob: make([]byte, 2000)})

	// Drain the turn: processing, transcription, speaking, chunk, idle.
	expectState(t, conn, protocol.StateProcessing)
	recv(t, conn) // transcription
	expectState(t, conn, protocol.StateSpeaking)
	recv(t, conn) // chunk
	idle := expectState(t, conn, protocol.StateIdle)
	if idle.Turn == nil || *idle.Turn != 1 {
		t.Fatalf("idle counters %+v", idle)
	}

	for i := 0; i < 2; i++ {
		send(t, conn, protocol.StartRecording{})
		msg := recv(t, conn)
		en, ok := msg.(protocol.ErrorNotice)
		if !ok || !strings.Contains(en.Message, "maximum turns") {
			t.Fatalf("attempt %d: expected turn limit error, got %#v", i, msg)
		}
	}
}

func TestEmptyBlobAnswersInlineError(t *testing.T) {
	factory := mockFactory(mock.STTConfig{}, mock.LLMConfig{}, mock.TTSConfig{})
	conn, cleanup := dialTestServer(t, Config{MaxTurns: 3}, factory)
	defer cleanup()

	expectState(t, conn, protocol.StateConnected)
	send(t, conn, protocol.StartRecording{})
	expectState(t, conn, protocol.StateListening)
	send(t, conn, protocol.StopRecording{})

	if _, ok := recv(t, conn).(protocol.ErrorNotice); !ok {
		t.Fatalf("expected inline error for empty capture")
	}
	expectState(t, conn, protocol.StateIdle)

	// Session remains usable.
	send(t, conn, protocol.StartRecording{})
	expectState(t, conn, protocol.StateListening)
}

func TestUnknownAndMisorderedMessagesIgnored(t *testing.T) {
	factory := mockFactory(
		mock.STTConfig{Transcript: "hi"},
		mock.LLMConfig{ResponseText: "hello"},
		mock.TTSConfig{ChunkCount: 1},
	)
	conn, cleanup := dialTestServer(t, Config{MaxTurns: 3}, factory)
	defer cleanup()

	expectState(t, conn, protocol.StateConnected)

	// Unknown tag, malformed JSON, and capture traffic outside a capture
	// phase must all be swallowed without a reply.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"selfdestruct"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	send(t, conn, protocol.CaptureChunk{Data: []byte{1, 2, 3}})
	send(t, conn, protocol.StopRecording{Blob: []byte{1, 2}})

	// The session still works afterwards.
	send(t, conn, protocol.StartRecording{})
	expectState(t, conn, protocol.StateListening)
}

func TestTextMessagePath(t *testing.T) {
	factory := mockFactory(
		mock.STTConfig{},
		mock.LLMConfig{ResponseText: "typed reply"},
		mock.TTSConfig{ChunkCount: 2},
	)
	conn, cleanup := dialTestServer(t, Config{MaxTurns: 3}, factory)
	defer cleanup()

	expectState(t, conn, protocol.StateConnected)

	send(t, conn, protocol.TextMessage{Text: "  "})
	if en, ok := recv(t, conn).(protocol.ErrorNotice); !ok || !strings.Contains(en.Message, "empty") {
		t.Fatalf("expected empty message error")
	}

	send(t, conn, protocol.TextMessage{Text: "hello there"})
	expectState(t, conn, protocol.StateProcessing)
	if tr := recv(t, conn).(protocol.Transcription); tr.Text != "typed reply" {
		t.Fatalf("reply %+v", tr)
	}
	expectState(t, conn, protocol.StateSpeaking)
	recv(t, conn)
	recv(t, conn)
	idle := expectState(t, conn, protocol.StateIdle)
	if idle.Turn == nil || *idle.Turn != 1 {
		t.Fatalf("idle counters %+v", idle)
	}
}

func TestConnectRekeysSession(t *testing.T) {
	factory := mockFactory(mock.STTConfig{}, mock.LLMConfig{}, mock.TTSConfig{})
	srv := New(Config{MaxTurns: 2}, factory, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	expectState(t, conn, protocol.StateConnected)
	send(t, conn, protocol.Connect{ClientID: "caller-42"})
	ack := expectState(t, conn, protocol.StateConnected)
	if ack.MaxTurns == nil || *ack.MaxTurns != 2 {
		t.Fatalf("ack counters %+v", ack)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := srv.Registry().Get("caller-42"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("registry not rekeyed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
