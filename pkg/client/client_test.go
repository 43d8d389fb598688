package client

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/endpoint"
	"github.com/voxwire/voxwire/pkg/protocol"
	"github.com/voxwire/voxwire/pkg/session"
)

type fakeRenderer struct {
	mu      sync.Mutex
	renders [][]float32
	rate    int
}

func (f *fakeRenderer) Render(samples []float32, sampleRate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, samples)
	f.rate = sampleRate
	return nil
}

func (f *fakeRenderer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders)
}

func TestFragmentQueueBounds(t *testing.T) {
	q := NewFragmentQueue(3)
	for i := 0; i < 3; i++ {
		if !q.TryPush([]byte{byte(i)}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if q.TryPush([]byte{9}) {
		t.Fatalf("overflow push must be rejected")
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped: %d", q.Dropped())
	}

	frags := q.Flush()
	if len(frags) != 3 {
		t.Fatalf("flush: %d", len(frags))
	}
	if q.Len() != 0 {
		t.Fatalf("queue must be empty after flush")
	}
	// Flush opened room again.
	if !q.TryPush([]byte{4}) {
		t.Fatalf("push after flush rejected")
	}
}

func TestReconstructorSingleDecode(t *testing.T) {
	r := &fakeRenderer{}
	recon := NewReconstructor(r, audio.DefaultSampleRate)

	samples := make([]int16, 48000)
	for i := range samples {
		samples[i] = int16(i%2000 - 1000)
	}
	pcm := audio.Int16ToBytes(samples)

	if err := recon.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, frag := range audio.SplitChunks(pcm, 16000*2) {
		recon.Append(frag)
	}
	if err := recon.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if r.count() != 1 {
		t.Fatalf("expected one render, got %d", r.count())
	}
	got := r.renders[0]
	if len(got) != len(samples) {
		t.Fatalf("sample count %d != %d", len(got), len(samples))
	}
	// Bit-exact: reconstruct the byte stream from the rendered floats.
	back := make([]int16, len(got))
	for i, f := range got {
		back[i] = int16(f * 32768.0)
	}
	if !bytes.Equal(audio.Int16ToBytes(back), pcm) {
		t.Fatalf("byte stream altered by reconstruction")
	}
}

func TestReconstructorEmptyWindowIsNoop(t *testing.T) {
	r := &fakeRenderer{}
	recon := NewReconstructor(r, audio.DefaultSampleRate)
	if err := recon.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := recon.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.count() != 0 {
		t.Fatalf("zero-fragment reply must not render")
	}
}

func TestReconstructorRejectsSecondWindow(t *testing.T) {
	recon := NewReconstructor(&fakeRenderer{}, audio.DefaultSampleRate)
	if err := recon.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := recon.Begin(); err != ErrReconstructionActive {
		t.Fatalf("expected ErrReconstructionActive, got %v", err)
	}
	recon.Abort()
	if err := recon.Begin(); err != nil {
		t.Fatalf("begin after abort: %v", err)
	}
}

func TestReconstructorDropsFragmentsOutsideWindow(t *testing.T) {
	r := &fakeRenderer{}
	recon := NewReconstructor(r, audio.DefaultSampleRate)
	recon.Append([]byte{1, 2, 3, 4})
	if err := recon.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := recon.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.count() != 0 {
		t.Fatalf("stray fragments must not render")
	}
}

func testClient(renderer Renderer) *Client {
	return &Client{
		cfg:      Config{MaxTurns: 2, SampleRate: audio.DefaultSampleRate}.withDefaults(),
		logger:   slog.Default(),
		mirror:   session.NewMachine(2),
		detector: endpoint.NewDetector(endpoint.Config{}),
		recon:    NewReconstructor(renderer, audio.DefaultSampleRate),
		done:     make(chan struct{}),
	}
}

func TestMirrorCountsBeforePlayback(t *testing.T) {
	r := &fakeRenderer{}
	c := testClient(r)
	if err := c.mirror.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var orderMu sync.Mutex
	var turnAtPlayback int
	blocking := make(chan struct{})
	c.handlers.OnTurnComplete = func(turn, max int) {
		orderMu.Lock()
		turnAtPlayback = turn
		orderMu.Unlock()
		close(blocking)
	}

	c.dispatch(protocol.StateNotice{State: protocol.StateProcessing})
	c.dispatch(protocol.StateNotice{State: protocol.StateSpeaking})
	c.dispatch(protocol.SynthesisChunk{Data: make([]byte, 4096)})
	one := 1
	c.dispatch(protocol.StateNotice{State: protocol.StateIdle, Turn: &one})

	<-blocking
	c.playback.Wait()

	orderMu.Lock()
	defer orderMu.Unlock()
	if turnAtPlayback != 1 {
		t.Fatalf("counter must read 1 when the turn settles, got %d", turnAtPlayback)
	}
	if c.mirror.Turns() != 1 {
		t.Fatalf("mirror turns: %d", c.mirror.Turns())
	}
	if r.count() != 1 {
		t.Fatalf("playback renders: %d", r.count())
	}
}

func TestOutOfOrderChunkForcesSpeaking(t *testing.T) {
	r := &fakeRenderer{}
	c := testClient(r)
	if err := c.mirror.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Chunk arrives before any speaking notice.
	c.dispatch(protocol.SynthesisChunk{Data: make([]byte, 1024)})
	if c.mirror.State() != session.StateSpeaking {
		t.Fatalf("mirror must be forced to speaking, got %s", c.mirror.State())
	}
	if !c.recon.Active() {
		t.Fatalf("reconstruction window must open for the stray chunk")
	}

	c.dispatch(protocol.StateNotice{State: protocol.StateIdle})
	c.playback.Wait()
	if r.count() != 1 {
		t.Fatalf("forced window must still play, renders=%d", r.count())
	}
}

func TestErrorNoticeAbortsReconstruction(t *testing.T) {
	r := &fakeRenderer{}
	c := testClient(r)
	if err := c.mirror.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var gotError string
	c.handlers.OnError = func(msg string) { gotError = msg }

	c.dispatch(protocol.StateNotice{State: protocol.StateProcessing})
	c.dispatch(protocol.StateNotice{State: protocol.StateSpeaking})
	c.dispatch(protocol.SynthesisChunk{Data: make([]byte, 2048)})
	c.dispatch(protocol.ErrorNotice{Message: "synthesis torn"})
	c.dispatch(protocol.StateNotice{State: protocol.StateIdle})
	c.playback.Wait()

	if gotError != "synthesis torn" {
		t.Fatalf("error handler: %q", gotError)
	}
	if r.count() != 0 {
		t.Fatalf("aborted reply must not render")
	}
	if c.mirror.Turns() != 0 {
		t.Fatalf("failed turn must not count, turns=%d", c.mirror.Turns())
	}
}

func TestRejectedCaptureBacksOut(t *testing.T) {
	r := &fakeRenderer{}
	c := testClient(r)
	if err := c.mirror.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var gotError string
	c.handlers.OnError = func(msg string) { gotError = msg }

	// The capture phase opened locally, then the server refused it.
	c.mirror.Observe(session.StateListening, "capture started")
	c.detector.Arm()
	c.dispatch(protocol.ErrorNotice{Message: "maximum turns reached"})

	if gotError != "maximum turns reached" {
		t.Fatalf("error handler: %q", gotError)
	}
	if c.mirror.State() != session.StateIdle {
		t.Fatalf("mirror must back out to idle, got %s", c.mirror.State())
	}
	if c.mirror.Turns() != 0 {
		t.Fatalf("rejected capture must not count, turns=%d", c.mirror.Turns())
	}
}

func TestMirrorDerivesCompleted(t *testing.T) {
	r := &fakeRenderer{}
	c := testClient(r)
	if err := c.mirror.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	two, max := 2, 2
	c.dispatch(protocol.StateNotice{State: protocol.StateProcessing})
	c.dispatch(protocol.StateNotice{State: protocol.StateSpeaking})
	c.dispatch(protocol.SynthesisChunk{Data: make([]byte, 512)})
	c.dispatch(protocol.StateNotice{State: protocol.StateIdle, Turn: &two, MaxTurns: &max})
	c.playback.Wait()

	if c.mirror.State() != session.StateCompleted {
		t.Fatalf("mirror must derive completed, got %s", c.mirror.State())
	}
}
