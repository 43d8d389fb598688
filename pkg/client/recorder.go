package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/errorsx"
)

// RecorderConfig tunes the capture unit.
type RecorderConfig struct {
	SampleRate int
	// FrameSize is the samples handed to each device callback.
	FrameSize int
	// QueueDepth bounds the fragment queue between the audio thread and
	// the consumer loop.
	QueueDepth int
	// Interval is the consumer cadence, also the level sampling cadence.
	Interval time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	return c
}

// LevelFunc receives one smoothable level sample per consumer tick.
type LevelFunc func(level float64, now time.Time)

// FragmentFunc receives each assembled capture fragment, for optional
// incremental upload. May be nil.
type FragmentFunc func(frag []byte)

// Recorder captures microphone audio through portaudio. One cooperative
// consumer goroutine drains the fragment queue per tick, grows the
// utterance buffer, and feeds the level callback. Start and Stop can be
// called repeatedly on the same Recorder without leaking device handles.
type Recorder struct {
	cfg RecorderConfig

	mu        sync.Mutex
	stream    *portaudio.Stream
	queue     *FragmentQueue
	utterance []byte
	recording bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}
	return &Recorder{cfg: cfg.withDefaults()}, nil
}

// Start opens the input device and begins capturing. Device open failures
// carry the device permission reason so callers can distinguish them from
// transport trouble.
func (r *Recorder) Start(onLevel LevelFunc, onFragment FragmentFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return errors.New("already recording")
	}

	queue := NewFragmentQueue(r.cfg.QueueDepth)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), r.cfg.FrameSize, func(in []int16) {
		// Audio thread: copy out and hand off without blocking.
		queue.TryPush(audio.Int16ToBytes(in))
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}

	r.stream = stream
	r.queue = queue
	r.utterance = nil
	r.recording = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.consume(queue, r.stopCh, r.doneCh, onLevel, onFragment)
	return nil
}

// consume is the single cooperative task per capture lifecycle.
func (r *Recorder) consume(queue *FragmentQueue, stopCh, doneCh chan struct{}, onLevel LevelFunc, onFragment FragmentFunc) {
	defer close(doneCh)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			frags := queue.Flush()
			if len(frags) == 0 {
				if onLevel != nil {
					onLevel(0, now)
				}
				continue
			}
			var tick []byte
			for _, f := range frags {
				tick = append(tick, f...)
			}
			r.mu.Lock()
			r.utterance = append(r.utterance, tick...)
			r.mu.Unlock()
			if onFragment != nil {
				onFragment(tick)
			}
			if onLevel != nil {
				onLevel(audio.RMS(audio.BytesToInt16(tick)), now)
			}
		}
	}
}

// Stop ends the capture and returns the complete utterance as a WAV blob.
// Calling Stop when not recording returns nil without error.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, nil
	}
	r.recording = false
	stream := r.stream
	queue := r.queue
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stream = nil
	r.queue = nil
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	var stopErr error
	if err := stream.Stop(); err != nil {
		stopErr = err
	}
	if err := stream.Close(); err != nil && stopErr == nil {
		stopErr = err
	}

	// Pick up fragments that landed after the last tick.
	var tail []byte
	for _, f := range queue.Flush() {
		tail = append(tail, f...)
	}

	r.mu.Lock()
	pcm := append(r.utterance, tail...)
	r.utterance = nil
	r.mu.Unlock()

	if stopErr != nil {
		return nil, errorsx.Wrap(stopErr, errorsx.ReasonDevicePermission)
	}
	return audio.EncodeWAV(pcm, r.cfg.SampleRate), nil
}

// Recording reports whether a capture is in flight.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close releases the audio host. The recorder is unusable afterwards.
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil {
		_ = portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
