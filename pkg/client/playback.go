package client

import (
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxwire/voxwire/pkg/errorsx"
)

// Renderer plays one decoded utterance. Render blocks until the audio has
// been written out.
type Renderer interface {
	Render(samples []float32, sampleRate int) error
}

// PortAudioRenderer plays through the default output device. Each render
// opens a fresh stream, feeds it from a callback, and waits on a done
// signal so the device handle never outlives the utterance.
type PortAudioRenderer struct {
	// FrameSize is the samples per output callback.
	FrameSize int
}

func NewPortAudioRenderer() (*PortAudioRenderer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}
	return &PortAudioRenderer{FrameSize: 1024}, nil
}

func (p *PortAudioRenderer) Render(samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	frameSize := p.FrameSize
	if frameSize <= 0 {
		frameSize = 1024
	}

	done := make(chan struct{}, 1)
	idx := 0
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frameSize, func(out []float32) {
		for i := range out {
			if idx < len(samples) {
				out[i] = samples[idx]
				idx++
			} else {
				out[i] = 0
			}
		}
		if idx >= len(samples) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDevicePermission)
	}

	expected := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	select {
	case <-done:
	case <-time.After(expected + expected/2 + time.Second):
	}
	return stream.Stop()
}

// Close releases the audio host.
func (p *PortAudioRenderer) Close() error {
	return portaudio.Terminate()
}
