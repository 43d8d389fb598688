package client

import (
	"errors"
	"sync"

	"github.com/voxwire/voxwire/pkg/audio"
)

// ErrReconstructionActive reports a second Begin while fragments from the
// previous reply are still accumulating. The protocol never interleaves
// replies, so this is a caller bug rather than a recoverable condition.
var ErrReconstructionActive = errors.New("reconstruction already in progress")

// Reconstructor reassembles one synthesized reply. Fragments accumulate
// between Begin and Complete; Complete performs a single decode pass and
// hands the whole utterance to the renderer at once, so playback never
// starts on a partial reply.
type Reconstructor struct {
	renderer   Renderer
	sampleRate int

	mu        sync.Mutex
	active    bool
	fragments [][]byte
	total     int
}

func NewReconstructor(renderer Renderer, sampleRate int) *Reconstructor {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Reconstructor{renderer: renderer, sampleRate: sampleRate}
}

// Begin opens an accumulation window for the next reply.
func (r *Reconstructor) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrReconstructionActive
	}
	r.active = true
	r.fragments = nil
	r.total = 0
	return nil
}

// Active reports whether a window is open.
func (r *Reconstructor) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Append adds one ordered fragment. Fragments outside a window are dropped;
// the completion notice is the only trigger for playback.
func (r *Reconstructor) Append(frag []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || len(frag) == 0 {
		return
	}
	r.fragments = append(r.fragments, frag)
	r.total += len(frag)
}

// Complete closes the window, decodes the accumulated fragments in one
// pass, and renders. A window with no fragments is a silent no-op.
func (r *Reconstructor) Complete() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	fragments := r.fragments
	total := r.total
	r.active = false
	r.fragments = nil
	r.total = 0
	r.mu.Unlock()

	if total == 0 {
		return nil
	}
	pcm := make([]byte, 0, total)
	for _, f := range fragments {
		pcm = append(pcm, f...)
	}
	samples := audio.ToFloat32(audio.BytesToInt16(pcm))
	return r.renderer.Render(samples, r.sampleRate)
}

// Abort discards the window and everything in it.
func (r *Reconstructor) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.fragments = nil
	r.total = 0
}
