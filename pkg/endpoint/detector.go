// Package endpoint detects the end of a spoken utterance from a stream of
// capture level samples. The detector smooths incoming levels, and once the
// smoothed level stays below a threshold for a configured duration it fires
// exactly once per armed period.
package endpoint

import (
	"sync"
	"time"
)

// Config tunes a Detector. Zero values fall back to the defaults.
type Config struct {
	// Threshold is the normalized level below which a sample counts as
	// silence.
	Threshold float64
	// SilenceDuration is how long the smoothed level must stay below
	// Threshold before the endpoint fires.
	SilenceDuration time.Duration
	// Interval is the expected sampling cadence. It is exported for the
	// capture loop that drives Observe; the detector itself works from
	// the timestamps it is handed.
	Interval time.Duration
	// Smoothing is the EMA coefficient applied to new samples, in (0, 1].
	// The threshold comparison and the silence-window reset both operate
	// on the smoothed level, so with Smoothing below 1 a single loud raw
	// sample may not reset the window. 1 disables smoothing and makes the
	// reset react to every raw sample.
	Smoothing float64
}

const (
	defaultThreshold = 0.015
	defaultSilence   = 2 * time.Second
	defaultInterval  = 100 * time.Millisecond
	defaultSmoothing = 0.4
)

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = defaultSilence
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = defaultSmoothing
	}
	return c
}

// Detector is a one-shot silence endpoint. It is inert until Arm is called
// and fires at most once per armed period. Safe for concurrent use.
type Detector struct {
	cfg Config

	mu           sync.Mutex
	armed        bool
	fired        bool
	smoothed     float64
	haveSample   bool
	silenceSince time.Time
}

// NewDetector builds a detector with cfg, filling in defaults.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaulting.
func (d *Detector) Config() Config { return d.cfg }

// Arm starts a monitoring period, clearing any previous smoothing and
// silence progress.
func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.fired = false
	d.haveSample = false
	d.smoothed = 0
	d.silenceSince = time.Time{}
}

// Disarm stops monitoring. Subsequent samples are ignored until re-armed.
func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
}

// Observe feeds one level sample taken at now. It returns true exactly once
// per armed period, at the sample where the smoothed level has stayed below
// the threshold for the configured duration. A sample at or above the
// threshold resets the silence window immediately.
func (d *Detector) Observe(level float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed || d.fired {
		return false
	}

	if !d.haveSample {
		d.smoothed = level
		d.haveSample = true
	} else {
		a := d.cfg.Smoothing
		d.smoothed = a*level + (1-a)*d.smoothed
	}

	if d.smoothed >= d.cfg.Threshold {
		d.silenceSince = time.Time{}
		return false
	}

	if d.silenceSince.IsZero() {
		d.silenceSince = now
		return false
	}
	if now.Sub(d.silenceSince) >= d.cfg.SilenceDuration {
		d.fired = true
		return true
	}
	return false
}
