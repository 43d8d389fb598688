package endpoint

import (
	"testing"
	"time"
)

func feed(d *Detector, level float64, from time.Time, n int, step time.Duration) (bool, time.Time) {
	now := from
	for i := 0; i < n; i++ {
		if d.Observe(level, now) {
			return true, now
		}
		now = now.Add(step)
	}
	return false, now
}

func TestFiresAfterSustainedSilence(t *testing.T) {
	d := NewDetector(Config{Threshold: 0.02, SilenceDuration: 2 * time.Second, Smoothing: 1})
	d.Arm()
	start := time.Unix(0, 0)

	// 21 samples at 100ms spacing span exactly 2s of silence.
	fired, _ := feed(d, 0.001, start, 21, 100*time.Millisecond)
	if !fired {
		t.Fatalf("expected endpoint after 2s of silence")
	}
}

func TestOneShotPerArmedPeriod(t *testing.T) {
	d := NewDetector(Config{Threshold: 0.02, SilenceDuration: time.Second, Smoothing: 1})
	d.Arm()
	start := time.Unix(0, 0)
	fired, at := feed(d, 0.0, start, 30, 100*time.Millisecond)
	if !fired {
		t.Fatalf("expected fire")
	}
	if again, _ := feed(d, 0.0, at.Add(time.Second), 30, 100*time.Millisecond); again {
		t.Fatalf("detector must fire at most once per armed period")
	}

	d.Arm()
	if fired, _ = feed(d, 0.0, at.Add(time.Minute), 30, 100*time.Millisecond); !fired {
		t.Fatalf("re-arming must allow a new fire")
	}
}

func TestLoudSampleResetsWindow(t *testing.T) {
	d := NewDetector(Config{Threshold: 0.02, SilenceDuration: time.Second, Smoothing: 1})
	d.Arm()
	now := time.Unix(0, 0)

	// 900ms of silence, then speech, then the window must restart.
	for i := 0; i < 9; i++ {
		if d.Observe(0.0, now) {
			t.Fatalf("fired too early at sample %d", i)
		}
		now = now.Add(100 * time.Millisecond)
	}
	if d.Observe(0.5, now) {
		t.Fatalf("loud sample must not fire")
	}
	now = now.Add(100 * time.Millisecond)
	for i := 0; i < 9; i++ {
		if d.Observe(0.0, now) {
			t.Fatalf("window must restart after speech, fired at %d", i)
		}
		now = now.Add(100 * time.Millisecond)
	}
	if !d.Observe(0.0, now.Add(200*time.Millisecond)) {
		t.Fatalf("expected fire once full window elapses again")
	}
}

func TestInertUntilArmed(t *testing.T) {
	d := NewDetector(Config{SilenceDuration: time.Second, Smoothing: 1})
	if fired, _ := feed(d, 0.0, time.Unix(0, 0), 50, 100*time.Millisecond); fired {
		t.Fatalf("unarmed detector must never fire")
	}
	d.Arm()
	d.Disarm()
	if fired, _ := feed(d, 0.0, time.Unix(100, 0), 50, 100*time.Millisecond); fired {
		t.Fatalf("disarmed detector must never fire")
	}
}

func TestSmoothingDelaysSilence(t *testing.T) {
	d := NewDetector(Config{Threshold: 0.02, SilenceDuration: 500 * time.Millisecond, Smoothing: 0.2})
	d.Arm()
	now := time.Unix(0, 0)

	// Prime with loud speech so the EMA sits well above the threshold.
	for i := 0; i < 10; i++ {
		d.Observe(0.8, now)
		now = now.Add(100 * time.Millisecond)
	}
	// The first silent sample still smooths to 0.64, above threshold.
	if d.Observe(0.0, now) {
		t.Fatalf("smoothed level should still read as speech")
	}
}
