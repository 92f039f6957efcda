package candles

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Detector defaults, matching what the page ships with.
const (
	DefaultThreshold = 0.22
	DefaultHoldMs    = 800
)

// DetectorConfig holds the thresholds for blow detection.
type DetectorConfig struct {
	Threshold float64 // RMS strictly above which input counts as blowing
	HoldMs    int64   // input must stay loud strictly longer than this
}

// Settings converts the config to its wire form.
func (c DetectorConfig) Settings() types.DetectorSettings {
	return types.DetectorSettings{Threshold: c.Threshold, HoldMs: c.HoldMs}
}

// BlowDetector tracks sustained loud input and reports completed blows.
// It is safe for concurrent use.
type BlowDetector struct {
	mu        sync.Mutex
	cfg       DetectorConfig
	blowing   bool
	blowStart time.Time
}

// NewBlowDetector returns an idle detector.
func NewBlowDetector(cfg DetectorConfig) *BlowDetector {
	return &BlowDetector{cfg: cfg}
}

// Update feeds one RMS sample taken at now and reports whether it completed a
// blow. A blow completes on the first sample where the input has been above
// the threshold for strictly longer than the hold duration; the detector then
// returns to idle. Any sample at or below the threshold resets the timer.
func (d *BlowDetector) Update(rms float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rms <= d.cfg.Threshold {
		d.blowing = false
		d.blowStart = time.Time{}
		return false
	}

	if !d.blowing {
		d.blowing = true
		d.blowStart = now
		return false
	}

	if now.Sub(d.blowStart) > time.Duration(d.cfg.HoldMs)*time.Millisecond {
		d.blowing = false
		d.blowStart = time.Time{}
		return true
	}
	return false
}

// Blowing reports whether loud input is currently being sustained.
func (d *BlowDetector) Blowing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blowing
}

// Config returns the current thresholds.
func (d *BlowDetector) Config() DetectorConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig replaces the thresholds and returns the detector to idle.
func (d *BlowDetector) SetConfig(cfg DetectorConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.blowing = false
	d.blowStart = time.Time{}
}

// Reset returns the detector to idle.
func (d *BlowDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blowing = false
	d.blowStart = time.Time{}
}
