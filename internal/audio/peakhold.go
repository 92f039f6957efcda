package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak is shown before it decays.
const DefaultPeakHoldDuration = 1500 * time.Millisecond

// PeakHolder keeps the highest recent RMS for the level meter.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder returns a PeakHolder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records level at now and returns the held peak.
func (p *PeakHolder) Update(level float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// Held returns the current held peak without updating it.
func (p *PeakHolder) Held() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
