package candles

import (
	"testing"
	"time"
)

func TestBlowDetector(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	type step struct {
		rms  float64
		ms   int
		want bool
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "sustained blow past hold",
			steps: []step{
				{0.1, 0, false},
				{0.25, 300, false},
				{0.25, 600, false},
				{0.25, 1000, false},
				{0.25, 1201, true},
			},
		},
		{
			name: "exactly hold is not enough",
			steps: []step{
				{0.25, 300, false},
				{0.25, 1200, false},
				{0.25, 1201, true},
			},
		},
		{
			name: "dip resets timer",
			steps: []step{
				{0.25, 0, false},
				{0.25, 800, false},
				{0.15, 850, false},
				{0.25, 900, false},
				{0.25, 1700, false},
				{0.25, 1801, true},
			},
		},
		{
			name: "threshold itself is quiet",
			steps: []step{
				{0.2, 0, false},
				{0.2, 2000, false},
			},
		},
		{
			name: "idle after completed blow",
			steps: []step{
				{0.3, 0, false},
				{0.3, 901, true},
				{0.3, 1000, false},
				{0.3, 1800, false},
				{0.3, 1901, true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBlowDetector(DetectorConfig{Threshold: 0.2, HoldMs: 900})
			for i, s := range tt.steps {
				if got := d.Update(s.rms, at(s.ms)); got != s.want {
					t.Fatalf("step %d (rms=%v t=%dms): Update() = %v, want %v", i, s.rms, s.ms, got, s.want)
				}
			}
		})
	}
}

func TestBlowDetectorSetConfigResets(t *testing.T) {
	now := time.Now()
	d := NewBlowDetector(DetectorConfig{Threshold: 0.2, HoldMs: 900})
	d.Update(0.5, now)
	if !d.Blowing() {
		t.Fatal("Blowing() = false after loud sample")
	}

	d.SetConfig(DetectorConfig{Threshold: 0.4, HoldMs: 100})
	if d.Blowing() {
		t.Error("Blowing() = true after SetConfig")
	}
	if got := d.Config(); got.Threshold != 0.4 || got.HoldMs != 100 {
		t.Errorf("Config() = %+v", got)
	}
	if s := d.Config().Settings(); s.Threshold != 0.4 || s.HoldMs != 100 {
		t.Errorf("Settings() = %+v", s)
	}
}
