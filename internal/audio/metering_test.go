package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// pcm encodes samples as S16LE.
func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func repeat(v int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestWindowRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"silence", repeat(0, 16), 0},
		{"full scale negative", repeat(-32768, 8), 1},
		{"half scale", repeat(16384, 8), 0.5},
		{"alternating", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []float64
			NewWindow(len(tt.samples)).Push(pcm(tt.samples...), func(rms float64, _ int64) {
				got = append(got, rms)
			})
			if len(got) != 1 || math.Abs(got[0]-tt.want) > 1e-9 {
				t.Errorf("window RMS = %v, want [%v]", got, tt.want)
			}
		})
	}
}

func TestWindowEmitsPerWindow(t *testing.T) {
	w := NewWindow(4)
	var got []float64
	var totals []int64
	emit := func(rms float64, total int64) {
		got = append(got, rms)
		totals = append(totals, total)
	}

	w.Push(pcm(16384, 16384, 16384), emit)
	if len(got) != 0 {
		t.Fatalf("emitted %d windows before window was full", len(got))
	}
	w.Push(pcm(16384, 0, 0, 0, 0), emit)

	if len(got) != 2 {
		t.Fatalf("emitted %d windows, want 2", len(got))
	}
	if math.Abs(got[0]-0.5) > 1e-9 {
		t.Errorf("first window RMS = %v, want 0.5", got[0])
	}
	if got[1] != 0 {
		t.Errorf("second window RMS = %v, want 0", got[1])
	}
	if totals[0] != 4 || totals[1] != 8 {
		t.Errorf("totals = %v, want [4 8]", totals)
	}
}

func TestWindowHandlesSplitSamples(t *testing.T) {
	w := NewWindow(2)
	var got []float64
	data := pcm(16384, -16384)

	// Split in the middle of the first sample.
	w.Push(data[:1], func(rms float64, _ int64) { got = append(got, rms) })
	w.Push(data[1:], func(rms float64, _ int64) { got = append(got, rms) })

	if len(got) != 1 || math.Abs(got[0]-0.5) > 1e-9 {
		t.Errorf("got %v, want [0.5]", got)
	}
}

func TestReadSamplesUsesCaptureClock(t *testing.T) {
	const window = 2048
	samples := append(repeat(8192, window), repeat(0, window)...)
	out := make(chan Sample, 4)
	start := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	if err := ReadSamples(context.Background(), bytes.NewReader(pcm(samples...)), window, start, out); err != nil {
		t.Fatalf("ReadSamples() error = %v", err)
	}
	close(out)

	var got []Sample
	for s := range out {
		got = append(got, s)
	}
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if math.Abs(got[0].RMS-0.25) > 1e-9 {
		t.Errorf("first RMS = %v, want 0.25", got[0].RMS)
	}
	wantAt := start.Add(time.Duration(window) * time.Second / types.SampleRate)
	if !got[0].At.Equal(wantAt) {
		t.Errorf("first sample at %v, want %v", got[0].At, wantAt)
	}
	if want := start.Add(2 * window * time.Second / types.SampleRate); !got[1].At.Equal(want) {
		t.Errorf("second sample at %v, want %v", got[1].At, want)
	}
}

func TestReadSamplesDropsWhenFull(t *testing.T) {
	samples := repeat(100, 16*4)
	out := make(chan Sample, 1)

	if err := ReadSamples(context.Background(), bytes.NewReader(pcm(samples...)), 16, time.Now(), out); err != nil {
		t.Fatalf("ReadSamples() error = %v", err)
	}
	if len(out) != 1 {
		t.Errorf("buffered %d samples, want 1", len(out))
	}
}

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	if got := p.Update(0.4, now); got != 0.4 {
		t.Errorf("Update(0.4) = %v, want 0.4", got)
	}
	if got := p.Update(0.1, now.Add(100*time.Millisecond)); got != 0.4 {
		t.Errorf("held peak = %v, want 0.4", got)
	}
	if got := p.Update(0.1, now.Add(DefaultPeakHoldDuration+time.Millisecond)); got != 0.1 {
		t.Errorf("decayed peak = %v, want 0.1", got)
	}
	p.Reset()
	if got := p.Held(); got != 0 {
		t.Errorf("Held() after reset = %v, want 0", got)
	}
}
