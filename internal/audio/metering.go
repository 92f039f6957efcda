// Package audio provides microphone capture and loudness metering.
package audio

import (
	"encoding/binary"
	"math"
)

// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
const MaxSampleValue = 32768.0

// Window accumulates S16LE mono PCM into fixed-size RMS windows.
// It is not safe for concurrent use.
type Window struct {
	size        int
	sumSquares  float64
	sampleCount int
	total       int64  // samples added since creation
	carry       []byte // odd trailing byte from the previous chunk
}

// NewWindow returns a Window that completes every size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{size: size, carry: make([]byte, 0, 1)}
}

// Size returns the window length in samples.
func (w *Window) Size() int {
	return w.size
}

// Push feeds raw PCM bytes and calls emit with the RMS of every completed
// window and the total number of samples seen when that window closed.
func (w *Window) Push(buf []byte, emit func(rms float64, total int64)) {
	if len(w.carry) == 1 && len(buf) > 0 {
		pair := [2]byte{w.carry[0], buf[0]}
		w.add(int16(binary.LittleEndian.Uint16(pair[:])), emit)
		w.carry = w.carry[:0]
		buf = buf[1:]
	}

	for i := 0; i+1 < len(buf); i += 2 {
		w.add(int16(binary.LittleEndian.Uint16(buf[i:])), emit)
	}

	if len(buf)%2 == 1 {
		w.carry = append(w.carry, buf[len(buf)-1])
	}
}

func (w *Window) add(s int16, emit func(float64, int64)) {
	v := float64(s) / MaxSampleValue
	w.sumSquares += v * v
	w.sampleCount++
	w.total++

	if w.sampleCount < w.size {
		return
	}
	rms := math.Sqrt(w.sumSquares / float64(w.sampleCount))
	w.Reset()
	if emit != nil {
		emit(rms, w.total)
	}
}

// Reset clears accumulated samples for the next window.
func (w *Window) Reset() {
	w.sumSquares = 0
	w.sampleCount = 0
}
