package audio

import (
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Device represents an available audio input device.
type Device = types.AudioDevice

// Sample is the loudness of one capture window.
type Sample struct {
	// RMS is the root-mean-square of the window, normalised to [0, 1].
	RMS float64
	// At is the capture time of the last frame in the window.
	At time.Time
}
