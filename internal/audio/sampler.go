package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// sampleBuffer is how many RMS samples may queue before new ones are dropped.
const sampleBuffer = 8

// Sampler turns the configured microphone into a stream of RMS samples.
// Each call to Start acquires the device until its context is cancelled.
type Sampler struct {
	device     string
	ffmpegPath string
	windowSize int
}

// NewSampler returns a Sampler for device. An empty device uses the platform default.
func NewSampler(device, ffmpegPath string, windowSize int) *Sampler {
	if windowSize <= 0 {
		windowSize = types.DefaultWindowSize
	}
	return &Sampler{
		device:     device,
		ffmpegPath: ffmpegPath,
		windowSize: windowSize,
	}
}

// Start launches the capture process and returns a channel of RMS samples.
// The channel is closed when ctx is cancelled or capture stops; the device
// is released in both cases.
func (s *Sampler) Start(ctx context.Context) (<-chan Sample, error) {
	cmdName, args, err := BuildCaptureCommand(s.device, s.ffmpegPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create capture pipe", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, util.WrapError("start audio capture", err)
	}

	slog.Info("microphone capture started", "command", cmdName, "device", s.device, "window", s.windowSize)

	out := make(chan Sample, sampleBuffer)
	go func() {
		defer close(out)
		defer cancel()

		readErr := ReadSamples(ctx, stdout, s.windowSize, time.Now(), out)
		stopped := ctx.Err() != nil
		cancel()
		waitErr := cmd.Wait()

		switch {
		case stopped:
			slog.Info("microphone capture stopped")
		case readErr != nil:
			slog.Warn("microphone capture failed", "error", readErr, "stderr", util.ExtractLastError(stderr.String()))
		default:
			slog.Warn("microphone capture exited", "error", waitErr, "stderr", util.ExtractLastError(stderr.String()))
		}
	}()

	return out, nil
}

// ReadSamples reads mono S16LE PCM from r and sends one Sample per window to out.
// Sample times are derived from start and the number of frames read, so they
// follow the capture clock rather than the reader. Samples are dropped when
// out is full. It returns nil on EOF or cancellation.
func ReadSamples(ctx context.Context, r io.Reader, windowSize int, start time.Time, out chan<- Sample) error {
	window := NewWindow(windowSize)
	buf := make([]byte, window.Size()*2)
	dropped := 0

	emit := func(rms float64, total int64) {
		sample := Sample{
			RMS: rms,
			At:  start.Add(time.Duration(total) * time.Second / types.SampleRate),
		}
		select {
		case out <- sample:
		case <-ctx.Done():
		default:
			dropped++
		}
	}

	defer func() {
		if dropped > 0 {
			slog.Debug("dropped microphone samples", "count", dropped)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			window.Push(buf[:n], emit)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read pcm: %w", err)
		}
	}
}
