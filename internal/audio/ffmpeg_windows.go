//go:build windows

package audio

import (
	"strconv"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture on Windows.
// Note: -nostdin is NOT used on Windows to allow graceful shutdown via 'q' command.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	}
}
