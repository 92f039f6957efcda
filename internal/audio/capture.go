package audio

import "errors"

// Capture errors.
var (
	ErrNoAudioDevice   = errors.New("no audio input device found")
	ErrCaptureNotFound = errors.New("audio capture tool not found")
)

// CaptureConfig describes how the current platform records from a microphone.
type CaptureConfig struct {
	// Command is the capture executable ("arecord" or "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured. Empty means auto-detect.
	DefaultDevice string

	// UsesFFmpeg reports whether Command should be replaced by the resolved FFmpeg path.
	UsesFFmpeg bool

	// BuildArgs returns arguments that write mono S16LE PCM to stdout.
	BuildArgs func(device string) []string
}

// BuildCaptureCommand returns the command and arguments that record from device.
// An empty device selects the platform default, or the first detected device.
func BuildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg {
		if ffmpegPath == "" {
			return "", nil, ErrCaptureNotFound
		}
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device), nil
}
