package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// LogCelebration appends a candles_out entry to the notification log.
func LogCelebration(logPath string, c *Celebration) error {
	return appendLogEntry(logPath, &types.CelebrationLogEntry{
		Timestamp:   timestampUTC(),
		Event:       "candles_out",
		Room:        c.Room,
		CandleCount: c.CandleCount,
		BlowCount:   c.BlowCount,
		TopActor:    c.TopActor,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.CelebrationLogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.CelebrationLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return util.WrapError("create log directory", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
