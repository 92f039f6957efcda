// Package eventlog provides the session journal. Candle, microphone and sync
// events of every room are written to a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Candle event types.
const (
	BlowDetected EventType = "blow_detected"
	CandleOut    EventType = "candle_out"
	CandlesRelit EventType = "candles_relit"
	AllOut       EventType = "all_out"
)

// Microphone event types.
const (
	MicEnabled  EventType = "mic_enabled"
	MicDisabled EventType = "mic_disabled"
	MicFailed   EventType = "mic_failed"
)

// Sync event types.
const (
	RemoteWriteFailed EventType = "remote_write_failed"
	RemoteReadFailed  EventType = "remote_read_failed"
	RemoteSynced      EventType = "remote_synced"
	GuestbookAdded    EventType = "guestbook_added"
)

// Event represents a single journal entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Room      string    `json:"room,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// CandleDetails contains candle-specific event details.
type CandleDetails struct {
	CandleIndex int     `json:"candle_index"`
	LitCount    int     `json:"lit_count"`
	Level       float64 `json:"level,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// SyncDetails contains row store event details.
type SyncDetails struct {
	EventID string `json:"event_id,omitempty"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific journal path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "candles", "logs", fmt.Sprintf("%d", port), "journal.jsonl")
	default:
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/candles", fmt.Sprintf("%d", port), "journal.jsonl")
	}
}

// NewLogger opens (or creates) the journal at filePath.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the journal.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// Close closes the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the journal file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterCandles TypeFilter = "candles"
	FilterMic     TypeFilter = "mic"
	FilterSync    TypeFilter = "sync"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events newest first, skipping offset matching
// events, and reports whether more matching events exist. Malformed lines
// are skipped. A missing file reads as empty.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t belongs to the filter's category.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterCandles:
		return IsCandleEvent(t)
	case FilterMic:
		return IsMicEvent(t)
	case FilterSync:
		return IsSyncEvent(t)
	default:
		return true
	}
}

// IsCandleEvent returns true if the event type is a candle event.
func IsCandleEvent(t EventType) bool {
	return t == BlowDetected || t == CandleOut || t == CandlesRelit || t == AllOut
}

// IsMicEvent returns true if the event type is a microphone event.
func IsMicEvent(t EventType) bool {
	return t == MicEnabled || t == MicDisabled || t == MicFailed
}

// IsSyncEvent returns true if the event type is a row store event.
func IsSyncEvent(t EventType) bool {
	return t == RemoteWriteFailed || t == RemoteReadFailed || t == RemoteSynced || t == GuestbookAdded
}
