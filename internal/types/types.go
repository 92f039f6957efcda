// Package types provides shared type definitions used across the candle server.
package types

import "time"

// DefaultCandleCount is the number of candles when none is configured.
const DefaultCandleCount = 3

// AnonymousName is used for guestbook entries and blows without a name.
const AnonymousName = "Anonymous"

// BlowEvent is a recorded "candle extinguished" action. It is append-only.
type BlowEvent struct {
	ID          string    `json:"id"`           // Unique event ID (assigned on insert)
	ActorName   string    `json:"actor_name"`   // Who blew (or pressed the button)
	CandleIndex int       `json:"candle_index"` // Candle targeted by the originating session
	Room        string    `json:"room"`         // Room the event belongs to
	CreatedAt   time.Time `json:"created_at"`   // Creation time
}

// GuestbookEntry is a message left in a room's guestbook.
type GuestbookEntry struct {
	ID        string    `json:"id"`         // Unique entry ID (assigned on insert)
	Name      string    `json:"name"`       // Author display name
	Message   string    `json:"message"`    // Message text
	Room      string    `json:"room"`       // Room the entry belongs to
	CreatedAt time.Time `json:"created_at"` // Creation time
}

// Message is a note on a room's message board. Unlike guestbook entries,
// messages can be taken down again.
type Message struct {
	ID        string    `json:"id"`         // Unique message ID (assigned on insert)
	Text      string    `json:"text"`       // Message text
	Room      string    `json:"room"`       // Room the message belongs to
	CreatedAt time.Time `json:"created_at"` // Creation time
}

// ScoreEntry is the number of blows credited to one actor.
type ScoreEntry struct {
	ActorName string `json:"actor_name"`
	Count     int    `json:"count"`
}

// ChangeKind identifies which table a realtime change belongs to and
// whether a row was added or removed.
type ChangeKind string

const (
	// ChangeBlow is delivered when a blow event is inserted.
	ChangeBlow ChangeKind = "blow"
	// ChangeGuestbook is delivered when a guestbook entry is inserted.
	ChangeGuestbook ChangeKind = "guestbook"
	// ChangeMessage is delivered when a board message is posted.
	ChangeMessage ChangeKind = "message"
	// ChangeMessageDeleted is delivered when a board message is removed.
	// Only the ID and room of the message are set.
	ChangeMessageDeleted ChangeKind = "message_deleted"
)

// Change is a realtime row notification for a room.
type Change struct {
	Type    ChangeKind      `json:"type"`
	Room    string          `json:"room"`
	Blow    *BlowEvent      `json:"blow,omitempty"`
	Entry   *GuestbookEntry `json:"entry,omitempty"`
	Message *Message        `json:"message,omitempty"`
}

// SyncMode describes where a session's blow events are persisted.
type SyncMode string

const (
	// SyncRemote means an authoritative row store is configured.
	SyncRemote SyncMode = "remote"
	// SyncLocal means events are only kept in the local fallback file.
	SyncLocal SyncMode = "local"
	// SyncNone means events are not persisted at all.
	SyncNone SyncMode = "none"
)

// DetectorSettings holds the blow detector tuning.
type DetectorSettings struct {
	Threshold float64 `json:"threshold"` // RMS above which input counts as blowing
	HoldMs    int64   `json:"hold_ms"`   // Sustained duration required for one blow
}

// SessionStatus is a point-in-time view of one room session.
type SessionStatus struct {
	Room        string           `json:"room"`
	Candles     []bool           `json:"candles"` // true = lit
	LitCount    int              `json:"lit_count"`
	BlowCount   int              `json:"blow_count"` // Known events for the room
	Score       []ScoreEntry     `json:"score"`
	Mode        SyncMode         `json:"mode"`
	Live        bool             `json:"live"`
	MicEnabled  bool             `json:"mic_enabled"`
	MicActive   bool             `json:"mic_active"` // Device currently held
	MicError    string           `json:"mic_error,omitempty"`
	Blowing     bool             `json:"blowing"`
	Level       float64          `json:"level"`      // Last RMS value
	PeakLevel   float64          `json:"peak_level"` // Held RMS peak for the meter
	Detector    DetectorSettings `json:"detector"`
	RelightBase int              `json:"relight_base,omitzero"`
}

// WSStatusResponse is sent to WebSocket clients with the room status.
type WSStatusResponse struct {
	Type            string        `json:"type"` // "status"
	FFmpegAvailable bool          `json:"ffmpeg_available"`
	Session         SessionStatus `json:"session"`
	Names           []string      `json:"names"`
	From            string        `json:"from"`
	Wish            string        `json:"wish"`
	Devices         []AudioDevice `json:"devices"`
	Settings        WSSettings    `json:"settings"`
	Version         VersionInfo   `json:"version"`
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput string `json:"audio_input"` // Selected audio input device
	Platform   string `json:"platform"`    // Operating system platform
	ActorName  string `json:"actor_name"`  // Default display name for manual blows
	Admin      bool   `json:"admin"`       // Connection may change settings
}

// WSLevelsResponse is sent to clients with microphone level updates.
type WSLevelsResponse struct {
	Type  string  `json:"type"` // "levels"
	Level float64 `json:"level"`
	Peak  float64 `json:"peak"`
}

// WSChangeResponse forwards a realtime insert to WebSocket clients.
type WSChangeResponse struct {
	Type   string `json:"type"` // "change"
	Change Change `json:"change"`
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// CelebrationLogEntry is a single line in the celebration notification log.
type CelebrationLogEntry struct {
	Timestamp   string `json:"timestamp"`              // RFC3339 timestamp
	Event       string `json:"event"`                  // candles_out, test
	Room        string `json:"room,omitempty"`         // Room name
	CandleCount int    `json:"candle_count,omitempty"` // Candles in the session
	BlowCount   int    `json:"blow_count,omitempty"`   // Blows recorded for the room
	TopActor    string `json:"top_actor,omitempty"`    // Actor with the most blows
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

const (
	// InitialRetryDelay is the starting delay between reconnect attempts.
	InitialRetryDelay = 1000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between reconnect attempts.
	MaxRetryDelay = 30000 * time.Millisecond
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// RemoteWriteTimeout bounds a single fire-and-forget insert.
	RemoteWriteTimeout = 10000 * time.Millisecond
	// S3CheckTimeout bounds the startup bucket check.
	S3CheckTimeout = 10000 * time.Millisecond
)

// Audio format constants for PCM capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of captured channels (mono).
	Channels = 1
	// DefaultWindowSize is the RMS window length in samples.
	DefaultWindowSize = 2048
)
